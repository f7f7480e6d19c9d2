package eap

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// AT_CLIENT_ERROR_CODE decodes to its error code and re-encodes unchanged.
func TestAttributeClientErrorCodeRoundTrip(t *testing.T) {
	a := atClientErrorCode(ClientErrorInsufficientChal)
	enc := encodeAttribute(a.Type, a.Value)
	if len(enc) != 4 {
		t.Fatalf("encoded length = %d, want 4", len(enc))
	}
	decoded, err := decodeAttributes(enc)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decoded.Get(AT_CLIENT_ERROR_CODE)
	if !ok {
		t.Fatal("AT_CLIENT_ERROR_CODE missing from decoded attributes")
	}
	if got.Type != AT_CLIENT_ERROR_CODE || len(got.Value) != 2 {
		t.Fatalf("got %+v, want type=%d lengthInBytes=4", got, AT_CLIENT_ERROR_CODE)
	}
	if code := binary.BigEndian.Uint16(got.Value); code != ClientErrorInsufficientChal {
		t.Fatalf("errorCode = %d, want %d", code, ClientErrorInsufficientChal)
	}
	if diff := cmp.Diff(enc, encodeAttribute(got.Type, got.Value)); diff != "" {
		t.Errorf("re-encoded attribute differs (-want +got):\n%s", diff)
	}
}

// A 4-byte EAP Success transitions any method to Final with a success result.
func TestEapSuccessTransitionsToFinal(t *testing.T) {
	m := NewSIM(&SimConfig{}, []byte("id"), fakeAuthenticator{})
	success := &Message{Code: CodeSuccess, Identifier: 7}
	if enc := success.Encode(); len(enc) != 4 {
		t.Fatalf("encoded Success length = %d, want 4", len(enc))
	}
	result := m.Process(success)
	if result.Kind != KindSuccess {
		t.Fatalf("result.Kind = %v, want KindSuccess", result.Kind)
	}
	if m.CurrentState() != StateFinal {
		t.Fatalf("state = %v, want StateFinal", m.CurrentState())
	}
}

// A Notification Request always yields the canonical Response and leaves
// state unchanged, regardless of which method is running.
func TestEapNotificationResponse(t *testing.T) {
	req := &Message{Code: CodeRequest, Identifier: 9, Type: TypeNotification, Data: []byte{0xAA, 0xBB, 0xCC}}
	m := NewSIM(&SimConfig{}, []byte("id"), fakeAuthenticator{})
	before := m.CurrentState()

	result := m.Process(req)
	if result.Kind != KindResponse {
		t.Fatalf("result.Kind = %v, want KindResponse", result.Kind)
	}
	want := NotificationResponse(9).Encode()
	if diff := cmp.Diff(want, result.Response); diff != "" {
		t.Errorf("notification response differs (-want +got):\n%s", diff)
	}
	if len(want) != 5 {
		t.Fatalf("canonical response length = %d, want 5", len(want))
	}
	if m.CurrentState() != before {
		t.Fatalf("state changed from %v to %v on a Notification", before, m.CurrentState())
	}
}

// A TTLS config whose inner config itself configures TTLS is rejected.
func TestTTLSConfigRejectsNestedTTLS(t *testing.T) {
	cfg := &SessionConfig{
		Identity: []byte("id"),
		TTLS: &TTLSConfig{
			Inner: &SessionConfig{
				TTLS: &TTLSConfig{},
			},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a nested EAP-TTLS inner configuration")
	}
}

type fakeAuthenticator struct{}

func (fakeAuthenticator) Authenticate(appType AppType, rand, autn []byte) (*Vector, error) {
	return &Vector{Response: []byte("sres"), Kc: make([]byte, 8)}, nil
}
