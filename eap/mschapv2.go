package eap

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// mschapv2OpCode is the inner framing byte MS-CHAP-v2-over-EAP nests inside
// every EAP type 26 message (draft-kamath-pppext-eap-mschapv2 §2).
type mschapv2OpCode uint8

const (
	opChallenge      mschapv2OpCode = 1
	opResponse       mschapv2OpCode = 2
	opSuccess        mschapv2OpCode = 3
	opFailure        mschapv2OpCode = 4
	opChangePassword mschapv2OpCode = 5
)

type mschapv2InnerState uint8

const (
	mschapv2AwaitChallenge mschapv2InnerState = iota
	mschapv2AwaitOutcome
	mschapv2Acked
)

// MSCHAPv2 implements EAP-MSCHAPv2: Created -> AwaitChallenge ->
// AwaitOutcome -> Acked -> Final. RFC 2759 supplies the challenge/response
// and master-key arithmetic; RFC 3079 §3.4 supplies the MSK/EMSK handoff.
type MSCHAPv2 struct {
	base
	inner mschapv2InnerState

	cfg *MSCHAPv2Config

	authChallenge []byte
	peerChallenge []byte
	ntResponse    []byte
}

func NewMSCHAPv2(cfg *MSCHAPv2Config) *MSCHAPv2 {
	return &MSCHAPv2{cfg: cfg, inner: mschapv2AwaitChallenge}
}

func (m *MSCHAPv2) Process(msg *Message) Result {
	if r, ok := m.handleCommon(msg); ok {
		return r
	}
	if wrongCode(msg, CodeRequest) {
		return Error(errors.New("expected an EAP-MSCHAPv2 Request"))
	}
	if msg.Type != TypeMSCHAPV2 {
		return Error(errors.Errorf("expected EAP type MSCHAPv2, got %d", msg.Type))
	}
	if len(msg.Data) < 4 {
		return Error(errors.New("EAP-MSCHAPv2: truncated inner header"))
	}
	op := mschapv2OpCode(msg.Data[0])
	innerID := msg.Data[1]
	msLen := binary.BigEndian.Uint16(msg.Data[2:4])
	if int(msLen) > len(msg.Data) {
		return Error(errors.New("EAP-MSCHAPv2: inner length overruns frame"))
	}
	body := msg.Data[4:msLen]

	switch m.inner {
	case mschapv2AwaitChallenge:
		if op != opChallenge {
			return Error(errors.Errorf("EAP-MSCHAPv2: expected Challenge, got opcode %d", op))
		}
		return m.processChallenge(msg.Identifier, innerID, body)
	case mschapv2AwaitOutcome:
		switch op {
		case opSuccess:
			return m.processSuccess(msg.Identifier, innerID, body)
		case opFailure:
			m.state = StateFinal
			return Failure()
		default:
			return Error(errors.Errorf("EAP-MSCHAPv2: expected Success/Failure, got opcode %d", op))
		}
	default:
		return Error(errors.New("EAP-MSCHAPv2: Request received after outcome acknowledged"))
	}
}

// processChallenge implements RFC 2759 §8.1's Challenge-Response.
func (m *MSCHAPv2) processChallenge(eapID, innerID uint8, body []byte) Result {
	if len(body) < 1 || int(body[0]) != 16 || len(body) < 1+16 {
		return Error(errors.New("EAP-MSCHAPv2: malformed Challenge"))
	}
	m.authChallenge = append([]byte{}, body[1:17]...)

	peerChallenge := make([]byte, 16)
	if _, err := randRead(peerChallenge); err != nil {
		return Error(err)
	}
	m.peerChallenge = peerChallenge
	m.ntResponse = generateNTResponse(m.authChallenge, peerChallenge, m.cfg.Username, m.cfg.Password)

	value := make([]byte, 49)
	copy(value[0:16], peerChallenge)
	copy(value[24:48], m.ntResponse)

	data := mschapv2Frame(opResponse, innerID, append([]byte{49}, append(value, []byte(m.cfg.Username)...)...))
	m.inner = mschapv2AwaitOutcome
	return Response((&Message{Code: CodeResponse, Identifier: eapID, Type: TypeMSCHAPV2, Data: data}).Encode())
}

// processSuccess implements RFC 2759 §8.3: verify the server's
// Authenticator Response embedded in the "S=<40 hex>" success message,
// then ack with an empty Success response.
func (m *MSCHAPv2) processSuccess(eapID, innerID uint8, body []byte) Result {
	want := generateAuthenticatorResponse(m.cfg.Password, m.ntResponse, m.peerChallenge, m.authChallenge, m.cfg.Username)
	if !authenticatorResponseMatches(string(body), want) {
		m.state = StateFinal
		return Failure()
	}
	data := mschapv2Frame(opSuccess, innerID, nil)
	m.inner = mschapv2Acked
	m.msk = getMasterKey(ntPasswordHash(m.cfg.Password), m.ntResponse)
	m.emsk = nil
	return Response((&Message{Code: CodeResponse, Identifier: eapID, Type: TypeMSCHAPV2, Data: data}).Encode())
}

func mschapv2Frame(op mschapv2OpCode, innerID uint8, value []byte) []byte {
	length := 4 + len(value)
	b := make([]byte, 4, length)
	b[0] = byte(op)
	b[1] = innerID
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	return append(b, value...)
}

// authenticatorResponseMatches parses the "S=<40 hex digits>" field out of
// a Success message per RFC 2759 §8.3 and compares it case-insensitively.
func authenticatorResponseMatches(message string, want []byte) bool {
	idx := strings.Index(message, "S=")
	if idx < 0 || len(message) < idx+2+40 {
		return false
	}
	hex := message[idx+2 : idx+2+40]
	gotBytes, err := decodeHex(hex)
	if err != nil {
		return false
	}
	return constantTimeEqual(gotBytes, want)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.Errorf("invalid hex digit %q", c)
	}
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
