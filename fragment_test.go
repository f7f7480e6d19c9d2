package ike

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
)

// fragmentTestTkm builds a Tkm around a real AEAD cipher suite with
// random symmetric keys, good enough to exercise EncryptMacFragment and
// VerifyDecryptFragment without running a full IKE_SA_INIT exchange.
func fragmentTestTkm(t *testing.T) *Tkm {
	t.Helper()
	suite, err := crypto.NewCipherSuite(protocol.IKE_AES_GCM_16_DH_2048)
	if err != nil {
		t.Fatalf("build cipher suite: %v", err)
	}
	skE := make([]byte, suite.KeyLen+4) // AES key || 4-byte salt (RFC 5282 §4)
	if _, err := rand.Read(skE); err != nil {
		t.Fatal(err)
	}
	return &Tkm{suite: suite, isInitiator: true, skEi: skE, skEr: skE}
}

func bigNotifyPayload(size int) *protocol.NotifyPayload {
	data := make([]byte, size)
	rand.Read(data)
	return &protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		NotificationType: protocol.NotificationType(16384),
		Data:             data,
	}
}

func TestEncodeFragmentsRoundTrip(t *testing.T) {
	tkm := fragmentTestTkm(t)
	notify := bigNotifyPayload(3000)
	payloads := protocol.MakePayloads()
	payloads.Add(notify)

	header := &protocol.IkeHeader{
		SpiI:         protocol.Spi{1, 2, 3, 4, 5, 6, 7, 8},
		SpiR:         protocol.Spi{8, 7, 6, 5, 4, 3, 2, 1},
		ExchangeType: protocol.INFORMATIONAL,
		MsgId:        7,
	}

	frags, err := encodeFragments(tkm, header, payloads)
	if err != nil {
		t.Fatalf("encodeFragments: %v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("expected a 3000-byte payload to need multiple fragments, got %d", len(frags))
	}
	for i, raw := range frags {
		if len(raw) > maxFragmentWireSize {
			t.Errorf("fragment %d is %d bytes, over the %d budget", i, len(raw), maxFragmentWireSize)
		}
	}

	o := &Session{tkm: tkm}
	var final *Message
	for i, raw := range frags {
		msg, err := protocol.DecodeMessage(raw)
		if err != nil {
			t.Fatalf("fragment %d: DecodeMessage: %v", i, err)
		}
		if msg.IkeHeader.NextPayload != protocol.PayloadTypeSKF {
			t.Fatalf("fragment %d: NextPayload = %v, want SKF", i, msg.IkeHeader.NextPayload)
		}
		err = o.reassembleFragment(msg)
		if i < len(frags)-1 {
			if err != errFragmentPending {
				t.Fatalf("fragment %d: got err %v, want errFragmentPending", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("final fragment: reassembleFragment: %v", err)
		}
		final = msg
	}

	got, ok := final.Payloads.Get(protocol.PayloadTypeN).(*protocol.NotifyPayload)
	if !ok {
		t.Fatal("reassembled message missing Notify payload")
	}
	if !bytes.Equal(got.Data, notify.Data) {
		t.Fatal("reassembled notify data does not match original")
	}
	if o.fragIn[header.MsgId] != nil {
		t.Fatal("reassembly state not cleared after completion")
	}
}

func TestReassembleFragmentDuplicateIsIdempotent(t *testing.T) {
	tkm := fragmentTestTkm(t)
	notify := bigNotifyPayload(2500)
	payloads := protocol.MakePayloads()
	payloads.Add(notify)
	header := &protocol.IkeHeader{ExchangeType: protocol.INFORMATIONAL, MsgId: 3}

	frags, err := encodeFragments(tkm, header, payloads)
	if err != nil {
		t.Fatalf("encodeFragments: %v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("need at least 2 fragments for this test, got %d", len(frags))
	}

	o := &Session{tkm: tkm}
	first, err := protocol.DecodeMessage(frags[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := o.reassembleFragment(first); err != errFragmentPending {
		t.Fatalf("got %v, want errFragmentPending", err)
	}
	// redeliver the same fragment; it must not disturb the part count
	dup, err := protocol.DecodeMessage(frags[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := o.reassembleFragment(dup); err != errFragmentPending {
		t.Fatalf("duplicate fragment: got %v, want errFragmentPending", err)
	}
	if got := len(o.fragIn[header.MsgId].parts); got != 1 {
		t.Fatalf("reassembly has %d parts after a duplicate delivery, want 1", got)
	}
}

func TestReassembleFragmentRejectsOutOfRangeNumber(t *testing.T) {
	tkm := fragmentTestTkm(t)
	notify := bigNotifyPayload(2500)
	payloads := protocol.MakePayloads()
	payloads.Add(notify)
	header := &protocol.IkeHeader{ExchangeType: protocol.INFORMATIONAL, MsgId: 9}

	frags, err := encodeFragments(tkm, header, payloads)
	if err != nil {
		t.Fatalf("encodeFragments: %v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("need at least 2 fragments for this test, got %d", len(frags))
	}

	// corrupt the second fragment's Total Fragments field to claim fewer
	// fragments than it declared in the set (total=1 but fragNum=2).
	corrupt := append([]byte{}, frags[1]...)
	body := corrupt[protocol.IKE_HEADER_LEN:]
	body[protocol.PAYLOAD_HEADER_LENGTH+2] = 0
	body[protocol.PAYLOAD_HEADER_LENGTH+3] = 1

	o := &Session{tkm: tkm}
	msg, err := protocol.DecodeMessage(corrupt)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.reassembleFragment(msg); err == nil {
		t.Fatal("expected an error for a fragment number greater than total fragments")
	}
}
