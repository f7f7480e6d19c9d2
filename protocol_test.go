package ike

import (
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/packets"
)

// captured from a real IKE_SA_INIT request; cleartext, so it round-trips
// through DecodeMessage/Encode without a Tkm.
var saInitHex = `
92 8f 3f 58 1f 05 a5 63  00 00 00 00 00 00 00 00
21 20 22 08 00 00 00 00  00 00 01 a8 22 00 00 60
02 00 00 34 01 01 08 04  92 8f 3f 58 1f 05 a5 63
03 00 00 0c 01 00 00 17  80 0e 01 00 03 00 00 08
02 00 00 05 03 00 00 08  03 00 00 0c 00 00 00 08
04 00 00 0e 00 00 00 28  02 03 04 03 13 5a a9 69
03 00 00 0c 01 00 00 17  80 0e 01 00 03 00 00 08
05 00 00 01 00 00 00 08  03 00 00 0c 28 00 01 08
00 0e 00 00 ed cf 56 38  1a 58 71 62 48 fc b5 89
0d f2 08 19 91 af f3 16  39 1c 2f 16 80 ef 88 49
21 76 38 40 98 4d 44 73  71 ed 59 05 35 44 90 a0
2f ef f0 5a 0e 99 c9 e6  f0 06 d4 c2 e3 03 ab 62
01 7f 5b 34 94 ca 7d 30  7e 41 9a b2 96 21 e1 68
e3 da f1 66 4e 88 13 14  8f b0 9e a3 88 d7 7d 92
28 11 8e 47 67 d4 e5 f4  80 ce 22 ae 1f 70 c3 b0
eb 59 e5 c7 26 0d f9 69  81 96 e9 81 17 7a a2 55
2b a6 40 f0 cd 12 34 16  7b 9a ac 3d ca b2 07 39
cf cc 95 17 28 6b 79 5d  6b d5 03 36 50 a6 15 18
81 ae 8c d8 8d ec 42 5d  40 e2 96 0d d9 fe c0 3c
ef 8b 2e 3f 41 50 66 ad  00 bf df 6c 22 e4 1c b6
ad 2e 4f c7 7d 89 10 8d  b4 25 23 6e a9 b7 d7 d8
40 9a 53 04 31 33 c1 87  25 5c c0 fb 40 86 10 a9
f2 c2 98 98 2b fd 26 87  4c 57 b5 1f 38 dc 7f fc
6b f8 a4 cb 91 33 45 aa  aa a8 33 ff b9 33 51 aa
b6 7a f6 83 00 00 00 24  63 a0 2b 62 47 56 80 de
1c 50 af 97 a8 2a 7a bd  8d 46 4d 95 11 f8 7a c8
6a 3e 1e 42 17 40 5a fa
`

func TestDecodeEncodeIkeSaInit(t *testing.T) {
	dec := packets.Hexit(saInitHex).Bytes()

	msg, err := protocol.DecodeMessage(dec)
	if err != nil {
		t.Fatal(err)
	}
	if msg.IkeHeader.ExchangeType != protocol.IKE_SA_INIT {
		t.Fatalf("exchange type = %s, want IKE_SA_INIT", msg.IkeHeader.ExchangeType)
	}
	if msg.IkeHeader.Flags.IsResponse() {
		t.Fatal("expected a request, not a response")
	}

	enc, err := msg.Encode(nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(dec, enc); diff != "" {
		t.Errorf("re-encoded bytes differ (-want +got):\n%s", diff)
	}
}

func TestInitParamsRoundTrip(t *testing.T) {
	dec := packets.Hexit(saInitHex).Bytes()
	msg, err := protocol.DecodeMessage(dec)
	if err != nil {
		t.Fatal(err)
	}

	init, err := initParamsFromMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if init.dhPublic == nil || init.dhPublic.Cmp(big.NewInt(0)) == 0 {
		t.Fatal("expected a non-zero DH public value")
	}
	if init.nonce == nil {
		t.Fatal("expected a nonce")
	}
	if len(init.proposals) == 0 {
		t.Fatal("expected at least one SA proposal")
	}

	rebuilt := makeInit(init)
	if rebuilt.IkeHeader.ExchangeType != protocol.IKE_SA_INIT {
		t.Fatalf("rebuilt exchange type = %s, want IKE_SA_INIT", rebuilt.IkeHeader.ExchangeType)
	}
	if rebuilt.Payloads.Get(protocol.PayloadTypeSA) == nil {
		t.Fatal("rebuilt message missing SA payload")
	}
	if rebuilt.Payloads.Get(protocol.PayloadTypeKE) == nil {
		t.Fatal("rebuilt message missing KE payload")
	}
}

func TestCookieIsFirstPayload(t *testing.T) {
	spi := MakeSpi()
	p := &initParams{
		spiI:      spi[:],
		spiR:      make([]byte, 8),
		proposals: ProposalFromTransform(protocol.IKE, protocol.IKE_AES_GCM_16_DH_2048, spi[:]),
		cookie:    []byte{1, 2, 3, 4},
		dhPublic:  big.NewInt(42),
		nonce:     big.NewInt(1234567890),
	}
	m := makeInit(p)
	first := m.Payloads.Array[0]
	notif, ok := first.(*protocol.NotifyPayload)
	if !ok || notif.NotificationType != protocol.COOKIE {
		t.Fatalf("first payload = %T, want a COOKIE notify", first)
	}
}
