package protocol

import (
	"net"
	"testing"

	"github.com/msgboxio/packets"
)

// Traffic selector decode (IPv4): a single selector's wire bytes decode to
// the exact logical fields RFC 7296 §3.13.1 defines for them.
func TestDecodeSelectorIPv4(t *testing.T) {
	b := packets.Hexit("070000100010fff0c0000264c0000365").Bytes()

	sel, used, err := decodeSelector(b)
	if err != nil {
		t.Fatal(err)
	}
	if used != len(b) {
		t.Fatalf("used = %d, want %d", used, len(b))
	}
	if sel.Type != TS_IPV4_ADDR_RANGE {
		t.Errorf("type = %d, want %d", sel.Type, TS_IPV4_ADDR_RANGE)
	}
	if sel.IpProtocolId != 0 {
		t.Errorf("protoId = %d, want 0", sel.IpProtocolId)
	}
	if sel.StartPort != 16 || sel.Endport != 65520 {
		t.Errorf("ports = [%d,%d], want [16,65520]", sel.StartPort, sel.Endport)
	}
	if !sel.StartAddress.Equal(net.ParseIP("192.0.2.100")) {
		t.Errorf("start address = %v, want 192.0.2.100", sel.StartAddress)
	}
	if !sel.EndAddress.Equal(net.ParseIP("192.0.3.101")) {
		t.Errorf("end address = %v, want 192.0.3.101", sel.EndAddress)
	}
}

// An invalid port range (start > end) must fail invalid-syntax.
func TestDecodeSelectorInvalidPortRange(t *testing.T) {
	b := packets.Hexit("070000102222 1111 c0000264c0000365").Bytes()
	if _, _, err := decodeSelector(b); err != ERR_INVALID_SYNTAX {
		t.Fatalf("err = %v, want ERR_INVALID_SYNTAX", err)
	}
}

// Trailing bytes appended after a single complete selector must fail
// invalid-syntax, whether caught by decodeSelector's own length guard on
// the leftover bytes or by the payload's declared-count check.
func TestTrafficSelectorPayloadRejectsTrailingBytes(t *testing.T) {
	sel := packets.Hexit("070000100010fff0c0000264c0000365").Bytes()
	b := append([]byte{1, 0, 0, 0}, sel...)
	b = append(b, 0xFF, 0xFF)

	payload := &TrafficSelectorPayload{PayloadHeader: &PayloadHeader{}}
	if err := payload.Decode(b); err != ERR_INVALID_SYNTAX {
		t.Fatalf("err = %v, want ERR_INVALID_SYNTAX", err)
	}
}

// A traffic selector payload carrying two selectors (IPv4 then IPv6, the
// default Child SA narrowing array) decodes both instead of failing after
// the first.
func TestTrafficSelectorPayloadDecodesMultipleSelectors(t *testing.T) {
	v4, err := NewSelector(TS_IPV4_ADDR_RANGE, 0, 0, 65535, net.IPv4zero, net.IPv4bcast)
	if err != nil {
		t.Fatal(err)
	}
	v6, err := NewSelector(TS_IPV6_ADDR_RANGE, 0, 0, 65535, net.IPv6zero,
		net.ParseIP("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"))
	if err != nil {
		t.Fatal(err)
	}

	tsp := NewTrafficSelectorPayload(PayloadTypeTSi, []*Selector{v4, v6})
	enc, err := tsp.Encode()
	if err != nil {
		t.Fatal(err)
	}

	decoded := &TrafficSelectorPayload{PayloadHeader: &PayloadHeader{}}
	if err := decoded.Decode(enc); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Selectors) != 2 {
		t.Fatalf("got %d selectors, want 2", len(decoded.Selectors))
	}
	if decoded.Selectors[0].Type != TS_IPV4_ADDR_RANGE || decoded.Selectors[1].Type != TS_IPV6_ADDR_RANGE {
		t.Fatalf("selector types = [%d,%d], want [%d,%d]",
			decoded.Selectors[0].Type, decoded.Selectors[1].Type, TS_IPV4_ADDR_RANGE, TS_IPV6_ADDR_RANGE)
	}
}

// NewSelector rejects start > end on both ports and addresses, and a
// selector built through it always contains itself (the narrowing
// invariant every selector satisfies reflexively).
func TestNewSelectorValidatesAndContainsItself(t *testing.T) {
	if _, err := NewSelector(TS_IPV4_ADDR_RANGE, 0, 100, 50, net.IPv4zero, net.IPv4bcast); err != ERR_INVALID_SYNTAX {
		t.Fatalf("startPort>endPort: err = %v, want ERR_INVALID_SYNTAX", err)
	}
	if _, err := NewSelector(TS_IPV4_ADDR_RANGE, 0, 0, 65535, net.IPv4bcast, net.IPv4zero); err != ERR_INVALID_SYNTAX {
		t.Fatalf("startAddr>endAddr: err = %v, want ERR_INVALID_SYNTAX", err)
	}

	sel, err := NewSelector(TS_IPV4_ADDR_RANGE, 0, 10, 20, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.10"))
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Contains(sel) {
		t.Fatal("a selector must contain itself")
	}

	narrower, err := NewSelector(TS_IPV4_ADDR_RANGE, 0, 12, 15, net.ParseIP("10.0.0.3"), net.ParseIP("10.0.0.5"))
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Contains(narrower) {
		t.Fatal("wider selector must contain the narrower one")
	}
	if narrower.Contains(sel) {
		t.Fatal("narrower selector must not contain the wider one")
	}
}
