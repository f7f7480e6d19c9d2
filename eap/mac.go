package eap

import (
	"crypto/hmac"
	"crypto/subtle"
	"hash"

	"github.com/pkg/errors"
)

// signMethodMessage builds a SIM/AKA/AKA' message with a correctly
// computed AT_MAC: the attribute is zeroed, the whole message is
// encoded, HMAC'd under kAut (with suffix appended, e.g. the n*SRES
// values EAP-SIM Challenge responses append per RFC 4186 §10.15), and
// the first 16 bytes of the digest replace the placeholder.
func signMethodMessage(code Code, id uint8, typ Type, subtype uint8, list []Attribute, hashNew func() hash.Hash, kAut []byte, suffix []byte) (*Message, error) {
	idx := macIndex(list)
	if idx < 0 {
		return nil, errors.New("AT_MAC attribute not found")
	}
	zeroed := append([]Attribute{}, list...)
	zeroed[idx] = atReservedBytes(AT_MAC, make([]byte, 16))
	m := &Message{Code: code, Identifier: id, Type: typ, Data: encodeMethodData(subtype, zeroed)}
	mac := computeMac(m.Encode(), suffix, hashNew, kAut)
	zeroed[idx] = atReservedBytes(AT_MAC, mac)
	m.Data = encodeMethodData(subtype, zeroed)
	return m, nil
}

// verifyMethodMac re-derives AT_MAC the same way signMethodMessage does
// and compares it to the value the peer sent, in constant time.
func verifyMethodMac(code Code, id uint8, typ Type, subtype uint8, list attrs, hashNew func() hash.Hash, kAut []byte, suffix []byte) error {
	idx := macIndex(list)
	if idx < 0 {
		return errors.New("AT_MAC attribute missing")
	}
	received, err := reservedBytesValue(list[idx], 16)
	if err != nil {
		return err
	}
	zeroed := append([]Attribute{}, []Attribute(list)...)
	zeroed[idx] = atReservedBytes(AT_MAC, make([]byte, 16))
	m := &Message{Code: code, Identifier: id, Type: typ, Data: encodeMethodData(subtype, zeroed)}
	expect := computeMac(m.Encode(), suffix, hashNew, kAut)
	if subtle.ConstantTimeCompare(received, expect) != 1 {
		return errors.New("AT_MAC mismatch")
	}
	return nil
}

func computeMac(encoded []byte, suffix []byte, hashNew func() hash.Hash, kAut []byte) []byte {
	h := hmac.New(hashNew, kAut)
	h.Write(encoded)
	h.Write(suffix)
	return h.Sum(nil)[:16]
}

func macIndex(list []Attribute) int {
	for i, a := range list {
		if a.Type == AT_MAC {
			return i
		}
	}
	return -1
}
