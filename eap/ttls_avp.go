package eap

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// EAP-TTLS (RFC 5281 §9.1) wraps its diagnostic payload in a Diameter AVP
// (RFC 6733 §4.1): the same AVP code every TTLS implementation uses to
// carry a nested EAP conversation inside the outer tunnel.
const avpCodeEapMessage uint32 = 79

const avpFlagMandatory uint8 = 0x40

// encodeAvp writes an AVP with the 8-byte Diameter AVP header (no
// Vendor-Id, since EAP-Message is not vendor-specific).
func encodeAvp(code uint32, data []byte) []byte {
	length := 8 + len(data)
	b := make([]byte, 8, length+avpPadding(length))
	binary.BigEndian.PutUint32(b[0:4], code)
	b[4] = avpFlagMandatory
	putUint24(b[5:8], uint32(length))
	b = append(b, data...)
	for len(b) < length+avpPadding(length) {
		b = append(b, 0)
	}
	return b
}

func avpPadding(length int) int {
	if r := length % 4; r != 0 {
		return 4 - r
	}
	return 0
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// decodeAvp reads one AVP off the front of b and returns its code, data
// (with header and trailing padding stripped), and how many bytes it
// (including padding) consumed.
func decodeAvp(b []byte) (code uint32, data []byte, consumed int, err error) {
	if len(b) < 8 {
		return 0, nil, 0, errors.New("AVP header truncated")
	}
	code = binary.BigEndian.Uint32(b[0:4])
	length := int(getUint24(b[5:8]))
	if length < 8 || length > len(b) {
		return 0, nil, 0, errors.New("AVP length overruns buffer")
	}
	data = append([]byte{}, b[8:length]...)
	consumed = length + avpPadding(length)
	if consumed > len(b) {
		consumed = len(b)
	}
	return code, data, consumed, nil
}

// decodeEapMessageAvps concatenates every EAP-Message AVP found in a
// decrypted tunnel application-data record, since RFC 5281 §9.1 allows the
// inner EAP message to be split across several AVPs.
func decodeEapMessageAvps(b []byte) ([]byte, error) {
	var inner []byte
	for len(b) > 0 {
		code, data, consumed, err := decodeAvp(b)
		if err != nil {
			return nil, err
		}
		if code == avpCodeEapMessage {
			inner = append(inner, data...)
		}
		b = b[consumed:]
	}
	return inner, nil
}

func encodeEapMessageAvp(inner []byte) []byte {
	return encodeAvp(avpCodeEapMessage, inner)
}
