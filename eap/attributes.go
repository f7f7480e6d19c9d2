package eap

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// AttributeType is the SIM/AKA/AKA' attribute type octet (RFC 4187 §10).
type AttributeType uint8

const (
	AT_RAND              AttributeType = 1
	AT_AUTN              AttributeType = 2
	AT_RES               AttributeType = 3
	AT_AUTS              AttributeType = 4
	AT_PADDING           AttributeType = 6
	AT_NONCE_MT          AttributeType = 7
	AT_PERMANENT_ID_REQ  AttributeType = 10
	AT_MAC               AttributeType = 11
	AT_NOTIFICATION      AttributeType = 12
	AT_ANY_ID_REQ        AttributeType = 13
	AT_IDENTITY          AttributeType = 14
	AT_VERSION_LIST      AttributeType = 15
	AT_SELECTED_VERSION  AttributeType = 16
	AT_FULLAUTH_ID_REQ   AttributeType = 17
	AT_COUNTER           AttributeType = 19
	AT_COUNTER_TOO_SMALL AttributeType = 20
	AT_NONCE_S           AttributeType = 21
	AT_CLIENT_ERROR_CODE AttributeType = 22
	AT_KDF_INPUT         AttributeType = 23
	AT_KDF               AttributeType = 24
	AT_RESULT_IND        AttributeType = 135
	AT_BIDDING           AttributeType = 136
)

// Attribute is one decoded 4-byte-aligned SIM/AKA TLV.
type Attribute struct {
	Type  AttributeType
	Value []byte // excludes the 2-byte type+length header and any padding
}

// attrs is a decoded set of SIM/AKA attributes, looked up by type since
// most method code only ever cares whether a given attribute is present.
type attrs []Attribute

func (a attrs) Get(t AttributeType) (Attribute, bool) {
	for _, at := range a {
		if at.Type == t {
			return at, true
		}
	}
	return Attribute{}, false
}

// decodeAttributes walks a 4-byte-aligned TLV chain (RFC 4187 §8.1):
// each attribute's declared length is in 4-byte units and must not
// exceed the remaining bytes; a zero length is always invalid.
func decodeAttributes(b []byte) (attrs, error) {
	var out attrs
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, errors.New("attribute header truncated")
		}
		t := AttributeType(b[0])
		l := int(b[1]) * 4
		if l == 0 || l > len(b) {
			return nil, errors.Errorf("attribute %d length overflow", t)
		}
		out = append(out, Attribute{Type: t, Value: append([]byte{}, b[2:l]...)})
		b = b[l:]
	}
	return out, nil
}

// encodeAttribute pads value to the next 4-byte boundary and prefixes
// the type+length header (length in 4-byte units).
func encodeAttribute(t AttributeType, value []byte) []byte {
	total := 2 + len(value)
	if pad := total % 4; pad != 0 {
		total += 4 - pad
	}
	b := make([]byte, total)
	b[0] = byte(t)
	b[1] = byte(total / 4)
	copy(b[2:], value)
	return b
}

func encodeAttributes(list []Attribute) []byte {
	var b []byte
	for _, a := range list {
		b = append(b, encodeAttribute(a.Type, a.Value)...)
	}
	return b
}

// decodeMethodData splits a SIM/AKA/AKA' EAP type-data blob into its
// subtype and attribute list (RFC 4187 §8.1): 1B subtype, 2B reserved,
// then the attribute TLVs.
func decodeMethodData(data []byte) (subtype uint8, list attrs, err error) {
	if len(data) < 3 {
		return 0, nil, errors.New("eap-aka type-data too short")
	}
	subtype = data[0]
	list, err = decodeAttributes(data[3:])
	return
}

func encodeMethodData(subtype uint8, list []Attribute) []byte {
	b := make([]byte, 3, 3+8*len(list))
	b[0] = subtype
	b = append(b, encodeAttributes(list)...)
	return b
}

// AT_CLIENT_ERROR_CODE values (RFC 4187 §10.20).
const (
	ClientErrorUnableToProcess  uint16 = 0
	ClientErrorUnsupportedVer   uint16 = 1
	ClientErrorInsufficientChal uint16 = 2
)

func atClientErrorCode(code uint16) Attribute {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, code)
	return Attribute{Type: AT_CLIENT_ERROR_CODE, Value: v}
}

func atU16(t AttributeType, val uint16) Attribute {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, val)
	return Attribute{Type: t, Value: v}
}

// atReservedBytes builds an attribute whose value is b behind a 2-byte
// reserved prefix (AT_RAND/AT_AUTN/AT_RES.../AT_MAC/AT_NONCE_MT/AT_NONCE_S share
// this shape).
func atReservedBytes(t AttributeType, b []byte) Attribute {
	v := make([]byte, 2+len(b))
	copy(v[2:], b)
	return Attribute{Type: t, Value: v}
}

func reservedBytesValue(a Attribute, n int) ([]byte, error) {
	if len(a.Value) < 2+n {
		return nil, errors.Errorf("attribute %d too short", a.Type)
	}
	return append([]byte{}, a.Value[2:2+n]...), nil
}
