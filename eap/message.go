// Package eap implements the EAP message/attribute codec and the inner
// authentication method state machines (SIM, AKA, AKA', MSCHAPv2, TTLS)
// that run inside an IKE_AUTH exchange.
package eap

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Code is the EAP Code field (RFC 3748 §4).
type Code uint8

const (
	CodeRequest  Code = 1
	CodeResponse Code = 2
	CodeSuccess  Code = 3
	CodeFailure  Code = 4
)

func (c Code) String() string {
	switch c {
	case CodeRequest:
		return "Request"
	case CodeResponse:
		return "Response"
	case CodeSuccess:
		return "Success"
	case CodeFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// Type is the EAP Type field, present when code is Request or Response
// and the message carries type-data.
type Type uint8

const (
	TypeIdentity     Type = 1
	TypeNotification Type = 2
	TypeNak          Type = 3
	TypeSIM          Type = 18 // RFC 4186
	TypeTTLS         Type = 21 // RFC 5281
	TypeAKA          Type = 23 // RFC 4187
	TypeMSCHAPV2     Type = 26 // RFC 2759 (draft-kamath-pppext-eap-mschapv2)
	TypeAKAPrime     Type = 50 // RFC 5448
)

// Message is a decoded EAP frame: code, identifier, optional type + data.
// Success/Failure never carry a type or data (RFC 3748 §4.2/§4.3).
type Message struct {
	Code       Code
	Identifier uint8
	Type       Type
	Data       []byte
}

// ErrMalformed is returned for every EAP parse failure. The IKE_AUTH
// exchange carrying the message ends with AUTH_FAIL when Decode returns
// it; no EAP error attribute is sent back for a parse failure.
var ErrMalformed = errors.New("malformed EAP message")

// Decode parses b per RFC 3748 §4: 1B code, 1B identifier, 2B length
// (covering the whole message), 1B type (if data present), type-data.
// length governs; trailing bytes beyond length are a malformed packet.
func Decode(b []byte) (*Message, error) {
	if len(b) < 4 {
		return nil, ErrMalformed
	}
	m := &Message{Code: Code(b[0]), Identifier: b[1]}
	length := binary.BigEndian.Uint16(b[2:4])
	if length < 4 || int(length) != len(b) {
		return nil, ErrMalformed
	}
	b = b[:length]
	if m.Code == CodeSuccess || m.Code == CodeFailure {
		if length != 4 {
			return nil, ErrMalformed
		}
		return m, nil
	}
	if length == 4 {
		// Request/Response with no type-data; unusual but not invalid.
		return m, nil
	}
	m.Type = Type(b[4])
	m.Data = append([]byte{}, b[5:]...)
	return m, nil
}

// Encode serializes m back to wire bytes.
func (m *Message) Encode() []byte {
	if m.Code == CodeSuccess || m.Code == CodeFailure {
		return []byte{byte(m.Code), m.Identifier, 0, 4}
	}
	length := 4
	if m.Type != 0 {
		length += 1 + len(m.Data)
	}
	b := make([]byte, 4, length)
	b[0] = byte(m.Code)
	b[1] = m.Identifier
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	if m.Type != 0 {
		b = append(b, byte(m.Type))
		b = append(b, m.Data...)
	}
	return b
}

// NotificationResponse builds the canonical Response to a Notification
// Request, which always carries only the reserved type-data (RFC 3748 §5.2).
func NotificationResponse(id uint8) *Message {
	return &Message{Code: CodeResponse, Identifier: id, Type: TypeNotification}
}

// IsNotification reports whether m is a Request carrying a Notification.
func (m *Message) IsNotification() bool {
	return m.Code == CodeRequest && m.Type == TypeNotification
}
