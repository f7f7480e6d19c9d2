package eap

import (
	"github.com/pkg/errors"
)

const (
	ttlsFlagLength uint8 = 0x80
	ttlsFlagMore   uint8 = 0x40
	ttlsFlagStart  uint8 = 0x20
)

// ttlsFragmentSize bounds how much TLS record data this engine packs into
// a single outbound EAP-TTLS fragment. RFC 5281 leaves the choice to the
// implementation; this engine uses a fixed 1024 bytes, below the 1280-byte
// wire size IKE's own SKF fragmentation uses.
const ttlsFragmentSize = 1024

type ttlsInnerState uint8

const (
	ttlsHandshake ttlsInnerState = iota
	ttlsTunnel
)

// TLSSession is the injected TLS collaborator EAP-TTLS drives; the
// concrete stack (certificate validation, record layer, cipher suites) is
// an external concern this engine only calls into, mirroring how
// Authenticator stands in for the UICC/telephony collaborator.
type TLSSession interface {
	// HandshakeStep feeds in bytes received from the peer (empty on the
	// very first call) and returns bytes to send, whether the handshake
	// has completed, and any error.
	HandshakeStep(in []byte) (out []byte, done bool, err error)
	Seal(plaintext []byte) ([]byte, error)
	Open(record []byte) ([]byte, error)
	// ExportKeyingMaterial derives the session's MSK/EMSK once the
	// handshake completes (RFC 5281 §11).
	ExportKeyingMaterial(label string, length int) ([]byte, error)
}

// TTLS implements EAP-TTLS (RFC 5281): Created -> Handshake -> Tunnel ->
// Final. The handshake phase ferries TLS records to and from the injected
// TLSSession; the tunnel phase ferries a nested EAP conversation inside
// Diameter EAP-Message AVPs carried over TLS application data.
type TTLS struct {
	base
	inner ttlsInnerState

	cfg  *TTLSConfig
	tls  TLSSession
	nest *Session

	reassembly []byte

	outFragments [][]byte
}

// NewTTLS constructs a TTLS method instance. nest is nil when the tunnel
// carries no further authentication (PAP-only deployments are out of
// scope here, so a nil nest simply fails the tunnel if the network tries
// to start one).
func NewTTLS(cfg *TTLSConfig, tls TLSSession, nest *Session) *TTLS {
	return &TTLS{cfg: cfg, tls: tls, nest: nest, inner: ttlsHandshake}
}

func (m *TTLS) Process(msg *Message) Result {
	if r, ok := m.handleCommon(msg); ok {
		return r
	}
	if wrongCode(msg, CodeRequest) {
		return Error(errors.New("expected an EAP-TTLS Request"))
	}
	if msg.Type != TypeTTLS {
		return Error(errors.Errorf("expected EAP type TTLS, got %d", msg.Type))
	}

	// Outbound fragments queued from the previous Response: the
	// network's empty re-poll Request just asks for the next one
	// (RFC 5281 §9.2.2).
	if len(m.outFragments) > 0 {
		return m.sendNextFragment(msg.Identifier)
	}

	record, more, err := m.reassembleInbound(msg.Data)
	if err != nil {
		return Error(err)
	}
	if more {
		return Response((&Message{Code: CodeResponse, Identifier: msg.Identifier, Type: TypeTTLS}).Encode())
	}

	switch m.inner {
	case ttlsHandshake:
		return m.stepHandshake(msg.Identifier, record)
	case ttlsTunnel:
		return m.stepTunnel(msg.Identifier, record)
	default:
		return Error(errors.New("EAP-TTLS: Request received after tunnel ended"))
	}
}

// reassembleInbound strips the flags byte (and optional 4-byte length) off
// one fragment and appends its TLS data to the in-progress record; it
// reports more=true while the M bit says further fragments are coming.
func (m *TTLS) reassembleInbound(data []byte) (record []byte, more bool, err error) {
	if len(data) == 0 {
		return nil, false, nil
	}
	flags := data[0]
	data = data[1:]
	if flags&ttlsFlagLength != 0 {
		if len(data) < 4 {
			return nil, false, errors.New("EAP-TTLS: truncated length field")
		}
		data = data[4:]
	}
	if flags&ttlsFlagStart != 0 {
		m.reassembly = nil
	}
	m.reassembly = append(m.reassembly, data...)
	if flags&ttlsFlagMore != 0 {
		return nil, true, nil
	}
	record, m.reassembly = m.reassembly, nil
	return record, false, nil
}

func (m *TTLS) stepHandshake(id uint8, record []byte) Result {
	out, done, err := m.tls.HandshakeStep(record)
	if err != nil {
		return Error(err)
	}
	if done {
		m.inner = ttlsTunnel
		keys, err := m.tls.ExportKeyingMaterial("ttls keying material", 128)
		if err != nil {
			return Error(err)
		}
		m.msk, m.emsk = keys[:64], keys[64:128]
	}
	return m.queueOutbound(id, out)
}

func (m *TTLS) stepTunnel(id uint8, record []byte) Result {
	if len(record) == 0 {
		return Response((&Message{Code: CodeResponse, Identifier: id, Type: TypeTTLS}).Encode())
	}
	plain, err := m.tls.Open(record)
	if err != nil {
		return Error(err)
	}
	innerBytes, err := decodeEapMessageAvps(plain)
	if err != nil {
		return Error(err)
	}
	if len(innerBytes) == 0 {
		return Response((&Message{Code: CodeResponse, Identifier: id, Type: TypeTTLS}).Encode())
	}
	innerMsg, err := Decode(innerBytes)
	if err != nil {
		return Error(err)
	}
	if m.nest == nil {
		return Error(errors.New("EAP-TTLS: network started an inner conversation but no inner method is configured"))
	}

	result := m.nest.Process(innerMsg)
	switch result.Kind {
	case KindError:
		return result
	case KindFailure:
		m.state = StateFinal
		return Failure()
	case KindSuccess:
		// The inner method's own MSK is not used: RFC 5281 ties the
		// exported EAP MSK to the tunnel, not to the inner method. The
		// outer conversation still waits for its own Success/Failure.
		return Response((&Message{Code: CodeResponse, Identifier: id, Type: TypeTTLS}).Encode())
	default:
		sealed, err := m.tls.Seal(encodeEapMessageAvp(result.Response))
		if err != nil {
			return Error(err)
		}
		return m.queueOutbound(id, sealed)
	}
}

// queueOutbound splits out into ttlsFragmentSize chunks and sends the
// first one immediately.
func (m *TTLS) queueOutbound(id uint8, out []byte) Result {
	if len(out) == 0 {
		return Response((&Message{Code: CodeResponse, Identifier: id, Type: TypeTTLS}).Encode())
	}
	var fragments [][]byte
	for len(out) > ttlsFragmentSize {
		fragments = append(fragments, out[:ttlsFragmentSize])
		out = out[ttlsFragmentSize:]
	}
	fragments = append(fragments, out)
	m.outFragments = fragments
	return m.sendNextFragment(id)
}

func (m *TTLS) sendNextFragment(id uint8) Result {
	frag := m.outFragments[0]
	m.outFragments = m.outFragments[1:]

	flags := byte(0)
	if len(m.outFragments) > 0 {
		flags |= ttlsFlagMore
	}
	data := append([]byte{flags}, frag...)
	return Response((&Message{Code: CodeResponse, Identifier: id, Type: TypeTTLS, Data: data}).Encode())
}
