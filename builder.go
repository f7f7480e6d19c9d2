package ike

import (
	"crypto/sha1"
	"math/big"
	"net"

	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/packets"
)

// initParams holds everything needed to build, or was extracted from, an
// IKE_SA_INIT message - the bits both InitFromSession and
// HandleInitForSession need regardless of which side of the exchange they
// are looking at.
type initParams struct {
	isInitiator       bool
	spiI, spiR        []byte
	proposals         []*protocol.SaProposal
	cookie            []byte
	dhTransformId     protocol.DhTransformId
	dhPublic          *big.Int
	nonce             *big.Int
	rfc7427Signatures bool
	ns                []*protocol.NotifyPayload
}

// initParamsFromMessage extracts the fields HandleInitForSession and
// CheckInitResponseForSession need out of a decoded IKE_SA_INIT message.
func initParamsFromMessage(m *Message) (*initParams, error) {
	if err := m.EnsurePayloads([]protocol.PayloadType{
		protocol.PayloadTypeSA, protocol.PayloadTypeKE, protocol.PayloadTypeNonce,
	}); err != nil {
		return nil, err
	}
	sa := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	ke := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	no := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)

	var notifs []*protocol.NotifyPayload
	for _, pl := range m.Payloads.GetAll(protocol.PayloadTypeN) {
		notifs = append(notifs, pl.(*protocol.NotifyPayload))
	}

	var cookie []byte
	for _, n := range notifs {
		if n.NotificationType == protocol.COOKIE {
			cookie = n.Data
		}
	}

	return &initParams{
		isInitiator:   m.IkeHeader.Flags.IsInitiator(),
		spiI:          m.IkeHeader.SpiI[:],
		spiR:          m.IkeHeader.SpiR[:],
		proposals:     sa.Proposals,
		cookie:        cookie,
		dhTransformId: ke.DhTransformId,
		dhPublic:      ke.KeyData,
		nonce:         no.Nonce,
		ns:            notifs,
	}, nil
}

// chainPayloads sets each payload's NextPayload to the type of the one
// that follows it (PayloadTypeNone for the last) and returns the type of
// the first, ready to go on the IKE header.
func chainPayloads(list ...protocol.Payload) (*protocol.Payloads, protocol.PayloadType) {
	pls := protocol.MakePayloads()
	if len(list) == 0 {
		return pls, protocol.PayloadTypeNone
	}
	for i, p := range list {
		next := protocol.PayloadTypeNone
		if i+1 < len(list) {
			next = list[i+1].Type()
		}
		p.SetNextPayload(next)
		pls.Add(p)
	}
	return pls, list[0].Type()
}

// makeInit builds a cleartext IKE_SA_INIT message from the given params.
// A non-nil cookie is echoed back as the very first payload, per RFC 7296
// §2.6.
func makeInit(p *initParams) *Message {
	var list []protocol.Payload
	if p.cookie != nil {
		list = append(list, &protocol.NotifyPayload{
			PayloadHeader:    &protocol.PayloadHeader{},
			ProtocolId:       protocol.IKE,
			NotificationType: protocol.COOKIE,
			Data:             p.cookie,
		})
	}
	list = append(list,
		&protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: p.proposals},
		&protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: p.dhTransformId, KeyData: p.dhPublic},
		&protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: p.nonce},
	)
	if p.rfc7427Signatures {
		hashAlgos := []byte{0, 0}
		packets.WriteB16(hashAlgos, 0, uint16(protocol.HASH_SHA2_256))
		list = append(list, &protocol.NotifyPayload{
			PayloadHeader:    &protocol.PayloadHeader{},
			ProtocolId:       protocol.IKE,
			NotificationType: protocol.SIGNATURE_HASH_ALGORITHMS,
			Data:             hashAlgos,
		})
	}

	payloads, first := chainPayloads(list...)

	var spiI, spiR protocol.Spi
	copy(spiI[:], p.spiI)
	copy(spiR[:], p.spiR)
	flags := protocol.IkeFlags(0)
	if p.isInitiator {
		flags |= protocol.INITIATOR
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         spiI,
			SpiR:         spiR,
			NextPayload:  first,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_SA_INIT,
			Flags:        flags,
		},
		Payloads: payloads,
	}
}

// natHash computes SHA1(SPIi | SPIr | IP | Port), RFC 7296 §2.23.
func natHash(spiI, spiR []byte, addr net.Addr) []byte {
	ip, port := addrParts(addr)
	h := sha1.New()
	h.Write(spiI)
	h.Write(spiR)
	h.Write(ip)
	portB := []byte{0, 0}
	packets.WriteB16(portB, 0, uint16(port))
	h.Write(portB)
	return h.Sum(nil)
}

// checkNatHash reports whether hash matches the expected NAT-detection
// digest for addr; a mismatch means a NAT sits between the two peers at
// that endpoint and the session ought to move to port 4500.
func checkNatHash(hash []byte, spiI, spiR []byte, addr net.Addr) bool {
	if addr == nil {
		return true
	}
	expected := natHash(spiI, spiR, addr)
	if len(hash) != len(expected) {
		return false
	}
	for i := range hash {
		if hash[i] != expected[i] {
			return false
		}
	}
	return true
}

func addrParts(addr net.Addr) (ip net.IP, port int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	}
	return net.IPv4zero, 0
}

// CookieError is returned when the peer asks us to retry IKE_SA_INIT with
// a COOKIE notification echoed back.
type CookieError struct {
	Notify *protocol.NotifyPayload
}

func (e CookieError) Error() string { return "peer requested a cookie" }

// Cookie returns the opaque bytes to echo back in the retried request.
func (e CookieError) Cookie() []byte { return e.Notify.Data }

// MissingCookieError marks the locally-configured need for a cookie; it
// exists for the responder role and is unused by this initiator-only
// engine.
var MissingCookieError = protocol.ErrF(protocol.ERR_INVALID_SYNTAX, "missing cookie")
