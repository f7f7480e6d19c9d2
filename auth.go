package ike

import (
	"bytes"
	"math/big"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/eap"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
	"github.com/pkg/errors"
)

// Authenticator proves, or checks, ownership of one end's identity in the
// IKE_AUTH exchange (RFC 7296 §2.15): AUTH = prf(prf(Shared Secret,
// "Key Pad for IKEv2"), <msg octets | nonce | MACedID>).
type Authenticator interface {
	IdPayload() *protocol.IdPayload
	Sign(msgOctets []byte, peerNonce *big.Int) ([]byte, error)
	Verify(msgOctets []byte, peerNonce *big.Int, id *protocol.IdPayload, received []byte) error
}

// pskAuthenticator implements SHARED_KEY_MESSAGE_INTEGRITY_CODE, the only
// method this engine can compute without a certificate store or SIM
// acting as an external signer.
type pskAuthenticator struct {
	id          *Identity
	tkm         *Tkm
	method      protocol.AuthMethod
	isInitiator bool // whether this identity is the initiator's, not our role
}

// NewAuthenticator builds the Authenticator for one identity. isInitiator
// marks whether id names the initiator or the responder of the exchange.
func NewAuthenticator(id *Identity, tkm *Tkm, method protocol.AuthMethod, isInitiator bool) Authenticator {
	return &pskAuthenticator{id: id, tkm: tkm, method: method, isInitiator: isInitiator}
}

func (a *pskAuthenticator) IdPayload() *protocol.IdPayload {
	idType := protocol.PayloadTypeIDr
	if a.isInitiator {
		idType = protocol.PayloadTypeIDi
	}
	return &protocol.IdPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		IdPayloadType: idType,
		IdType:        a.id.IdType,
		Data:          a.id.Data,
	}
}

func (a *pskAuthenticator) flag() protocol.IkeFlags {
	if a.isInitiator {
		return protocol.INITIATOR
	}
	return 0
}

// Sign computes the AUTH payload value proving ownership of id, over
// msgOctets (this side's own IKE_SA_INIT bytes) and the peer's nonce.
func (a *pskAuthenticator) Sign(msgOctets []byte, peerNonce *big.Int) ([]byte, error) {
	if a.method != protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE {
		return nil, errors.Errorf("auth method %s needs an external signer", a.method)
	}
	signed1 := append(append([]byte{}, msgOctets...), peerNonce.Bytes()...)
	return a.tkm.Auth(signed1, a.IdPayload(), a.method, a.flag(), a.id.Secret), nil
}

// Verify recomputes the expected AUTH value over the peer's own
// IKE_SA_INIT bytes, our nonce, and the ID payload they sent, and
// compares it against received.
func (a *pskAuthenticator) Verify(msgOctets []byte, peerNonce *big.Int, id *protocol.IdPayload, received []byte) error {
	if a.method != protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE {
		return errors.Errorf("auth method %s needs an external verifier", a.method)
	}
	signed1 := append(append([]byte{}, msgOctets...), peerNonce.Bytes()...)
	expect := a.tkm.Auth(signed1, id, a.method, a.flag(), a.id.Secret)
	if !bytes.Equal(expect, received) {
		return errors.New("AUTH payload mismatch")
	}
	return nil
}

// AuthFromSession builds the IKE_AUTH request: IDi, AUTH, the ESP SA
// proposal, and the traffic selectors configured for this session.
func AuthFromSession(o *Session) *Message {
	idi := o.authLocal.IdPayload()
	auth, err := o.authLocal.Sign(o.initIb, o.tkm.Nr)
	if err != nil {
		level.Error(logger).Log("msg", "auth sign failed", "err", err)
		return nil
	}
	authPayload := &protocol.AuthPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Method:        o.cfg.AuthMethod,
		Data:          auth,
	}
	sa := &protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, o.EspSpiI[:4]),
	}
	tsI := protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSi, o.cfg.TsI)
	tsR := protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSr, o.cfg.TsR)

	payloads, _ := chainPayloads(idi, authPayload, sa, tsI, tsR)
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			NextPayload:  protocol.PayloadTypeSK,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_AUTH,
			Flags:        protocol.INITIATOR,
		},
		Payloads: payloads,
	}
}

// HandleAuthForSession verifies the responder's IDr/AUTH and the
// negotiated Child SA proposal & selectors carried in the IKE_AUTH reply.
func HandleAuthForSession(o *Session, m *Message) error {
	if err := m.EnsurePayloads([]protocol.PayloadType{
		protocol.PayloadTypeIDr, protocol.PayloadTypeAUTH,
	}); err != nil {
		return err
	}
	idr := m.Payloads.Get(protocol.PayloadTypeIDr).(*protocol.IdPayload)
	auth := m.Payloads.Get(protocol.PayloadTypeAUTH).(*protocol.AuthPayload)

	if err := o.authRemote.Verify(o.initRb, o.tkm.Ni, idr, auth.Data); err != nil {
		return errors.Wrap(err, "auth verify failed")
	}
	if err := o.cfg.CheckromAuth(m); err != nil {
		return err
	}
	espSa := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	for _, prop := range espSa.Proposals {
		if prop.ProtocolId == protocol.ESP {
			copy(o.EspSpiR[:], prop.Spi)
		}
	}
	level.Info(logger).Log("msg", "ike auth complete", "tag", o.Tag())
	return nil
}

// EapAuthFromSession builds the first IKE_AUTH request of an EAP-driven
// exchange: IDi, the ESP SA proposal, and traffic selectors, but no AUTH
// payload (RFC 7296 §2.16 - AUTH only appears once EAP has succeeded).
func EapAuthFromSession(o *Session) *Message {
	idi := o.authLocal.IdPayload()
	sa := &protocol.SaPayload{
		PayloadHeader: &protocol.PayloadHeader{},
		Proposals:     ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, o.EspSpiI[:4]),
	}
	tsI := protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSi, o.cfg.TsI)
	tsR := protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSr, o.cfg.TsR)

	payloads, _ := chainPayloads(idi, sa, tsI, tsR)
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			NextPayload:  protocol.PayloadTypeSK,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_AUTH,
			Flags:        protocol.INITIATOR,
		},
		Payloads: payloads,
	}
}

// EapContinueFromSession wraps one encoded EAP message (a Response this
// engine computed) as the sole payload of an IKE_AUTH request.
func EapContinueFromSession(o *Session, eapMsg []byte) *Message {
	resp := &protocol.EapPayload{PayloadHeader: &protocol.PayloadHeader{}, Msg: eapMsg}
	payloads, _ := chainPayloads(resp)
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			NextPayload:  protocol.PayloadTypeSK,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.IKE_AUTH,
			Flags:        protocol.INITIATOR,
		},
		Payloads: payloads,
	}
}

// rebindEapAuthenticator replaces o.authLocal with one keyed by the EAP
// MSK: the final AUTH payloads IKE_AUTH exchanges once EAP succeeds use
// prf(prf(MSK, "Key Pad for IKEv2"), ...) in place of a configured PSK
// (RFC 7296 §2.16).
func rebindEapAuthenticator(o *Session, msk []byte) {
	id := &Identity{IdType: o.cfg.LocalID.IdType, Data: o.cfg.LocalID.Data, Secret: msk}
	o.authLocal = NewAuthenticator(id, o.tkm, protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE, o.isInitiator)
}

// HandleEapAuthForSession drives one round of an EAP-based IKE_AUTH
// exchange (RFC 7296 §2.16): while the peer's reply carries an EAP
// payload, feed it to the session's EAP conversation and send back
// whatever it produces; once the peer instead sends the final IDr/AUTH
// round, verify it exactly as the non-EAP path does.
func HandleEapAuthForSession(o *Session, m *Message) state.StateEvent {
	if eapPl := m.Payloads.Get(protocol.PayloadTypeEAP); eapPl != nil {
		return o.handleEapRound(eapPl.(*protocol.EapPayload))
	}
	if err := m.EnsurePayloads([]protocol.PayloadType{
		protocol.PayloadTypeIDr, protocol.PayloadTypeAUTH,
	}); err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	if err := HandleAuthForSession(o, m); err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	return state.StateEvent{Event: state.SUCCESS}
}

// handleEapRound decodes one EAP frame, feeds it to the session's EAP
// conversation, and acts on the result.
func (o *Session) handleEapRound(eapPl *protocol.EapPayload) state.StateEvent {
	msg, err := eap.Decode(eapPl.Msg)
	if err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	result := o.eapSession.Process(msg)
	switch result.Kind {
	case eap.KindResponse:
		req := EapContinueFromSession(o, result.Response)
		req.IkeHeader.MsgId = o.msgIdInc(!o.isInitiator)
		o.sendRequest(req.Encode(o.tkm))
		return state.StateEvent{}
	case eap.KindSuccess:
		rebindEapAuthenticator(o, result.MSK)
		req := AuthFromSession(o)
		req.IkeHeader.MsgId = o.msgIdInc(!o.isInitiator)
		o.sendRequest(req.Encode(o.tkm))
		return state.StateEvent{}
	case eap.KindFailure:
		return state.StateEvent{Event: state.AUTH_FAIL, Data: errors.New("EAP authentication failed")}
	default:
		return state.StateEvent{Event: state.AUTH_FAIL, Data: result.Err}
	}
}
