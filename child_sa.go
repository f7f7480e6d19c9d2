package ike

import (
	"math/big"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
	"github.com/pkg/errors"
)

// rekeyKind distinguishes the three shapes a CREATE_CHILD_SA exchange can
// take (RFC 7296 §1.3/§1.3.1/§1.3.2/§1.3.3).
type rekeyKind int

const (
	rekeyChildSa  rekeyKind = iota // new Child SA, no REKEY_SA notify
	rekeyRekeySa                   // existing Child SA rekey, REKEY_SA notify present
	rekeyIkeSa                     // IKE SA rekey, same payload shape as IKE_SA_INIT
)

// pendingRekey tracks the CREATE_CHILD_SA request this session itself
// initiated, so the matching response can be recognized and so a
// concurrently-received peer request for the same kind of rekey can be
// tie-broken by nonce (RFC 7296 §2.8.1).
type pendingRekey struct {
	kind    rekeyKind
	ni      *big.Int // our nonce for this exchange
	losing  bool     // set once tie-break decides the peer's concurrent exchange wins
	newTkm  *Tkm      // only set for rekeyIkeSa: the replacement SA's key manager
	newSpiI protocol.Spi
	newEsp  protocol.Spi // only set for rekeyRekeySa/rekeyChildSa: our new ESP SPI
}

// classifyChildSaRequest reports which of the three CREATE_CHILD_SA shapes
// m carries, and the REKEY_SA notify's old SPI when present. It tells an
// IKE SA rekey apart from a Child SA rekey/create by the SA payload's
// protocol ID rather than by payload shape alone, since a Child SA rekey
// negotiated with PFS carries the same SA+KE+Nonce set an IKE SA rekey
// does.
func classifyChildSaRequest(m *Message) (kind rekeyKind, oldSpi []byte, err error) {
	sa, _ := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if sa == nil || len(sa.Proposals) == 0 {
		return 0, nil, errors.New("create_child_sa message missing SA payload")
	}
	if sa.Proposals[0].ProtocolId == protocol.IKE {
		return rekeyIkeSa, nil, nil
	}
	for _, n := range m.Payloads.GetAll(protocol.PayloadTypeN) {
		notif := n.(*protocol.NotifyPayload)
		if notif.NotificationType == protocol.REKEY_SA {
			return rekeyRekeySa, notif.Spi, nil
		}
	}
	return rekeyChildSa, nil, nil
}

// RekeyChildSa initiates a Child SA rekey: a fresh ESP SPI and nonce are
// proposed under a REKEY_SA notify naming the SPI being replaced. The
// caller (not this engine) owns the policy of when a Child SA's lifetime
// warrants a rekey.
func (o *Session) RekeyChildSa() state.StateEvent {
	return o.startChildSaRekey(rekeyRekeySa)
}

// RekeyIkeSa initiates an IKE SA rekey (RFC 7296 §2.18): a fresh IKE SA
// identity is negotiated under the current SA's protection, and takes
// over once the exchange completes.
func (o *Session) RekeyIkeSa() state.StateEvent {
	return o.startChildSaRekey(rekeyIkeSa)
}

func (o *Session) startChildSaRekey(kind rekeyKind) state.StateEvent {
	if o.pendingRekey != nil {
		return state.StateEvent{Event: state.FAIL, Data: errors.New("a rekey is already in progress")}
	}
	var req *Message
	pending := &pendingRekey{kind: kind}

	if kind == rekeyIkeSa {
		newTkm, err := NewTkmInitiator(o.tkm.suite, o.tkm.espSuite)
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		newSpiI := MakeSpi()
		sa := &protocol.SaPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Proposals:     ProposalFromTransform(protocol.IKE, o.cfg.ProposalIke, newSpiI[:]),
		}
		ke := &protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: newTkm.suite.DhGroup.TransformId(), KeyData: newTkm.DhPublic}
		no := &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: newTkm.Ni}
		req = childSaMessage(o, sa, ke, no, nil, nil, nil)
		pending.ni = newTkm.Ni
		pending.newTkm = newTkm
		pending.newSpiI = newSpiI
	} else {
		newEspSpi := MakeSpi()
		ni, err := freshNonce(o.tkm.suite.Prf.Length * 8)
		if err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		sa := &protocol.SaPayload{
			PayloadHeader: &protocol.PayloadHeader{},
			Proposals:     ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, newEspSpi[:4]),
		}
		no := &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: ni}
		tsI := protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSi, o.cfg.TsI)
		tsR := protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSr, o.cfg.TsR)
		var notify *protocol.NotifyPayload
		if kind == rekeyRekeySa {
			notify = &protocol.NotifyPayload{
				PayloadHeader:    &protocol.PayloadHeader{},
				ProtocolId:       protocol.ESP,
				NotificationType: protocol.REKEY_SA,
				Spi:              append([]byte{}, o.EspSpiI[:4]...),
			}
		}
		req = childSaMessage(o, sa, nil, no, tsI, tsR, notify)
		pending.ni = ni
		pending.newEsp = newEspSpi
	}

	req.IkeHeader.MsgId = o.msgIdInc(!o.isInitiator)
	s := o.sendRequestMessage(req)
	if s.Event == state.FAIL {
		return s
	}
	o.pendingRekey = pending
	return state.StateEvent{}
}

// childSaMessage assembles a CREATE_CHILD_SA request or response from
// whichever of its payload arguments are non-nil, in RFC 7296's §1.3
// ordering: notify, SA, KE, Nonce, TSi, TSr.
func childSaMessage(o *Session, sa *protocol.SaPayload, ke *protocol.KePayload, no *protocol.NoncePayload, tsI, tsR *protocol.TrafficSelectorPayload, notify *protocol.NotifyPayload) *Message {
	var list []protocol.Payload
	if notify != nil {
		list = append(list, notify)
	}
	list = append(list, sa)
	if ke != nil {
		list = append(list, ke)
	}
	list = append(list, no)
	if tsI != nil {
		list = append(list, tsI, tsR)
	}
	payloads, _ := chainPayloads(list...)
	flags := protocol.IkeFlags(0)
	if o.isInitiator {
		flags |= protocol.INITIATOR
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			NextPayload:  protocol.PayloadTypeSK,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.CREATE_CHILD_SA,
			Flags:        flags,
		},
		Payloads: payloads,
	}
}

func childSaResponse(req *Message, payload ...protocol.Payload) *Message {
	payloads, _ := chainPayloads(nonNilPayloads(payload...)...)
	flags := req.IkeHeader.Flags &^ protocol.INITIATOR | protocol.RESPONSE
	if req.IkeHeader.Flags.IsInitiator() {
		flags |= protocol.INITIATOR
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         req.IkeHeader.SpiI,
			SpiR:         req.IkeHeader.SpiR,
			NextPayload:  protocol.PayloadTypeSK,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: protocol.CREATE_CHILD_SA,
			Flags:        flags,
			MsgId:        req.IkeHeader.MsgId,
		},
		Payloads: payloads,
	}
}

func nonNilPayloads(ps ...protocol.Payload) (out []protocol.Payload) {
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return
}

func childSaErrorResponse(req *Message, code protocol.NotificationType) *Message {
	n := &protocol.NotifyPayload{PayloadHeader: &protocol.PayloadHeader{}, ProtocolId: protocol.IKE, NotificationType: code}
	return childSaResponse(req, n)
}

// HandleCreateChildSa callback from the state machine: it runs both for a
// peer-initiated CREATE_CHILD_SA request and for the response to a
// request this session sent via RekeyChildSa/RekeyIkeSa.
func (o *Session) HandleCreateChildSa(msg interface{}) (s state.StateEvent) {
	m := msg.(*Message)
	if m.IkeHeader.Flags.IsResponse() {
		return o.handleRekeyResponse(m)
	}
	return o.handleRekeyRequest(m)
}

func (o *Session) handleRekeyRequest(m *Message) state.StateEvent {
	kind, oldSpi, err := classifyChildSaRequest(m)
	if err != nil {
		return state.StateEvent{Data: protocol.ERR_INVALID_SYNTAX}
	}

	no, _ := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if no == nil {
		return state.StateEvent{Data: protocol.ERR_INVALID_SYNTAX}
	}

	// Tie-break: we have our own rekey of the same kind outstanding. The
	// exchange with the lower nonce loses; losing here means we reject
	// the peer's concurrent request so only our own exchange completes.
	if o.pendingRekey != nil && sameRekeyKind(o.pendingRekey.kind, kind) {
		if o.pendingRekey.ni.Cmp(no.Nonce) > 0 {
			level.Info(logger).Log("msg", "rejecting colliding rekey request, ours wins tie-break", "tag", o.Tag())
			o.sendMsg(childSaErrorResponse(m, protocol.TEMPORARY_FAILURE).Encode(o.tkm))
			return state.StateEvent{}
		}
		level.Info(logger).Log("msg", "accepting peer rekey, ours loses tie-break", "tag", o.Tag())
		o.pendingRekey.losing = true
	}

	switch kind {
	case rekeyIkeSa:
		return o.acceptIkeSaRekey(m)
	default:
		return o.acceptChildSaRekey(m, kind, oldSpi)
	}
}

func sameRekeyKind(pending rekeyKind, incoming rekeyKind) bool {
	if pending == rekeyIkeSa || incoming == rekeyIkeSa {
		return pending == incoming
	}
	return true // rekeyChildSa and rekeyRekeySa both touch the one active Child SA
}

func (o *Session) acceptIkeSaRekey(req *Message) state.StateEvent {
	sa := req.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	ke := req.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	no := req.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if err := o.cfg.CheckProposals(protocol.IKE, sa.Proposals); err != nil {
		o.sendMsg(childSaErrorResponse(req, protocol.NO_PROPOSAL_CHOSEN).Encode(o.tkm))
		return state.StateEvent{}
	}
	newTkm, err := NewTkmResponder(o.tkm.suite, o.tkm.espSuite, ke.KeyData, no.Nonce)
	if err != nil {
		return state.StateEvent{Event: state.FAIL, Data: err}
	}
	var peerSpi protocol.Spi
	for _, p := range sa.Proposals {
		if p.ProtocolId == protocol.IKE {
			copy(peerSpi[:], p.Spi)
		}
	}
	newSpiR := MakeSpi()
	newTkm.IsaCreateRekey(o.tkm.skD, peerSpi[:], newSpiR[:])

	respSa := &protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: ProposalFromTransform(protocol.IKE, o.cfg.ProposalIke, newSpiR[:])}
	respKe := &protocol.KePayload{PayloadHeader: &protocol.PayloadHeader{}, DhTransformId: newTkm.suite.DhGroup.TransformId(), KeyData: newTkm.DhPublic}
	respNo := &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: newTkm.Nr}
	resp := childSaResponse(req, respSa, respKe, respNo)
	o.sendMsg(resp.Encode(o.tkm))

	// we are the sub-exchange responder here: our own new SPI is newSpiR.
	o.swapIkeSa(newTkm, newSpiR, peerSpi)
	return state.StateEvent{}
}

func (o *Session) acceptChildSaRekey(req *Message, kind rekeyKind, oldSpi []byte) state.StateEvent {
	sa := req.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	no := req.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if err := o.cfg.CheckProposals(protocol.ESP, sa.Proposals); err != nil {
		o.sendMsg(childSaErrorResponse(req, protocol.NO_PROPOSAL_CHOSEN).Encode(o.tkm))
		return state.StateEvent{}
	}
	if kind == rekeyRekeySa {
		if len(oldSpi) < 4 || (!bytesEqual4(oldSpi, o.EspSpiI[:4]) && !bytesEqual4(oldSpi, o.EspSpiR[:4])) {
			o.sendMsg(childSaErrorResponse(req, protocol.NO_PROPOSAL_CHOSEN).Encode(o.tkm))
			return state.StateEvent{}
		}
	}
	var peerSpi protocol.Spi
	for _, p := range sa.Proposals {
		if p.ProtocolId == protocol.ESP {
			copy(peerSpi[:4], p.Spi)
		}
	}
	newEspSpi := MakeSpi()

	// peer sent the request, so peer is this sub-exchange's initiator:
	// its nonce is Ni, our freshly generated one is Nr (RFC 7296 §2.17).
	ourNo, err := freshNonce(o.tkm.suite.Prf.Length * 8)
	if err != nil {
		return state.StateEvent{Event: state.FAIL, Data: err}
	}
	espEi, espAi, espEr, espAr := o.tkm.IpsecSaCreateRekey(no.Nonce, ourNo, nil)
	ourE, ourA, peerE, peerA := espKeysOurPeer(false, espEi, espAi, espEr, espAr)

	respSa := &protocol.SaPayload{PayloadHeader: &protocol.PayloadHeader{}, Proposals: ProposalFromTransform(protocol.ESP, o.cfg.ProposalEsp, newEspSpi[:4])}
	respNo := &protocol.NoncePayload{PayloadHeader: &protocol.PayloadHeader{}, Nonce: ourNo}
	var payloads []protocol.Payload
	payloads = append(payloads, respSa, respNo)
	if kind == rekeyChildSa {
		tsI, _ := req.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload)
		tsR, _ := req.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload)
		if tsI != nil && tsR != nil {
			payloads = append(payloads,
				protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSi, tsI.Selectors),
				protocol.NewTrafficSelectorPayload(protocol.PayloadTypeTSr, tsR.Selectors))
		}
	}
	resp := childSaResponse(req, payloads...)
	o.sendMsg(resp.Encode(o.tkm))

	if o.pendingRekey == nil || !o.pendingRekey.losing {
		o.swapChildSa(newEspSpi, peerSpi, ourE, ourA, peerE, peerA)
	}
	return state.StateEvent{}
}

// handleRekeyResponse processes the reply to a request this session sent
// via RekeyChildSa/RekeyIkeSa.
func (o *Session) handleRekeyResponse(m *Message) state.StateEvent {
	pending := o.pendingRekey
	if pending == nil {
		level.Warn(logger).Log("msg", "unexpected create_child_sa response, no rekey in progress", "tag", o.Tag())
		return state.StateEvent{}
	}
	o.pendingRekey = nil

	if n := m.Payloads.Get(protocol.PayloadTypeN); n != nil {
		notif := n.(*protocol.NotifyPayload)
		if _, isErr := protocol.GetIkeErrorCode(notif.NotificationType); isErr {
			level.Info(logger).Log("msg", "peer rejected rekey", "tag", o.Tag(), "notify", notif.NotificationType)
			return state.StateEvent{}
		}
	}

	if pending.kind == rekeyIkeSa {
		sa, _ := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
		ke, _ := m.Payloads.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
		no, _ := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
		if sa == nil || ke == nil || no == nil {
			return state.StateEvent{Data: protocol.ERR_INVALID_SYNTAX}
		}
		newTkm := pending.newTkm
		if err := newTkm.DhGenerateKey(ke.KeyData); err != nil {
			return state.StateEvent{Event: state.FAIL, Data: err}
		}
		newTkm.Nr = no.Nonce
		var peerSpi protocol.Spi
		for _, p := range sa.Proposals {
			if p.ProtocolId == protocol.IKE {
				copy(peerSpi[:], p.Spi)
			}
		}
		newTkm.IsaCreateRekey(o.tkm.skD, pending.newSpiI[:], peerSpi[:])
		if !pending.losing {
			// we sent the request: our own new SPI is pending.newSpiI.
			o.swapIkeSa(newTkm, pending.newSpiI, peerSpi)
		} else {
			level.Info(logger).Log("msg", "discarding our rekey, lost tie-break", "tag", o.Tag())
		}
		return state.StateEvent{}
	}

	sa, _ := m.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	no, _ := m.Payloads.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload)
	if sa == nil || no == nil {
		return state.StateEvent{Data: protocol.ERR_INVALID_SYNTAX}
	}
	var peerSpi protocol.Spi
	for _, p := range sa.Proposals {
		if p.ProtocolId == protocol.ESP {
			copy(peerSpi[:4], p.Spi)
		}
	}
	// we sent the request: our own nonce (pending.ni) is Ni.
	espEi, espAi, espEr, espAr := o.tkm.IpsecSaCreateRekey(pending.ni, no.Nonce, nil)
	ourE, ourA, peerE, peerA := espKeysOurPeer(true, espEi, espAi, espEr, espAr)
	if !pending.losing {
		o.swapChildSa(pending.newEsp, peerSpi, ourE, ourA, peerE, peerA)
	} else {
		level.Info(logger).Log("msg", "discarding our rekey, lost tie-break", "tag", o.Tag())
	}
	return state.StateEvent{}
}

// espKeysOurPeer reorders the RFC Ei/Ai/Er/Ar tuple (initiator-direction,
// responder-direction) IpsecSaCreateRekey returns into ours/peer's,
// according to which side sent the CREATE_CHILD_SA request this rekey's
// nonces came from. This keeps EspSpiI/EspEi paired the same way the
// original IKE_AUTH-created Child SA pairs them, regardless of which side
// happened to initiate this particular rekey exchange.
func espKeysOurPeer(weInitiated bool, ei, ai, er, ar []byte) (ourE, ourA, peerE, peerA []byte) {
	if weInitiated {
		return ei, ai, er, ar
	}
	return er, ar, ei, ai
}

func bytesEqual4(a, b []byte) bool {
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// swapIkeSa installs newTkm as the session's IKE SA key manager under the
// negotiated SPIs and resets message-ID sequencing (RFC 7296 §2.18): the
// new SA is a fresh IKE SA from the protocol's point of view. No explicit
// delete of the old SA is sent - see DESIGN.md for why.
func (o *Session) swapIkeSa(newTkm *Tkm, ourSpi, peerSpi protocol.Spi) {
	level.Info(logger).Log("msg", "ike sa rekeyed", "tag", o.Tag())
	o.tkm = newTkm
	o.IkeSpiI = ourSpi
	o.IkeSpiR = peerSpi
	o.msgIdReq = 0
	o.msgIdResp = 0
}

// swapChildSa retires the previous Child SA and installs the newly
// negotiated one as the session's one active Child SA. ourE/ourA and
// peerE/peerA are already in EspSpiI/EspSpiR order (see espKeysOurPeer).
func (o *Session) swapChildSa(ourSpi, peerSpi protocol.Spi, ourE, ourA, peerE, peerA []byte) {
	level.Info(logger).Log("msg", "child sa rekeyed", "tag", o.Tag())
	o.RemoveSa()
	copy(o.EspSpiI[:4], ourSpi[:4])
	copy(o.EspSpiR[:4], peerSpi[:4])
	o.installRekeyedChildSa(ourSpi, peerSpi, ourE, ourA, peerE, peerA)
}

// installRekeyedChildSa builds the platform.SaParams for a rekeyed Child
// SA directly from the keys this exchange just derived, bypassing
// addSa/saParamsFromSession - those always rederive keys from the IKE
// SA's original IKE_AUTH-time nonces, which are not the nonces a rekey
// actually used.
func (o *Session) installRekeyedChildSa(spiI, spiR protocol.Spi, espEi, espAi, espEr, espAr []byte) {
	encrId := protocol.EncrTransformId(o.cfg.ProposalEsp[protocol.TRANSFORM_TYPE_ENCR].Transform.TransformId)
	var authId protocol.AuthTransformId
	if integ, ok := o.cfg.ProposalEsp[protocol.TRANSFORM_TYPE_INTEG]; ok {
		authId = protocol.AuthTransformId(integ.Transform.TransformId)
	}
	sa := &platform.SaParams{
		IsInitiator:     o.isInitiator,
		SpiI:            spiI,
		SpiR:            spiR,
		EncrTransformId: encrId,
		AuthTransformId: authId,
		IsTransportMode: o.cfg.IsTransportMode,
		EspEi:           espEi,
		EspAi:           espAi,
		EspEr:           espEr,
		EspAr:           espAr,
		TsI:             o.cfg.TsI,
		TsR:             o.cfg.TsR,
	}
	if o.onAddSaCallback != nil {
		if err := o.onAddSaCallback(sa); err != nil {
			level.Error(logger).Log("msg", "add rekeyed sa failed", "err", err)
		}
	}
}
