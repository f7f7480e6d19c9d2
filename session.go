package ike

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/eap"
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

type SaCallback func(sa *platform.SaParams) error
type WriteData func([]byte) error

type Session struct {
	context.Context
	cancel context.CancelCauseFunc
	*state.Fsm
	isClosing bool

	cfg *Config // copy of passed in config

	tkm                   *Tkm
	authRemote, authLocal Authenticator
	// should we use rfc7427 signature algos?
	rfc7427Signatures bool

	isInitiator         bool
	IkeSpiI, IkeSpiR    protocol.Spi
	EspSpiI, EspSpiR    protocol.Spi
	msgIdReq, msgIdResp uint32

	responderCookie []byte

	incoming chan *Message
	outgoing chan []byte

	initIb, initRb []byte

	onAddSaCallback, onRemoveSaCallback SaCallback

	// eapSession drives IKE_AUTH's EAP loop when cfg.UseEap(); nil
	// otherwise, and nil again once EAP succeeds and AUTH takes over.
	eapSession *eap.Session

	// retry tracks the retransmit timer for whichever request is
	// currently outstanding; nil when nothing awaits a response.
	retry *retryState

	// fragIn reassembles inbound SKF fragments, keyed by message ID.
	fragIn map[uint32]*fragReassembly

	// pendingRekey tracks a CREATE_CHILD_SA exchange this session itself
	// initiated, until its response (or a colliding peer request) resolves
	// it; nil when no rekey of ours is outstanding.
	pendingRekey *pendingRekey
}

// Housekeeping

func (o *Session) Tag() string {
	return fmt.Sprintf("%#x<=>%#x: ", o.IkeSpiI, o.IkeSpiR)
}

func (o *Session) AddSaHandlers(onAddSa, onRemoveSa SaCallback) {
	o.onAddSaCallback = onAddSa
	o.onRemoveSaCallback = onRemoveSa
}

func (o *Session) Run(writeData WriteData) {
	for {
		select {
		case reply, ok := <-o.outgoing:
			if !ok {
				break
			}
			if err := writeData(reply); err != nil {
				o.Close(err)
				break
			}
		case msg, ok := <-o.incoming:
			if !ok {
				break
			}
			if err := o.handleEncryptedMessage(msg); err != nil {
				if err == errFragmentPending {
					level.Debug(logger).Log("msg", "fragment received, awaiting more", "tag", o.Tag())
				} else {
					level.Warn(logger).Log("msg", "drop message", "err", err)
				}
				break
			}
			if msg.IkeHeader.Flags.IsResponse() {
				// the whole message (every SKF fragment, if any) is now
				// in hand: confirm the request id and stop retransmitting.
				o.msgIdReq++
				o.cancelRetransmit()
			}
			if evt := o.handleMessage(msg); evt != nil {
				o.PostEvent(*evt)
			}
		case evt, ok := <-o.Events():
			if !ok {
				break
			}
			o.HandleEvent(evt)
		case <-o.Done():
			level.Info(logger).Log("msg", "finished ike sa", "tag", o.Tag())
			return
		}
	}
}

func (o *Session) PostMessage(m *Message) {
	if err := o.isMessageValid(m); err != nil {
		level.Warn(logger).Log("msg", "drop message", "tag", o.Tag(), "err", err)
		return
	}
	if o.Context.Err() != nil {
		level.Warn(logger).Log("msg", "drop message, closing", "tag", o.Tag())
		return
	}
	o.incoming <- m
}

func (o *Session) handleMessage(msg *Message) (evt *state.StateEvent) {
	evt = &state.StateEvent{Data: msg}
	switch msg.IkeHeader.ExchangeType {
	case protocol.IKE_SA_INIT:
		evt.Event = state.MSG_INIT
		return
	case protocol.IKE_AUTH:
		evt.Event = state.MSG_AUTH
		return
	case protocol.CREATE_CHILD_SA:
		evt.Event = state.MSG_CHILD_SA
		return
	case protocol.INFORMATIONAL:
		return HandleInformationalForSession(o, msg)
	}
	return nil
}

func (o *Session) sendMsg(buf []byte, err error) (s state.StateEvent) {
	if err != nil {
		level.Error(logger).Log("msg", "encode failed", "err", err)
		s.Event = state.FAIL
		s.Data = err
		return
	}
	o.outgoing <- buf
	return
}

func (o *Session) msgIdInc(isResponse bool) (msgId uint32) {
	if isResponse {
		msgId = o.msgIdResp
		o.msgIdResp++
	} else {
		msgId = o.msgIdReq
	}
	return
}

// Close is called to shutdown this session
func (o *Session) Close(err error) {
	level.Info(logger).Log("msg", "close session", "tag", o.Tag(), "err", err)
	if o.isClosing {
		return
	}
	o.isClosing = true
	o.sendIkeSaDelete()
	// TODO - start timeout to delete sa if peers does not reply
	o.PostEvent(state.StateEvent{Event: state.DELETE_IKE_SA, Data: err})
}

// callbacks

// Finished is called by state machine upon entering finished state
func (o *Session) Finished() (s state.StateEvent) {
	if queued := len(o.outgoing); queued > 0 {
		// drain queue by going round the block again
		o.PostEvent(state.StateEvent{Event: state.FINISHED})
		return
	}
	close(o.incoming)
	close(o.outgoing)
	o.CloseEvents()
	level.Info(logger).Log("msg", "finished, cancel context", "tag", o.Tag())
	o.cancel(context.Canceled)
	return
}

// SetHashAlgorithms callback from ike sa init
func (o *Session) SetHashAlgorithms(isEnabled bool) {
	if !isEnabled && o.rfc7427Signatures {
		level.Warn(logger).Log("msg", "peer is not using secure signatures")
	}
	o.rfc7427Signatures = isEnabled
}

// SendInit callback from state machine
func (o *Session) SendInit() (s state.StateEvent) {
	initMsg := func(msgId uint32) ([]byte, error) {
		init := InitFromSession(o)
		init.IkeHeader.MsgId = msgId
		// encode
		initB, err := init.Encode(o.tkm)
		if err != nil {
			return nil, err
		}
		if o.isInitiator {
			o.initIb = initB
		} else {
			o.initRb = initB
		}
		return initB, nil
	}
	return o.sendRequest(initMsg(o.msgIdInc(!o.isInitiator)))
}

// SendAuth callback from state machine
func (o *Session) SendAuth() (s state.StateEvent) {
	// a config built with only a proposal gets the widest possible default
	// selectors rather than failing the exchange
	if o.cfg.TsI == nil {
		o.cfg.TsI = DefaultSelectors()
	}
	if o.cfg.TsR == nil {
		o.cfg.TsR = DefaultSelectors()
	}
	level.Info(logger).Log("msg", "sa selectors", "initiator", o.cfg.TsI, "responder", o.cfg.TsR)

	if o.cfg.UseEap() {
		o.eapSession = eap.NewSession(o.cfg.EapConfig, o.cfg.EapAuthenticator, o.cfg.EapTLSFactory)
		req := EapAuthFromSession(o)
		req.IkeHeader.MsgId = o.msgIdInc(!o.isInitiator)
		return o.sendRequest(req.Encode(o.tkm))
	}

	auth := AuthFromSession(o)
	if auth == nil {
		return state.StateEvent{
			Event: state.AUTH_FAIL,
			Data:  protocol.ERR_NO_PROPOSAL_CHOSEN,
		}
	}
	auth.IkeHeader.MsgId = o.msgIdInc(!o.isInitiator)
	return o.sendRequestMessage(auth)
}

// InstallSa callback from state machine
func (o *Session) InstallSa() (s state.StateEvent) {
	sa := addSa(o.tkm,
		o.IkeSpiI, o.IkeSpiR,
		o.EspSpiI, o.EspSpiR,
		o.cfg,
		o.isInitiator)
	if o.onAddSaCallback != nil {
		if err := o.onAddSaCallback(sa); err != nil {
			level.Error(logger).Log("msg", "add sa failed", "err", err)
		}
	}
	return
}

// RemoveSa callback from state machine
func (o *Session) RemoveSa() (s state.StateEvent) {
	sa := removeSa(o.tkm,
		o.IkeSpiI, o.IkeSpiR,
		o.EspSpiI, o.EspSpiR,
		o.cfg,
		o.isInitiator)
	if o.onRemoveSaCallback != nil {
		if err := o.onRemoveSaCallback(sa); err != nil {
			level.Error(logger).Log("msg", "remove sa failed", "err", err)
		}
	}
	return
}

// handlers

// HandleIkeSaInit callback from state machine
func (o *Session) HandleIkeSaInit(msg interface{}) state.StateEvent {
	// response
	m := msg.(*Message)
	if err := HandleInitForSession(o, m); err != nil {
		level.Error(logger).Log("msg", "ike sa init failed", "err", err)
		return state.StateEvent{
			Event: state.INIT_FAIL,
			Data:  protocol.ERR_NO_PROPOSAL_CHOSEN, // TODO - always return this?
		}
	}
	return state.StateEvent{Event: state.SUCCESS}
}

// HandleIkeAuth callback from state machine. It runs once per IKE_AUTH
// response; with EapConfig set that may take several rounds (RFC 7296
// §2.16), so it returns a zero Event to keep the machine in STATE_AUTH
// until EAP succeeds or the peer's final AUTH verifies.
func (o *Session) HandleIkeAuth(msg interface{}) (s state.StateEvent) {
	m := msg.(*Message)
	if o.cfg.UseEap() {
		evt := HandleEapAuthForSession(o, m)
		if evt.Event == state.AUTH_FAIL {
			level.Error(logger).Log("msg", "ike auth failed", "err", evt.Data)
		}
		return evt
	}
	if err := HandleAuthForSession(o, m); err != nil {
		level.Error(logger).Log("msg", "ike auth failed", "err", err)
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	return state.StateEvent{Event: state.SUCCESS}
}

// CheckSa callback from state machine
func (o *Session) CheckSa(m interface{}) (s state.StateEvent) {
	// get message
	msg := m.(*Message)
	return checkSaForSession(o, msg)
}

func (o *Session) HandleClose(msg interface{}) (s state.StateEvent) {
	level.Info(logger).Log("msg", "peer closed session", "tag", o.Tag())
	if o.isClosing {
		return
	}
	o.isClosing = true
	o.SendEmptyInformational(true)
	o.RemoveSa()
	return
}

// CheckError callback from fsm
// if there is a notification, then ignore it
// if there is an error, then send to peer
func (o *Session) CheckError(msg interface{}) (s state.StateEvent) {
	if notif, ok := msg.(protocol.NotificationType); ok {
		// check if the received notification was an error
		if _, ok := protocol.GetIkeErrorCode(notif); ok {
			// ignore it
			return
		}
	} else if iErr, ok := msg.(protocol.IkeErrorCode); ok {
		o.Notify(iErr)
		return
	}
	return
}

// utilities

func (o *Session) Notify(ie protocol.IkeErrorCode) {
	info := NotifyFromSession(o, ie)
	info.IkeHeader.MsgId = o.msgIdInc(false)
	// encode & send
	o.sendMsg(info.Encode(o.tkm))
}

func (o *Session) sendIkeSaDelete() {
	info := DeleteFromSession(o)
	info.IkeHeader.MsgId = o.msgIdInc(false)
	// encode & send
	o.sendMsg(info.Encode(o.tkm))
}

// SendEmptyInformational can be used for periodic keepalive
func (o *Session) SendEmptyInformational(isResponse bool) {
	info := EmptyFromSession(o, isResponse)
	info.IkeHeader.MsgId = o.msgIdInc(isResponse)
	// encode & send
	o.sendMsg(info.Encode(o.tkm))
}

func (o *Session) AddHostBasedSelectors(local, remote net.IP) {
	level.Info(logger).Log("msg", "adding host based traffic selectors", "tag", o.Tag())
	slen := len(local) * 8
	ini := remote
	res := local
	if o.isInitiator {
		ini = local
		res = remote
	}
	o.cfg.AddSelector(
		&net.IPNet{IP: ini, Mask: net.CIDRMask(slen, slen)},
		&net.IPNet{IP: res, Mask: net.CIDRMask(slen, slen)})
}

func (o *Session) isMessageValid(m *Message) error {
	if spi := m.IkeHeader.SpiI; !bytes.Equal(spi[:], o.IkeSpiI[:]) {
		return fmt.Errorf("different initiator Spi %x", spi)
	}
	// Dont check Responder SPI. initiator IKE_SA_INIT does not have it
	// for un-encrypted payloads, make sure that the state is correct
	if m.IkeHeader.NextPayload != protocol.PayloadTypeSK && m.IkeHeader.NextPayload != protocol.PayloadTypeSKF {
		if o.Fsm.State != state.STATE_IDLE && o.Fsm.State != state.STATE_START {
			return fmt.Errorf("unexpected unencrypted message in state: %s", o.Fsm.State)
		}
	}
	// check sequence numbers
	seq := m.IkeHeader.MsgId
	if m.IkeHeader.Flags.IsResponse() {
		// response id ought to be the same as our request id; bumped to
		// the next request id only once handleEncryptedMessage confirms
		// the full message (all fragments, for an SKF reply) is in hand
		if seq != o.msgIdReq {
			return fmt.Errorf("unexpected response id %d, expected %d",
				seq, o.msgIdReq)
		}
	} else { // request
		// TODO - does not handle our responses getting lost
		if seq != o.msgIdResp {
			return fmt.Errorf("unexpected request id %d, expected %d",
				seq, o.msgIdResp)
		}
		// incremented by sender
	}
	return nil
}

func (o *Session) handleEncryptedMessage(m *Message) (err error) {
	switch m.IkeHeader.NextPayload {
	case protocol.PayloadTypeSK:
		return m.DecodePayloads(m.Data, o.tkm)
	case protocol.PayloadTypeSKF:
		return o.reassembleFragment(m)
	default:
		return nil
	}
}
