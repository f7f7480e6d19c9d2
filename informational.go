package ike

import (
	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

// encryptedMessage wraps a single payload in an SK-protected message of
// the given exchange type, bound for the peer.
func encryptedMessage(o *Session, exchange protocol.IkeExchangeType, isResponse bool, payload protocol.Payload) *Message {
	payloads := protocol.MakePayloads()
	if payload != nil {
		payload.SetNextPayload(protocol.PayloadTypeNone)
		payloads.Add(payload)
	}
	flags := protocol.IkeFlags(0)
	if o.isInitiator {
		flags |= protocol.INITIATOR
	}
	if isResponse {
		flags |= protocol.RESPONSE
	}
	return &Message{
		IkeHeader: &protocol.IkeHeader{
			SpiI:         o.IkeSpiI,
			SpiR:         o.IkeSpiR,
			NextPayload:  protocol.PayloadTypeSK,
			MajorVersion: protocol.IKEV2_MAJOR_VERSION,
			MinorVersion: protocol.IKEV2_MINOR_VERSION,
			ExchangeType: exchange,
			Flags:        flags,
		},
		Payloads: payloads,
	}
}

// NotifyFromSession builds an INFORMATIONAL message carrying a single
// error notification, used to tell the peer why we are tearing down.
func NotifyFromSession(o *Session, ie protocol.IkeErrorCode) *Message {
	return encryptedMessage(o, protocol.INFORMATIONAL, false, &protocol.NotifyPayload{
		PayloadHeader:    &protocol.PayloadHeader{},
		ProtocolId:       protocol.IKE,
		NotificationType: protocol.NotificationType(ie),
	})
}

// DeleteFromSession builds the INFORMATIONAL message that deletes this
// IKE SA, per RFC 7296 §1.4.
func DeleteFromSession(o *Session) *Message {
	return encryptedMessage(o, protocol.INFORMATIONAL, false, &protocol.DeletePayload{
		PayloadHeader: &protocol.PayloadHeader{},
		ProtocolId:    protocol.IKE,
	})
}

// EmptyFromSession builds an empty INFORMATIONAL message, used as a
// liveness check request or its reply (RFC 7296 §2.4).
func EmptyFromSession(o *Session, isResponse bool) *Message {
	return encryptedMessage(o, protocol.INFORMATIONAL, isResponse, nil)
}

// HandleInformationalForSession processes an incoming INFORMATIONAL
// exchange: a peer-initiated delete tears the session down, anything
// else (including an empty liveness check) just gets acknowledged.
func HandleInformationalForSession(o *Session, m *Message) *state.StateEvent {
	if del := m.Payloads.Get(protocol.PayloadTypeD); del != nil {
		level.Info(logger).Log("msg", "peer deleted ike sa", "tag", o.Tag())
		return &state.StateEvent{Event: state.DELETE_IKE_SA, Data: del}
	}
	if !m.IkeHeader.Flags.IsResponse() {
		o.SendEmptyInformational(true)
	}
	return nil
}
