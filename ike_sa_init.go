package ike

import (
	"bytes"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
	"github.com/pkg/errors"
)

// InitFromSession creates IKE_SA_INIT messages
func InitFromSession(o *Session) *Message {
	nonce := o.tkm.Nr
	if o.isInitiator {
		nonce = o.tkm.Ni
	}
	return makeInit(&initParams{
		isInitiator:       o.isInitiator,
		spiI:              o.IkeSpiI[:],
		spiR:              o.IkeSpiR[:],
		proposals:         ProposalFromTransform(protocol.IKE, o.cfg.ProposalIke, o.IkeSpiI[:]),
		cookie:            o.responderCookie,
		dhTransformId:     o.tkm.suite.DhGroup.TransformId(),
		dhPublic:          o.tkm.DhPublic,
		nonce:             nonce,
		rfc7427Signatures: o.cfg.AuthMethod == protocol.AUTH_DIGITAL_SIGNATURE,
	})
}

// CheckInitResponseForSession validates a responder's IKE_SA_INIT reply,
// including the COOKIE/INVALID_KE_PAYLOAD/NO_PROPOSAL_CHOSEN retry notifies
// RFC 7296 §2.6/§1.5 define.
func CheckInitResponseForSession(o *Session, init *initParams) error {
	if init.isInitiator { // responder must clear the initiator flag
		return protocol.ERR_INVALID_SYNTAX
	}
	// make sure responder spi is not the same as initiator spi
	if bytes.Equal(init.spiR, init.spiI) {
		return errors.WithStack(protocol.ERR_INVALID_SYNTAX)
	}
	// handle INVALID_KE_PAYLOAD, NO_PROPOSAL_CHOSEN, or COOKIE
	for _, notif := range init.ns {
		switch notif.NotificationType {
		case protocol.COOKIE:
			return CookieError{notif}
		case protocol.INVALID_KE_PAYLOAD:
			return protocol.ERR_INVALID_KE_PAYLOAD
		case protocol.NO_PROPOSAL_CHOSEN:
			return protocol.ERR_NO_PROPOSAL_CHOSEN
		}
	}
	// make sure responder spi is set
	if SpiToInt64(init.spiR) == 0 {
		return errors.WithStack(protocol.ERR_INVALID_SYNTAX)
	}
	return nil
}

// checkSignatureAlgo returns an error if secure signatures are configured
// but not proposed by the peer.
func checkSignatureAlgo(o *Session, isEnabled bool) error {
	if !isEnabled {
		level.Warn(logger).Log("msg", "not using secure signatures")
		if o.cfg.AuthMethod == protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE {
			return errors.New("Peer is not using secure signatures")
		}
	}
	return nil
}

// HandleInitForSession processes a decoded IKE_SA_INIT message - the
// initiator's own echo when resuming after a COOKIE, or the responder's
// reply - and folds its contents into the session's key material.
func HandleInitForSession(o *Session, m *Message) error {
	init, err := initParamsFromMessage(m)
	if err != nil {
		return err
	}
	if o.isInitiator {
		if err := CheckInitResponseForSession(o, init); err != nil {
			return err
		}
	}
	// process notifications: NAT-T detection and RFC 7427 hash negotiation
	var rfc7427Signatures = false
	for _, ns := range init.ns {
		switch ns.NotificationType {
		case protocol.SIGNATURE_HASH_ALGORITHMS:
			level.Info(logger).Log("msg", "peer requested signature auth", "method", protocol.AUTH_DIGITAL_SIGNATURE)
			rfc7427Signatures = true
		case protocol.NAT_DETECTION_DESTINATION_IP:
			if !checkNatHash(ns.Data, init.spiI, init.spiR, m.LocalAddr) {
				level.Info(logger).Log("msg", "host nat detected", "addr", m.LocalAddr)
			}
		case protocol.NAT_DETECTION_SOURCE_IP:
			if !checkNatHash(ns.Data, init.spiI, init.spiR, m.RemoteAddr) {
				level.Info(logger).Log("msg", "peer nat detected", "addr", m.RemoteAddr)
			}
		}
	}
	// returns error if secure signatures are configured, but not proposed by peer
	if err := checkSignatureAlgo(o, rfc7427Signatures); err != nil {
		return err
	}
	// get nonce & spi from responder's response
	if o.isInitiator {
		o.tkm.Nr = init.nonce
		copy(o.IkeSpiR[:], init.spiR)
	}
	// TODO: once a NAT is detected, move the session to port 4500 and start
	// sending periodic keepalives to hold the NAT binding open.
	//
	// we know what IKE ciphersuite the peer selected; generate the keys
	// necessary for IKE SA protection and encryption from our DH private
	// key and their public value.
	if err := o.tkm.DhGenerateKey(init.dhPublic); err != nil {
		return err
	}
	o.tkm.IsaCreate(o.IkeSpiI[:], o.IkeSpiR[:])
	level.Info(logger).Log("msg", "ike sa initialised", "tag", o.Tag())
	if o.isInitiator {
		o.initRb = m.Data
	} else {
		o.initIb = m.Data
	}
	return nil
}
