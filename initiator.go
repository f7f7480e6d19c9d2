package ike

import (
	"context"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/state"
)

// NewInitiator creates an initiator session and queues the SMI_START
// event that kicks off IKE_SA_INIT; call Session.Run to drive it.
func NewInitiator(parent context.Context, cfg *Config) (*Session, error) {
	suite, err := crypto.NewCipherSuite(cfg.ProposalIke)
	if err != nil {
		return nil, err
	}
	espSuite, err := crypto.NewCipherSuite(cfg.ProposalEsp)
	if err != nil {
		return nil, err
	}

	tkm, err := NewTkmInitiator(suite, espSuite)
	if err != nil {
		return nil, err
	}

	cxt, cancel := context.WithCancelCause(parent)
	o := &Session{
		Context:     cxt,
		cancel:      cancel,
		isInitiator: true,
		tkm:         tkm,
		cfg:         cfg,
		IkeSpiI:     MakeSpi(),
		EspSpiI:     MakeSpi(),
		incoming:    make(chan *Message, 10),
		outgoing:    make(chan []byte, 10),
	}

	// the 4th argument names which side of the exchange the identity
	// belongs to, not which side this session is playing: we are always
	// the initiator here, so our own identity signs as initiator and the
	// peer's always verifies as responder.
	o.authLocal = NewAuthenticator(cfg.LocalID, o.tkm, cfg.AuthMethod, true)
	o.authRemote = NewAuthenticator(cfg.RemoteID, o.tkm, cfg.AuthMethod, false)
	o.Fsm = state.NewFsm(InitiatorTransitions(o), CommonTransitions(o))
	o.PostEvent(state.StateEvent{Event: state.SMI_START})
	return o, nil
}
