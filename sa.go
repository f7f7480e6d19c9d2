package ike

import (
	"github.com/msgboxio/ike/platform"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
)

func saParamsFromSession(tkm *Tkm, spiI, spiR, espSpiI, espSpiR protocol.Spi, cfg *Config, isInitiator bool) *platform.SaParams {
	espEi, espAi, espEr, espAr := tkm.IpsecSaCreate(espSpiI[:4], espSpiR[:4])
	encrId := protocol.EncrTransformId(cfg.ProposalEsp[protocol.TRANSFORM_TYPE_ENCR].Transform.TransformId)
	var authId protocol.AuthTransformId
	if integ, ok := cfg.ProposalEsp[protocol.TRANSFORM_TYPE_INTEG]; ok {
		authId = protocol.AuthTransformId(integ.Transform.TransformId)
	}
	return &platform.SaParams{
		IsInitiator:     isInitiator,
		SpiI:            espSpiI,
		SpiR:            espSpiR,
		EncrTransformId: encrId,
		AuthTransformId: authId,
		IsTransportMode: cfg.IsTransportMode,
		EspEi:           espEi,
		EspAi:           espAi,
		EspEr:           espEr,
		EspAr:           espAr,
		TsI:             cfg.TsI,
		TsR:             cfg.TsR,
	}
}

// addSa builds the platform.SaParams describing the Child SA just
// negotiated, ready for the caller's onAddSaCallback to program into the
// kernel.
func addSa(tkm *Tkm, spiI, spiR, espSpiI, espSpiR protocol.Spi, cfg *Config, isInitiator bool) *platform.SaParams {
	return saParamsFromSession(tkm, spiI, spiR, espSpiI, espSpiR, cfg, isInitiator)
}

// removeSa builds the platform.SaParams for tearing the Child SA down.
func removeSa(tkm *Tkm, spiI, spiR, espSpiI, espSpiR protocol.Spi, cfg *Config, isInitiator bool) *platform.SaParams {
	sa := saParamsFromSession(tkm, spiI, spiR, espSpiI, espSpiR, cfg, isInitiator)
	sa.Remove = true
	return sa
}

// checkSaForSession validates a CREATE_CHILD_SA request's proposal and
// selectors against configuration.
func checkSaForSession(o *Session, m *Message) (s state.StateEvent) {
	if err := o.cfg.CheckromAuth(m); err != nil {
		return state.StateEvent{Event: state.AUTH_FAIL, Data: err}
	}
	return state.StateEvent{Event: state.SUCCESS}
}
