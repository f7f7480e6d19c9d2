package ike

import (
	"errors"
	"net"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/eap"
	"github.com/msgboxio/ike/protocol"
)

// Identity names one end of the IKE SA for IDi/IDr and AUTH payload
// computation: an IdType plus its wire-encoded data, and the shared or
// private key material used to compute AUTH.
type Identity struct {
	IdType protocol.IdType
	Data   []byte
	// Secret is the PSK for AUTH_SHARED_KEY_MESSAGE_INTEGRITY_CODE, or
	// reserved for certificate-based private key material when signature
	// auth is configured.
	Secret []byte
}

type Config struct {
	ProposalIke, ProposalEsp protocol.Transforms

	TsI, TsR []*protocol.Selector

	IsTransportMode bool

	// ThrottleInitRequests, when set, makes this engine require a COOKIE
	// notification before continuing an IKE_SA_INIT exchange (RFC 7296
	// §2.6). Only meaningful for a session resuming after a COOKIE
	// challenge from the peer.
	ThrottleInitRequests bool

	AuthMethod       protocol.AuthMethod
	LocalID, RemoteID *Identity

	// EapConfig, when set, makes IKE_AUTH run EAP instead of exchanging
	// AUTH payloads directly (RFC 7296 §2.16): the initiator sends IDi
	// with no AUTH, loops EAP Request/Response, and only computes AUTH
	// (keyed by the EAP MSK, not LocalID.Secret) once EAP succeeds.
	EapConfig        *eap.SessionConfig
	EapAuthenticator eap.Authenticator
	EapTLSFactory    eap.TLSFactory
}

// UseEap reports whether this session authenticates via EAP rather than
// a directly exchanged AUTH payload.
func (cfg *Config) UseEap() bool { return cfg.EapConfig != nil }

func DefaultConfig() *Config {
	return &Config{
		ProposalIke: protocol.IKE_AES_GCM_16_DH_2048,
		ProposalEsp: protocol.ESP_AES_GCM_16,
		AuthMethod:  protocol.SHARED_KEY_MESSAGE_INTEGRITY_CODE,
	}
}

// CheckProposals checks if incoming proposals include our configuration
func (cfg *Config) CheckProposals(prot protocol.ProtocolId, proposals []*protocol.SaProposal) error {
	for _, prop := range proposals {
		if prop.ProtocolId != prot {
			continue
		}
		// select first acceptable one from the list
		switch prot {
		case protocol.IKE:
			if cfg.ProposalIke.Within(prop.Transforms) {
				return nil
			}
		case protocol.ESP:
			if cfg.ProposalEsp.Within(prop.Transforms) {
				return nil
			}
		}
	}
	return errors.New("acceptable proposals are missing")
}

// AddSelector builds a host-based selector from address & mask.
func (cfg *Config) AddSelector(initiator, responder *net.IPNet) (err error) {
	if cfg.TsI, err = hostSelector(initiator); err != nil {
		return
	}
	if cfg.TsR, err = hostSelector(responder); err != nil {
		return
	}
	return
}

// hostSelector builds the single selector covering every port of one
// address range.
func hostSelector(n *net.IPNet) ([]*protocol.Selector, error) {
	first, last, err := IPNetToFirstLastAddress(n)
	if err != nil {
		return nil, err
	}
	t := protocol.TS_IPV4_ADDR_RANGE
	if first.To4() == nil {
		t = protocol.TS_IPV6_ADDR_RANGE
	}
	sel, err := protocol.NewSelector(t, 0, 0, 65535, first, last)
	if err != nil {
		return nil, err
	}
	return []*protocol.Selector{sel}, nil
}

// DefaultSelectors builds the default TS array a Child SA proposal uses
// when no explicit AddSelector call narrows it: every port, across both
// address families (RFC 7296 §2.9's "as wide as possible" default).
func DefaultSelectors() []*protocol.Selector {
	v4, err := protocol.NewSelector(protocol.TS_IPV4_ADDR_RANGE, 0, 0, 65535,
		net.IPv4zero, net.IPv4bcast)
	if err != nil {
		panic(err) // constant, always valid
	}
	v6, err := protocol.NewSelector(protocol.TS_IPV6_ADDR_RANGE, 0, 0, 65535,
		net.IPv6zero, net.ParseIP("ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"))
	if err != nil {
		panic(err) // constant, always valid
	}
	return []*protocol.Selector{v4, v6}
}

// CheckFromInit takes an IkeSaInit message and checks
// if acceptable IKE proposal is available
func (cfg *Config) CheckFromInit(initI *Message) error {
	// get SA payload
	ikeSa := initI.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	return cfg.CheckProposals(protocol.IKE, ikeSa.Proposals)
}

// CheckromAuth checks esp proposal & selector
func (cfg *Config) CheckromAuth(authI *Message) error {
	espSa := authI.Payloads.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if err := cfg.CheckProposals(protocol.ESP, espSa.Proposals); err != nil {
		return err
	}
	// get selectors
	tsI := authI.Payloads.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload).Selectors
	tsR := authI.Payloads.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload).Selectors
	if len(tsI) == 0 || len(tsR) == 0 {
		return errors.New("acceptable traffic selectors are missing")
	}
	level.Debug(logger).Log("msg", "configured selectors", "initiator", cfg.TsI, "responder", cfg.TsR)
	level.Debug(logger).Log("msg", "offered selectors", "initiator", tsI, "responder", tsR)
	if !selectorsNarrow(cfg.TsI, tsI) || !selectorsNarrow(cfg.TsR, tsR) {
		return errors.New("offered traffic selectors are not within configured selectors")
	}
	return nil
}

// selectorsNarrow reports whether every selector in offered is covered by
// at least one selector in configured (RFC 7296 §2.9 narrowing).
func selectorsNarrow(configured, offered []*protocol.Selector) bool {
	for _, o := range offered {
		covered := false
		for _, c := range configured {
			if c.Contains(o) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func ProposalFromTransform(prot protocol.ProtocolId, trs protocol.Transforms, spi []byte) []*protocol.SaProposal {
	return []*protocol.SaProposal{
		&protocol.SaProposal{
			IsLast:     true,
			Number:     1,
			ProtocolId: prot,
			Spi:        append([]byte{}, spi...),
			Transforms: trs.AsList(),
		},
	}
}
