package eap

import "github.com/pkg/errors"

// TLSFactory constructs the injected TLS session collaborator a TTLS
// method instance drives; concrete TLS stacks live outside this module.
type TLSFactory func(cfg *TTLSConfig) (TLSSession, error)

// Session is the top-level EAP conversation driver for one IKE_AUTH
// exchange. It answers EAP Identity Requests itself and otherwise has no method
// selected until the network's first typed Request names one, per
// SessionConfig's contract that exactly one method field is configured.
// A Session also implements Method, so EAP-TTLS can run one recursively
// as its tunneled inner conversation.
type Session struct {
	cfg        *SessionConfig
	auth       Authenticator
	tlsFactory TLSFactory
	method     Method
}

func NewSession(cfg *SessionConfig, auth Authenticator, tlsFactory TLSFactory) *Session {
	return &Session{cfg: cfg, auth: auth, tlsFactory: tlsFactory}
}

func (s *Session) CurrentState() State {
	if s.method == nil {
		return StateCreated
	}
	return s.method.CurrentState()
}

func (s *Session) Process(msg *Message) Result {
	if msg.Code == CodeRequest && msg.Type == TypeIdentity {
		resp := &Message{Code: CodeResponse, Identifier: msg.Identifier, Type: TypeIdentity, Data: append([]byte{}, s.cfg.Identity...)}
		return Response(resp.Encode())
	}
	if s.method == nil {
		m, err := s.selectMethod(msg.Type)
		if err != nil {
			return Error(err)
		}
		s.method = m
	}
	return s.method.Process(msg)
}

func (s *Session) selectMethod(t Type) (Method, error) {
	switch t {
	case TypeSIM:
		if s.cfg.Sim == nil {
			return nil, errors.New("network offered EAP-SIM but no EAP-SIM configuration is present")
		}
		return NewSIM(s.cfg.Sim, s.cfg.Identity, s.auth), nil
	case TypeAKA:
		if s.cfg.Aka == nil {
			return nil, errors.New("network offered EAP-AKA but no EAP-AKA configuration is present")
		}
		return NewAKA(s.cfg.Aka, s.cfg.Identity, s.auth), nil
	case TypeAKAPrime:
		if s.cfg.AkaPrime == nil {
			return nil, errors.New("network offered EAP-AKA' but no EAP-AKA' configuration is present")
		}
		return NewAKAPrime(s.cfg.AkaPrime, s.cfg.Identity, s.auth), nil
	case TypeMSCHAPV2:
		if s.cfg.MSCHAPv2 == nil {
			return nil, errors.New("network offered EAP-MSCHAPv2 but no EAP-MSCHAPv2 configuration is present")
		}
		return NewMSCHAPv2(s.cfg.MSCHAPv2), nil
	case TypeTTLS:
		if s.cfg.TTLS == nil {
			return nil, errors.New("network offered EAP-TTLS but no EAP-TTLS configuration is present")
		}
		if s.tlsFactory == nil {
			return nil, errors.New("EAP-TTLS requires a TLS session factory")
		}
		tls, err := s.tlsFactory(s.cfg.TTLS)
		if err != nil {
			return nil, err
		}
		var nest *Session
		if s.cfg.TTLS.Inner != nil {
			nest = NewSession(s.cfg.TTLS.Inner, s.auth, s.tlsFactory)
		}
		return NewTTLS(s.cfg.TTLS, tls, nest), nil
	default:
		return nil, errors.Errorf("no configured EAP method handles type %d", t)
	}
}
