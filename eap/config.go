package eap

import "github.com/pkg/errors"

// AppType names whether a SIM authenticator challenge runs against a
// 2G SIM application or a 3G/4G USIM application.
type AppType uint8

const (
	AppSIM AppType = iota
	AppUSIM
)

// Vector is the authentication vector a SIM authenticator produces from
// a challenge: SRES/Kc for SIM, RES/CK/IK for AKA and AKA'.
type Vector struct {
	Response []byte // SRES (SIM) or RES (AKA/AKA')
	Kc       []byte // SIM only
	CK, IK   []byte // AKA/AKA' only
}

// SyncFailureError is returned by an Authenticator when the peer's
// sequence number is out of sync; Auts must be echoed back to the
// network in an AT_AUTS attribute (RFC 4187 §9.5).
type SyncFailureError struct{ Auts []byte }

func (e *SyncFailureError) Error() string { return "SIM authenticator reported synchronization failure" }

// ErrInvalidMac is returned by an Authenticator when it can independently
// assert the network's AUTN failed its own integrity check.
var ErrInvalidMac = errors.New("SIM authenticator reported an invalid network MAC")

// Authenticator is the injected UICC/telephony collaborator: it runs one
// challenge and returns the resulting vector, or a sync-failure/invalid-mac
// error. autn is nil for plain SIM (RFC 4186), non-nil for AKA/AKA'.
type Authenticator interface {
	Authenticate(appType AppType, rand, autn []byte) (*Vector, error)
}

// SimConfig configures an EAP-SIM method instance.
type SimConfig struct {
	SubId string
}

// AkaConfig configures an EAP-AKA or EAP-AKA' method instance. NetworkName
// and AllowMismatchedNetwork only matter for AKA' (RFC 5448 §3.1/§4).
type AkaConfig struct {
	SubId                  string
	NetworkName            string
	AllowMismatchedNetwork bool
}

// MSCHAPv2Config configures an EAP-MSCHAPv2 method instance.
type MSCHAPv2Config struct {
	Username, Password string
}

// TTLSConfig configures an EAP-TTLS method instance. Inner must not itself
// configure TTLS (checked by Validate, not by the type system, mirroring
// the recursive-config invariant named in the data model).
type TTLSConfig struct {
	CaCert []byte
	Inner  *SessionConfig
}

// SessionConfig is the per-session EAP configuration: identity plus the
// configuration for whichever single method the session will run. Exactly
// one of the method fields should be set; which one is chosen by the
// first EAP Request's Type.
type SessionConfig struct {
	Identity []byte

	Sim      *SimConfig
	Aka      *AkaConfig
	AkaPrime *AkaConfig
	MSCHAPv2 *MSCHAPv2Config
	TTLS     *TTLSConfig
}

// Validate enforces the no-nested-TTLS invariant.
func (c *SessionConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.TTLS != nil && c.TTLS.Inner != nil && c.TTLS.Inner.TTLS != nil {
		return errors.New("EAP-TTLS inner configuration must not itself configure EAP-TTLS")
	}
	return nil
}
