// Package platform describes the boundary between this engine and
// whatever programs IPsec security associations into the kernel or
// device. It is a data contract only; installing, tearing down or
// looking up kernel SAs is the caller's responsibility.
package platform

import (
	"net"

	"github.com/msgboxio/ike/protocol"
)

// SaParams carries everything a kernel IPsec SA installer needs for one
// Child SA: both directions' SPIs and keys, the negotiated transform,
// and the traffic selectors narrowing which packets it covers.
type SaParams struct {
	IsInitiator bool

	// Local and remote tunnel/transport endpoints.
	Initiator, Responder net.IP

	SpiI, SpiR protocol.Spi

	EncrTransformId protocol.EncrTransformId
	AuthTransformId protocol.AuthTransformId
	IsTransportMode bool

	EspEi, EspAi []byte // initiator-direction keys
	EspEr, EspAr []byte // responder-direction keys

	TsI, TsR []*protocol.Selector

	// Remove, when true, asks the installer to tear the SA down instead
	// of programming it; used for RemoveSa callbacks.
	Remove bool
}
