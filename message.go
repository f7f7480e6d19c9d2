package ike

import "github.com/msgboxio/ike/protocol"

// Message is the wire-codec type owned by the protocol package; aliased
// here so session handling code reads naturally within package ike.
type Message = protocol.Message
