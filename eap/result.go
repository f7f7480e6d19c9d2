package eap

// Result is the outcome of feeding one EAP frame to a Method: exactly one
// of its fields is meaningful, selected by Kind. This replaces an
// instanceof-driven EapResult/EapResponse/EapError hierarchy with a sum
// type whose variants are values, not subtypes (see the method base
// behavior contract).
type Kind uint8

const (
	// KindResponse: Response holds the wire bytes to send back; the
	// method remains in its current state.
	KindResponse Kind = iota
	// KindSuccess: the method reached Final with derived keys.
	KindSuccess
	// KindFailure: the method reached Final having failed authentication.
	KindFailure
	// KindError: a protocol ordering violation (EapInvalidRequestException)
	// that must be surfaced to the containing IKE exchange, not swallowed.
	KindError
)

type Result struct {
	Kind     Kind
	Response []byte
	MSK      []byte
	EMSK     []byte
	Err      error
}

func Response(b []byte) Result { return Result{Kind: KindResponse, Response: b} }
func Success(msk, emsk []byte) Result {
	return Result{Kind: KindSuccess, MSK: msk, EMSK: emsk}
}
func Failure() Result       { return Result{Kind: KindFailure} }
func Error(err error) Result { return Result{Kind: KindError, Err: err} }

// State is one of a method's lifecycle states; each method defines its
// own working states between StateCreated and StateFinal.
type State uint8

const (
	StateCreated State = iota
	StateFinal
)

// Method is implemented by every inner authentication method (SIM, AKA,
// AKA', MSCHAPv2, TTLS). Process feeds the method one decoded EAP frame
// and returns what to do next.
type Method interface {
	Process(msg *Message) Result
	CurrentState() State
}
