package eap

import (
	"crypto/sha1"

	"github.com/pkg/errors"
)

// simState is SIM's own working-state progression, sitting between
// base's Created and Final (RFC 4186 §5).
type simState uint8

const (
	simStart simState = iota
	simChallenge
)

// SIM implements EAP-SIM (RFC 4186): Created -> Start -> Challenge ->
// Final.
type SIM struct {
	base
	inner simState

	cfg  *SimConfig
	auth Authenticator

	identity    []byte
	nonceMt     []byte
	versionList []byte
	selected    uint16
}

// NewSIM constructs a SIM method instance; identity is sent verbatim in
// the Start Response's AT_IDENTITY when the Start Request asks for it with
// AT_PERMANENT_ID_REQ or AT_ANY_ID_REQ (RFC 4186 §4.2).
func NewSIM(cfg *SimConfig, identity []byte, auth Authenticator) *SIM {
	return &SIM{cfg: cfg, identity: identity, auth: auth, inner: simStart}
}

const eapSimSupportedVersion uint16 = 1

func (m *SIM) Process(msg *Message) Result {
	if r, ok := m.handleCommon(msg); ok {
		return r
	}
	if wrongCode(msg, CodeRequest) {
		return Error(errors.New("expected an EAP-SIM Request"))
	}
	if msg.Type != TypeSIM {
		return Error(errors.Errorf("expected EAP type SIM, got %d", msg.Type))
	}
	subtype, list, err := decodeMethodData(msg.Data)
	if err != nil {
		return Response((&Message{Code: CodeResponse, Identifier: msg.Identifier, Type: TypeSIM,
			Data: encodeMethodData(SubtypeClientError, []Attribute{atClientErrorCode(ClientErrorUnableToProcess)})}).Encode())
	}
	switch m.inner {
	case simStart:
		return m.processStart(msg.Identifier, subtype, list)
	case simChallenge:
		return m.processChallenge(msg.Identifier, subtype, list)
	default:
		return Error(errors.New("EAP-SIM: Request received after conversation ended"))
	}
}

// SIM/AKA shared subtype values (RFC 4186 §9 / RFC 4187 §11).
const (
	SubtypeChallenge              uint8 = 1
	SubtypeNotification           uint8 = 12
	SubtypeClientError            uint8 = 14
	SubtypeStart                  uint8 = 10
	SubtypeIdentity               uint8 = 5
	SubtypeSynchronizationFailure uint8 = 4
)

func (m *SIM) processStart(id uint8, subtype uint8, list attrs) Result {
	if subtype != SubtypeStart {
		return Error(errors.New("EAP-SIM: expected Start subtype"))
	}
	if vl, ok := list.Get(AT_VERSION_LIST); ok {
		m.versionList = vl.Value
		// tie-break on multiple versions: highest common, and this
		// engine only ever speaks version 1.
		m.selected = eapSimSupportedVersion
	} else {
		m.selected = eapSimSupportedVersion
	}
	nonce := make([]byte, 16)
	if _, err := randRead(nonce); err != nil {
		return Error(err)
	}
	m.nonceMt = nonce

	out := []Attribute{
		atReservedBytes(AT_NONCE_MT, nonce),
		atU16(AT_SELECTED_VERSION, m.selected),
	}
	if _, ok := list.Get(AT_PERMANENT_ID_REQ); ok || func() bool { _, ok := list.Get(AT_ANY_ID_REQ); return ok }() {
		out = append(out, Attribute{Type: AT_IDENTITY, Value: identityValue(m.identity)})
	}
	resp := &Message{Code: CodeResponse, Identifier: id, Type: TypeSIM, Data: encodeMethodData(SubtypeStart, out)}
	m.inner = simChallenge
	return Response(resp.Encode())
}

func (m *SIM) processChallenge(id uint8, subtype uint8, list attrs) Result {
	if subtype != SubtypeChallenge {
		return Error(errors.New("EAP-SIM: expected Challenge subtype"))
	}
	randAttr, ok := list.Get(AT_RAND)
	if !ok || len(randAttr.Value) < 18 {
		return clientError(id, TypeSIM, SubtypeClientError)
	}
	rands := randAttr.Value[2:]
	var kcs []byte
	var sres []byte
	for len(rands) >= 16 {
		v, err := m.auth.Authenticate(AppSIM, rands[:16], nil)
		if err != nil {
			return Failure()
		}
		kcs = append(kcs, v.Kc...)
		sres = append(sres, v.Response...)
		rands = rands[16:]
	}
	mk := sha1Sum(m.identity, kcs, m.nonceMt, m.versionList, be16(m.selected))
	keys := prfGen(mk, 160)
	kAut, msk, emsk := keys[16:32], keys[32:96], keys[96:160]

	if err := verifyMethodMac(CodeRequest, id, TypeSIM, subtype, list, sha1.New, kAut, nil); err != nil {
		return clientError(id, TypeSIM, SubtypeClientError)
	}
	respList := []Attribute{atReservedBytes(AT_MAC, make([]byte, 16))}
	resp, err := signMethodMessage(CodeResponse, id, TypeSIM, subtype, respList, sha1.New, kAut, sres)
	if err != nil {
		return Error(err)
	}
	m.msk, m.emsk = msk, emsk
	return Response(resp.Encode())
}

func clientError(id uint8, t Type, subtype uint8) Result {
	m := &Message{Code: CodeResponse, Identifier: id, Type: t,
		Data: encodeMethodData(subtype, []Attribute{atClientErrorCode(ClientErrorUnableToProcess)})}
	return Response(m.Encode())
}

func identityValue(identity []byte) []byte {
	v := make([]byte, 2+len(identity))
	v[0] = byte(len(identity) >> 8)
	v[1] = byte(len(identity))
	copy(v[2:], identity)
	return v
}

func sha1Sum(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
