package eap

import (
	"crypto/sha1"
	"crypto/sha256"

	"github.com/pkg/errors"
)

type akaInnerState uint8

const (
	akaIdentity akaInnerState = iota
	akaChallenge
)

// AKA implements EAP-AKA (RFC 4187) and, when prime is set, EAP-AKA'
// (RFC 5448): Created -> Identity -> Challenge -> Final. The two methods
// share every state transition; they differ only in key derivation and,
// for AKA', the AT_KDF_INPUT network-name check.
type AKA struct {
	base
	inner akaInnerState

	prime bool
	cfg   *AkaConfig
	auth  Authenticator

	identity []byte
	typ      Type
}

func NewAKA(cfg *AkaConfig, identity []byte, auth Authenticator) *AKA {
	return &AKA{cfg: cfg, identity: identity, auth: auth, typ: TypeAKA, inner: akaIdentity}
}

func NewAKAPrime(cfg *AkaConfig, identity []byte, auth Authenticator) *AKA {
	return &AKA{cfg: cfg, identity: identity, auth: auth, typ: TypeAKAPrime, prime: true, inner: akaIdentity}
}

func (m *AKA) Process(msg *Message) Result {
	if r, ok := m.handleCommon(msg); ok {
		return r
	}
	if wrongCode(msg, CodeRequest) {
		return Error(errors.New("expected an EAP-AKA Request"))
	}
	if msg.Type != m.typ {
		return Error(errors.Errorf("expected EAP type %d, got %d", m.typ, msg.Type))
	}
	subtype, list, err := decodeMethodData(msg.Data)
	if err != nil {
		return clientError(msg.Identifier, m.typ, SubtypeClientError)
	}
	switch subtype {
	case SubtypeIdentity:
		return m.processIdentity(msg.Identifier, list)
	case SubtypeChallenge:
		return m.processChallenge(msg.Identifier, list)
	default:
		return Error(errors.Errorf("EAP-AKA: unexpected subtype %d", subtype))
	}
}

// processIdentity replies with whichever identity the network asked for;
// this engine only ever has the one configured identity to offer.
func (m *AKA) processIdentity(id uint8, list attrs) Result {
	out := []Attribute{{Type: AT_IDENTITY, Value: identityValue(m.identity)}}
	resp := &Message{Code: CodeResponse, Identifier: id, Type: m.typ, Data: encodeMethodData(SubtypeIdentity, out)}
	m.inner = akaChallenge
	return Response(resp.Encode())
}

func (m *AKA) processChallenge(id uint8, list attrs) Result {
	randAttr, ok1 := list.Get(AT_RAND)
	autnAttr, ok2 := list.Get(AT_AUTN)
	if !ok1 || !ok2 {
		return clientError(id, m.typ, SubtypeClientError)
	}
	rand, err := reservedBytesValue(randAttr, 16)
	if err != nil {
		return clientError(id, m.typ, SubtypeClientError)
	}
	autn, err := reservedBytesValue(autnAttr, 16)
	if err != nil {
		return clientError(id, m.typ, SubtypeClientError)
	}

	if m.prime {
		if kdfInput, ok := list.Get(AT_KDF_INPUT); ok {
			name, err := identityString(kdfInput.Value)
			if err == nil && name != m.cfg.NetworkName && !m.cfg.AllowMismatchedNetwork {
				return Failure()
			}
		}
	}

	v, err := m.auth.Authenticate(AppUSIM, rand, autn)
	if err != nil {
		var sync *SyncFailureError
		if errors.As(err, &sync) {
			out := []Attribute{atReservedBytes(AT_AUTS, sync.Auts)}
			resp := &Message{Code: CodeResponse, Identifier: id, Type: m.typ,
				Data: encodeMethodData(SubtypeSynchronizationFailure, out)}
			return Response(resp.Encode())
		}
		if errors.Is(err, ErrInvalidMac) {
			return clientError(id, m.typ, SubtypeClientError)
		}
		return Failure()
	}

	var kAut, msk, emsk []byte
	if m.prime {
		networkName := m.cfg.NetworkName
		if kdfInput, ok := list.Get(AT_KDF_INPUT); ok {
			if name, err := identityString(kdfInput.Value); err == nil {
				networkName = name
			}
		}
		ckp, ikp := deriveCkIkPrime(v.CK, v.IK, networkName)
		keys := deriveAkaPrimeKeys(m.identity, ckp, ikp)
		kAut, msk, emsk = keys.kAut, keys.msk, keys.emsk
	} else {
		keys := deriveAkaKeys(m.identity, v.IK, v.CK)
		kAut, msk, emsk = keys.kAut, keys.msk, keys.emsk
	}

	macHash := sha1.New
	if m.prime {
		macHash = sha256.New
	}
	if err := verifyMethodMac(CodeRequest, id, m.typ, SubtypeChallenge, list, macHash, kAut, nil); err != nil {
		return clientError(id, m.typ, SubtypeClientError)
	}

	respList := []Attribute{
		atReservedBytes(AT_MAC, make([]byte, 16)),
		{Type: AT_RES, Value: resValue(v.Response)},
	}
	resp, err := signMethodMessage(CodeResponse, id, m.typ, SubtypeChallenge, respList, macHash, kAut, nil)
	if err != nil {
		return Error(err)
	}
	m.msk, m.emsk = msk, emsk
	return Response(resp.Encode())
}

func resValue(res []byte) []byte {
	v := make([]byte, 2+len(res))
	v[0] = byte((len(res) * 8) >> 8)
	v[1] = byte(len(res) * 8)
	copy(v[2:], res)
	return v
}

func identityString(v []byte) (string, error) {
	if len(v) < 2 {
		return "", errors.New("identity attribute too short")
	}
	n := int(v[0])<<8 | int(v[1])
	if len(v) < 2+n {
		return "", errors.New("identity attribute truncated")
	}
	return string(v[2 : 2+n]), nil
}

type akaKeys struct{ kAut, msk, emsk []byte }

// deriveAkaKeys implements RFC 4187 §7: MK = SHA1(Identity|IK|CK), then
// PRF(MK) sliced into K_encr|K_aut|MSK|EMSK.
func deriveAkaKeys(identity, ik, ck []byte) akaKeys {
	mk := sha1Sum(identity, ik, ck)
	keys := prfGen(mk, 160)
	return akaKeys{kAut: keys[16:32], msk: keys[32:96], emsk: keys[96:160]}
}

// deriveAkaPrimeKeys implements RFC 5448 §3.3: key = IK'|CK', seed =
// "EAP-AKA'"|Identity, PRF'(key,seed) sliced into K_encr|K_aut|K_re|MSK|EMSK.
func deriveAkaPrimeKeys(identity, ckPrime, ikPrime []byte) akaKeys {
	key := append(append([]byte{}, ikPrime...), ckPrime...)
	seed := append([]byte("EAP-AKA'"), identity...)
	keys := prfPlus(key, seed, 208)
	return akaKeys{kAut: keys[16:48], msk: keys[80:144], emsk: keys[144:208]}
}

// deriveCkIkPrime implements RFC 5448 §3.1/§3.2: CK'/IK' derivation from
// CK, IK and the access network identity.
func deriveCkIkPrime(ck, ik []byte, networkName string) (ckPrime, ikPrime []byte) {
	key := append(append([]byte{}, ik...), ck...)
	anId := []byte(networkName)
	seed := func(fc byte) []byte {
		s := make([]byte, 0, 1+8+2+len(anId)+2)
		s = append(s, fc)
		s = append(s, []byte("EAP-AKA'")...)
		s = append(s, 0x00, 0x08)
		s = append(s, anId...)
		l := uint16(len(anId))
		s = append(s, byte(l>>8), byte(l))
		return s
	}
	ckPrime = prfPlus(key, seed(0x20), 32)[:16]
	ikPrime = prfPlus(key, seed(0x21), 32)[:16]
	return
}
