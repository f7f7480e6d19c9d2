package ike

import (
	"crypto/rand"
	"math/big"

	"github.com/msgboxio/ike/crypto"
	"github.com/msgboxio/ike/protocol"
	"github.com/pkg/errors"
)

// ike-seperation.pdf

// 2.1.2 IKE_SA_INIT
// tkm creates KEi, Ni

// get SKEYSEED
// derive SK_e (encryption) and SK_a (authentication)

// 2.1.3 IKE_AUTH
// tkm creates SK, AUTH

// 2.1.4 CREATE_CHILD_SA
// tkm creates SK, Ni, [KEi]

// Tkm holds all key material for one IKE SA: the negotiated IKE cipher
// suite, the ESP cipher suite proposed for the first Child SA, and the
// keys derived from them. It satisfies protocol.SkCodec so the wire codec
// can encrypt and authenticate SK payloads without knowing about keys.
type Tkm struct {
	suite    *crypto.CipherSuite // IKE SA transforms
	espSuite *crypto.CipherSuite // Child SA transforms, used by IpsecSaCreate

	isInitiator bool

	Nr, Ni *big.Int

	DhPrivate, DhPublic *big.Int
	DhShared            *big.Int

	// for debug / tests
	SKEYSEED, KEYMAT []byte

	skD        []byte // further keying material for child sa
	skPi, skPr []byte
	skAi, skAr []byte // integrity protection keys
	skEi, skEr []byte // encryption keys
}

func NewTkmInitiator(suite, espSuite *crypto.CipherSuite) (tkm *Tkm, err error) {
	if err = suite.CheckIkeTransforms(); err != nil {
		return nil, err
	}
	tkm = &Tkm{
		suite:       suite,
		espSuite:    espSuite,
		isInitiator: true,
	}
	// standard says nonce should be at least half of size of negotiated prf
	if err = tkm.NcCreate(suite.Prf.Length * 8); err != nil {
		return nil, err
	}
	if _, err = tkm.DhCreate(); err != nil {
		return nil, err
	}
	return tkm, nil
}

func NewTkmResponder(suite, espSuite *crypto.CipherSuite, theirPublic, no *big.Int) (tkm *Tkm, err error) {
	tkm = &Tkm{
		suite:    suite,
		espSuite: espSuite,
		Ni:       no,
	}
	if err = tkm.NcCreate(no.BitLen()); err != nil {
		return nil, err
	}
	if _, err = tkm.DhCreate(); err != nil {
		return nil, err
	}
	if err = tkm.DhGenerateKey(theirPublic); err != nil {
		return nil, err
	}
	return tkm, nil
}

// 4.1.2 creation of ike sa

// NcCreate creates this side's nonce.
func (t *Tkm) NcCreate(bits int) (err error) {
	no, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		return err
	}
	if t.isInitiator {
		t.Ni = no
	} else {
		t.Nr = no
	}
	return nil
}

// DhCreate creates this side's DH keypair.
func (t *Tkm) DhCreate() (n *big.Int, err error) {
	t.DhPrivate, err = t.suite.DhGroup.private(rand.Reader)
	if err != nil {
		return nil, err
	}
	t.DhPublic = t.suite.DhGroup.public(t.DhPrivate)
	return t.DhPublic, nil
}

// DhGenerateKey computes the shared DH secret once the peer's public
// value is known.
func (t *Tkm) DhGenerateKey(theirPublic *big.Int) (err error) {
	t.DhShared, err = t.suite.DhGroup.diffieHellman(theirPublic, t.DhPrivate)
	return
}

func (t *Tkm) prfplus(key, data []byte, bits int) []byte {
	return t.suite.Prf.PrfPlus(key, data, bits)
}

// IsaCreate derives SKEYSEED and the full KEYMAT chain (RFC 7296 §2.14).
func (t *Tkm) IsaCreate(spiI, spiR []byte) {
	// SKEYSEED = prf(Ni | Nr, g^ir)
	SKEYSEED := t.suite.Prf.Apply(append(t.Ni.Bytes(), t.Nr.Bytes()...), t.DhShared.Bytes())
	t.deriveIkeKeys(SKEYSEED, spiI, spiR)
}

// IsaCreateRekey derives the replacement IKE SA's keys during an IKE SA
// rekey (RFC 7296 §2.18): SKEYSEED' = prf(SK_d (old), Ni | Nr | g^ir),
// keyed by the OLD SA's SK_d rather than by the nonces the way the
// original SKEYSEED is, then sliced into KEYMAT' exactly like IsaCreate.
func (t *Tkm) IsaCreateRekey(oldSkD []byte, spiI, spiR []byte) {
	seed := append(append(t.Ni.Bytes(), t.Nr.Bytes()...), t.DhShared.Bytes()...)
	SKEYSEED := t.suite.Prf.Apply(oldSkD, seed)
	t.deriveIkeKeys(SKEYSEED, spiI, spiR)
}

func (t *Tkm) deriveIkeKeys(SKEYSEED, spiI, spiR []byte) {
	// KEYMAT = prf+(SKEYSEED, Ni | Nr | SPIi | SPIr)
	kmLen := 3*t.suite.Prf.Length + 2*t.suite.KeyLen + 2*t.suite.MacKeyLen
	KEYMAT := t.prfplus(SKEYSEED,
		append(append(t.Ni.Bytes(), t.Nr.Bytes()...), append(spiI, spiR...)...),
		kmLen)

	// SK_d, SK_pi, and SK_pr MUST be prf-output-length
	offset := t.suite.Prf.Length
	t.skD = KEYMAT[0:offset]
	t.skAi = KEYMAT[offset : offset+t.suite.MacKeyLen]
	offset += t.suite.MacKeyLen
	t.skAr = KEYMAT[offset : offset+t.suite.MacKeyLen]
	offset += t.suite.MacKeyLen
	t.skEi = KEYMAT[offset : offset+t.suite.KeyLen]
	offset += t.suite.KeyLen
	t.skEr = KEYMAT[offset : offset+t.suite.KeyLen]
	offset += t.suite.KeyLen
	t.skPi = KEYMAT[offset : offset+t.suite.Prf.Length]
	offset += t.suite.Prf.Length
	t.skPr = KEYMAT[offset : offset+t.suite.Prf.Length]

	t.KEYMAT = KEYMAT
	t.SKEYSEED = SKEYSEED
}

// VerifyDecrypt satisfies protocol.SkCodec: it checks integrity (for
// non-AEAD suites), decrypts the SK payload body, and reports the type
// of the first payload it protects.
func (t *Tkm) VerifyDecrypt(ike []byte) (first protocol.PayloadType, plaintext []byte, err error) {
	skA, skE := t.skAi, t.skEi
	if t.isInitiator {
		skA, skE = t.skAr, t.skEr
	}
	b := ike[protocol.IKE_HEADER_LEN:]
	if len(b) < protocol.PAYLOAD_HEADER_LENGTH {
		return 0, nil, errors.New("message too short to carry an SK payload")
	}
	pHeader := &protocol.PayloadHeader{}
	if err = pHeader.Decode(b[:protocol.PAYLOAD_HEADER_LENGTH]); err != nil {
		return
	}
	plaintext, err = t.suite.VerifyDecrypt(ike, protocol.PAYLOAD_HEADER_LENGTH, skA, skE)
	if err != nil {
		return
	}
	return pHeader.NextPayload, plaintext, nil
}

// VerifyDecryptFragment opens one SKF fragment (RFC 7383 §2.5): ike is
// the fragment's entire wire message (IKE header through the Integrity
// Checksum Data, or the GCM-appended tag for an AEAD suite); the
// associated data/MAC input runs through the fragment's Fragment
// Number/Total Fragments fields rather than stopping at the generic
// payload header the way a plain SK payload's does.
func (t *Tkm) VerifyDecryptFragment(ike []byte) (dec []byte, err error) {
	skA, skE := t.skAi, t.skEi
	if t.isInitiator {
		skA, skE = t.skAr, t.skEr
	}
	return t.suite.VerifyDecrypt(ike, protocol.PAYLOAD_HEADER_LENGTH+4, skA, skE)
}

// EncryptMacFragment seals one SKF fragment's plaintext chunk. headers
// must already hold the IKE header, the fragment's generic payload
// header, and its Fragment Number/Total Fragments fields.
func (t *Tkm) EncryptMacFragment(headers, payload []byte) (b []byte, err error) {
	skA, skE := t.skAr, t.skEr
	if t.isInitiator {
		skA, skE = t.skAi, t.skEi
	}
	return t.suite.EncryptMac(headers, payload, skA, skE)
}

// FragmentOverhead reports the non-plaintext bytes (IV, MAC/tag, CBC
// padding) EncryptMacFragment adds on top of one fragment's own chunk.
func (t *Tkm) FragmentOverhead(clear []byte) int {
	return t.suite.Overhead(clear)
}

// EncryptMac satisfies protocol.SkCodec: it encrypts and authenticates
// msg's payloads, returning the full wire-ready message.
func (t *Tkm) EncryptMac(s *protocol.Message) (b []byte, err error) {
	skA, skE := t.skAr, t.skEr
	if t.isInitiator {
		skA, skE = t.skAi, t.skEi
	}
	firstPayload := s.Payloads.Array[0].Type()
	payload := protocol.EncodePayloads(s.Payloads)

	overhead := t.suite.Overhead(payload)
	s.IkeHeader.MsgLength = uint32(protocol.IKE_HEADER_LEN + protocol.PAYLOAD_HEADER_LENGTH + len(payload) + overhead)
	hdr := append(s.IkeHeader.Encode(), protocol.EncodePayloadHeader(firstPayload, uint16(len(payload)+overhead))...)

	return t.suite.EncryptMac(hdr, payload, skA, skE)
}

func (t *Tkm) Auth(signed1 []byte, id *protocol.IdPayload, method protocol.AuthMethod, flag protocol.IkeFlags, secret []byte) []byte {
	key := t.skPr
	if flag.IsInitiator() {
		key = t.skPi
	}
	signed := append(signed1, t.suite.Prf.Apply(key, id.Encode())...)
	padKey := t.suite.Prf.Apply(secret, []byte("Key Pad for IKEv2"))
	return t.suite.Prf.Apply(padKey, signed)[:t.suite.Prf.Length]
}

// IpsecSaCreate derives the Child SA's ESP keys from SK_d (RFC 7296 §2.17),
// using this IKE SA's original IKE_AUTH-time nonces.
func (t *Tkm) IpsecSaCreate(spiI, spiR []byte) (espEi, espAi, espEr, espAr []byte) {
	return t.ipsecKeys(t.Ni, t.Nr, nil)
}

// IpsecSaCreateRekey derives a Child SA's ESP keys for a CREATE_CHILD_SA
// exchange that is not the session's original IKE_AUTH - a Child SA
// create or rekey - using that exchange's own nonces and, when PFS was
// negotiated, its fresh DH shared secret (RFC 7296 §2.17, §1.3.3).
func (t *Tkm) IpsecSaCreateRekey(ni, nr *big.Int, dhShared *big.Int) (espEi, espAi, espEr, espAr []byte) {
	return t.ipsecKeys(ni, nr, dhShared)
}

func (t *Tkm) ipsecKeys(ni, nr *big.Int, dhShared *big.Int) (espEi, espAi, espEr, espAr []byte) {
	kmLen := 2*t.espSuite.KeyLen + 2*t.espSuite.MacKeyLen
	// KEYMAT = prf+(SK_d, [g^ir (new) |] Ni | Nr)
	seed := append(ni.Bytes(), nr.Bytes()...)
	if dhShared != nil {
		seed = append(append([]byte{}, dhShared.Bytes()...), seed...)
	}
	KEYMAT := t.prfplus(t.skD, seed, kmLen)

	offset := t.espSuite.KeyLen
	espEi = KEYMAT[0:offset]
	espAi = KEYMAT[offset : offset+t.espSuite.MacKeyLen]
	offset += t.espSuite.MacKeyLen
	espEr = KEYMAT[offset : offset+t.espSuite.KeyLen]
	offset += t.espSuite.KeyLen
	espAr = KEYMAT[offset : offset+t.espSuite.MacKeyLen]
	return
}
