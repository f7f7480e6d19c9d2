package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/msgboxio/ike/protocol"
)

// aeadCipher implements the Cipher interface for AEAD_AES_GCM_* transforms
// (RFC 5282): the cipher itself carries integrity, so no separate mac phase
// runs and no SK_a keys are derived for this side.
type aeadCipher struct {
	protocol.EncrTransformId
	keyLen  int
	icvLen  int // 8, 12 or 16 bytes
	saltLen int // 4 bytes, fixed part of the nonce, not sent on the wire
}

func (a *aeadCipher) String() string { return a.EncrTransformId.String() }

// Overhead is the wire bytes EncryptMac adds on top of the plaintext: an
// 8-byte explicit IV and the GCM tag. The salt is never on the wire - it
// comes from SK_e itself (RFC 5282 §4) - so it is not counted here.
func (a *aeadCipher) Overhead(clear []byte) int {
	return 8 /* explicit IV */ + a.icvLen
}

func aeadTransform(cipherId uint16, keyLen int, existing *aeadCipher) (*aeadCipher, int, bool) {
	id := protocol.EncrTransformId(cipherId)
	var icvLen int
	switch id {
	case protocol.AEAD_AES_GCM_8:
		icvLen = 8
	case protocol.AEAD_AES_GCM_12:
		icvLen = 12
	case protocol.AEAD_AES_GCM_16:
		icvLen = 16
	default:
		return nil, keyLen, false
	}
	if existing == nil {
		existing = &aeadCipher{}
	}
	existing.EncrTransformId = id
	existing.keyLen = keyLen
	existing.icvLen = icvLen
	existing.saltLen = 4
	return existing, keyLen, true
}

func (a *aeadCipher) newAead(key []byte) (cipher.AEAD, []byte, error) {
	if len(key) < a.saltLen {
		return nil, nil, fmt.Errorf("aead key too short")
	}
	salt := key[len(key)-a.saltLen:]
	aesKey := key[:len(key)-a.saltLen]
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, a.icvLen)
	if err != nil {
		return nil, nil, err
	}
	return gcm, salt, nil
}

// VerifyDecrypt opens the AEAD-protected portion of an encoded IKE message.
// additional authenticated data is the fixed IKE+payload header preceding
// the ciphertext (RFC 5282 §3; RFC 7383 §2.5 for one SKF fragment, where
// headerLen also covers the Fragment Number/Total Fragments fields).
func (a *aeadCipher) VerifyDecrypt(ike []byte, headerLen int, _, skE []byte) (dec []byte, err error) {
	gcm, salt, err := a.newAead(skE)
	if err != nil {
		return nil, err
	}
	b := ike[protocol.IKE_HEADER_LEN:]
	aad := ike[:len(ike)-len(b)+headerLen]
	body := b[headerLen:]
	explicitIV := body[:8]
	ciphertext := body[8:]
	nonce := append(append([]byte{}, salt...), explicitIV...)
	return gcm.Open(nil, nonce, ciphertext, aad)
}

// EncryptMac seals payload with the AEAD transform; headers is the fixed
// IKE+payload header used as additional authenticated data.
func (a *aeadCipher) EncryptMac(headers, payload, _, skE []byte) (b []byte, err error) {
	gcm, salt, err := a.newAead(skE)
	if err != nil {
		return nil, err
	}
	explicitIV := make([]byte, 8)
	if _, err = rand.Read(explicitIV); err != nil {
		return nil, err
	}
	nonce := append(append([]byte{}, salt...), explicitIV...)
	sealed := gcm.Seal(nil, nonce, payload, headers)
	b = append(append(append([]byte{}, headers...), explicitIV...), sealed...)
	return b, nil
}
