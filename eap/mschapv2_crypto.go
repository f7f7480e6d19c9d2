package eap

import (
	"crypto/des"
	"crypto/sha1"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

// ntPasswordHash implements RFC 2759 §8.5: MD4 over the UTF-16LE password.
func ntPasswordHash(password string) []byte {
	h := md4.New()
	for _, r := range utf16.Encode([]rune(password)) {
		h.Write([]byte{byte(r), byte(r >> 8)})
	}
	return h.Sum(nil)
}

// hashNtPasswordHash implements RFC 3079 §3.4 GetMasterKey's PasswordHashHash
// input: MD4 over the NT password hash itself.
func hashNtPasswordHash(ntHash []byte) []byte {
	h := md4.New()
	h.Write(ntHash)
	return h.Sum(nil)
}

// challengeHash implements RFC 2759 §8.2: SHA1(PeerChallenge|AuthChallenge|
// Username) truncated to its first 8 bytes.
func challengeHash(peerChallenge, authChallenge []byte, username string) []byte {
	h := sha1.New()
	h.Write(peerChallenge)
	h.Write(authChallenge)
	h.Write([]byte(username))
	return h.Sum(nil)[:8]
}

// desKeyFromBits7 expands a 7-byte DES key material block into an 8-byte
// key with odd parity in the low bit of each byte (RFC 2759 §8.4).
func desKeyFromBits7(k7 []byte) []byte {
	key := make([]byte, 8)
	key[0] = k7[0] & 0xfe
	key[1] = (k7[0] << 7) | (k7[1] >> 1)
	key[2] = (k7[1] << 6) | (k7[2] >> 2)
	key[3] = (k7[2] << 5) | (k7[3] >> 3)
	key[4] = (k7[3] << 4) | (k7[4] >> 4)
	key[5] = (k7[4] << 3) | (k7[5] >> 5)
	key[6] = (k7[5] << 2) | (k7[6] >> 6)
	key[7] = k7[6] << 1
	for i, b := range key {
		key[i] = setOddParity(b)
	}
	return key
}

func setOddParity(b byte) byte {
	parity := byte(0)
	for i := 1; i < 8; i++ {
		parity ^= (b >> i) & 1
	}
	return (b &^ 1) | (parity ^ 1)
}

// desEncrypt encrypts one 8-byte block under a 7-byte key material block,
// per RFC 2759 §8.4's ChallengeResponse.
func desEncrypt(clear, k7 []byte) []byte {
	block, err := des.NewCipher(desKeyFromBits7(k7))
	if err != nil {
		panic(err) // desKeyFromBits7 always produces a valid 8-byte key
	}
	out := make([]byte, 8)
	block.Encrypt(out, clear)
	return out
}

// challengeResponse implements RFC 2759 §8.4: the 21-byte zero-padded NT
// password hash split into three 7-byte DES key blocks, each encrypting
// the 8-byte challenge hash.
func challengeResponse(challenge8, ntHash []byte) []byte {
	padded := make([]byte, 21)
	copy(padded, ntHash)
	out := make([]byte, 24)
	copy(out[0:8], desEncrypt(challenge8, padded[0:7]))
	copy(out[8:16], desEncrypt(challenge8, padded[7:14]))
	copy(out[16:24], desEncrypt(challenge8, padded[14:21]))
	return out
}

// generateNTResponse implements RFC 2759 §8.1.
func generateNTResponse(authChallenge, peerChallenge []byte, username, password string) []byte {
	c8 := challengeHash(peerChallenge, authChallenge, username)
	return challengeResponse(c8, ntPasswordHash(password))
}

var (
	magic1 = []byte{
		0x4D, 0x61, 0x67, 0x69, 0x63, 0x20, 0x73, 0x65, 0x72, 0x76, 0x65, 0x72, 0x20, 0x74, 0x6F, 0x20,
		0x63, 0x6C, 0x69, 0x65, 0x6E, 0x74, 0x20, 0x73, 0x69, 0x67, 0x6E, 0x69, 0x6E, 0x67, 0x20, 0x63,
		0x6F, 0x6E, 0x73, 0x74, 0x61, 0x6E, 0x74,
	}
	magic2 = []byte{
		0x50, 0x61, 0x64, 0x20, 0x74, 0x6F, 0x20, 0x6D, 0x61, 0x6B, 0x65, 0x20, 0x69, 0x74, 0x20, 0x64,
		0x6F, 0x20, 0x6D, 0x6F, 0x72, 0x65, 0x20, 0x74, 0x68, 0x61, 0x6E, 0x20, 0x6F, 0x6E, 0x65, 0x20,
		0x69, 0x74, 0x65, 0x72, 0x61, 0x74, 0x69, 0x6F, 0x6E,
	}
)

// generateAuthenticatorResponse implements RFC 2759 §8.3: the 20-byte
// digest servers send back to prove they also know the password.
func generateAuthenticatorResponse(password string, ntResponse, peerChallenge, authChallenge []byte, username string) []byte {
	pwdHash := ntPasswordHash(password)
	pwdHashHash := hashNtPasswordHash(pwdHash)

	h := sha1.New()
	h.Write(pwdHashHash)
	h.Write(ntResponse)
	h.Write(magic1)
	digest := h.Sum(nil)

	c8 := challengeHash(peerChallenge, authChallenge, username)

	h2 := sha1.New()
	h2.Write(digest)
	h2.Write(c8)
	h2.Write(magic2)
	return h2.Sum(nil)
}

// getMasterKey implements RFC 3079 §3.4: the 16-byte key MSCHAPv2 hands
// to the containing tunnel (here, the IKE_AUTH EAP MSK).
func getMasterKey(ntHash, ntResponse []byte) []byte {
	magic := []byte{
		0x54, 0x68, 0x69, 0x73, 0x20, 0x69, 0x73, 0x20, 0x74, 0x68, 0x65, 0x20, 0x4D, 0x50, 0x50, 0x45,
		0x20, 0x4D, 0x61, 0x73, 0x74, 0x65, 0x72, 0x20, 0x4B, 0x65, 0x79,
	}
	pwdHashHash := hashNtPasswordHash(ntHash)
	h := sha1.New()
	h.Write(pwdHashHash)
	h.Write(ntResponse)
	h.Write(magic)
	return h.Sum(nil)[:16]
}
