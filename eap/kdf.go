package eap

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
)

func randRead(b []byte) (int, error) { return rand.Read(b) }

// prfGen implements the FIPS 186-2 (Change Notice 1) SHA-1 pseudo-random
// function used by EAP-SIM/EAP-AKA key derivation (RFC 4186 §7, RFC 4187
// §7): x_0 = SHA1(key), x_j = SHA1(key | x_{j-1}), output the
// concatenation truncated to outputLen.
func prfGen(key []byte, outputLen int) []byte {
	var output, current []byte
	h := sha1.New()
	h.Write(key)
	current = h.Sum(nil)
	output = append(output, current...)
	for len(output) < outputLen {
		h.Reset()
		h.Write(key)
		h.Write(current)
		current = h.Sum(nil)
		output = append(output, current...)
	}
	return output[:outputLen]
}

// prfPlus implements the IKEv2-style PRF+ (RFC 7296 §2.13) used by
// EAP-AKA' key derivation (RFC 5448 §3.3): HMAC-SHA-256 keyed blocks
// chained with an incrementing counter.
func prfPlus(key, seed []byte, outputLen int) []byte {
	var output, current []byte
	counter := byte(1)
	for len(output) < outputLen {
		h := hmac.New(sha256.New, key)
		h.Write(current)
		h.Write(seed)
		h.Write([]byte{counter})
		current = h.Sum(nil)
		output = append(output, current...)
		counter++
	}
	return output[:outputLen]
}
