package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/msgboxio/ike/protocol"
)

// Prf is the pseudo-random function negotiated for an IKE SA. It derives
// SKEYSEED and the prf+ keying material chain (RFC 7296 §2.13, §2.14).
type Prf struct {
	protocol.PrfTransformId
	Length int
	prf    func(key, data []byte) []byte
}

func (p *Prf) Apply(key, data []byte) []byte {
	return p.prf(key, data)
}

// PrfPlus implements prf+(K,S) = T1 | T2 | T3 | ... as defined in RFC 7296 §2.13.
func (p *Prf) PrfPlus(key, data []byte, bits int) []byte {
	var ret, prev []byte
	for round := byte(1); len(ret) < bits; round++ {
		prev = p.Apply(key, append(append(append([]byte{}, prev...), data...), round))
		ret = append(ret, prev...)
	}
	return ret[:bits]
}

func hmacPrf(h func() hash.Hash) func(key, data []byte) []byte {
	return func(key, data []byte) []byte {
		mac := hmac.New(h, key)
		mac.Write(data)
		return mac.Sum(nil)
	}
}

func prfTranform(prfId uint16) (*Prf, error) {
	id := protocol.PrfTransformId(prfId)
	switch id {
	case protocol.PRF_HMAC_SHA1:
		return &Prf{PrfTransformId: id, Length: sha1.Size, prf: hmacPrf(sha1.New)}, nil
	case protocol.PRF_HMAC_SHA2_256:
		return &Prf{PrfTransformId: id, Length: sha256.Size, prf: hmacPrf(sha256.New)}, nil
	case protocol.PRF_HMAC_SHA2_384:
		return &Prf{PrfTransformId: id, Length: sha512.Size384, prf: hmacPrf(sha512.New384)}, nil
	case protocol.PRF_HMAC_SHA2_512:
		return &Prf{PrfTransformId: id, Length: sha512.Size, prf: hmacPrf(sha512.New)}, nil
	case protocol.PRF_AES128_XCBC:
		return &Prf{PrfTransformId: id, Length: 16, prf: aesXcbcMac(16)}, nil
	default:
		return nil, fmt.Errorf("unsupported prf transform %s", id)
	}
}
