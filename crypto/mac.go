package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/msgboxio/ike/protocol"
)

type macFunc func(key, data []byte) []byte

func hashMac(h func() hash.Hash, macLen int) macFunc {
	return func(key, data []byte) []byte {
		mac := hmac.New(h, key)
		mac.Write(data)
		return mac.Sum(nil)[:macLen]
	}
}

// integrityTransform fills in the mac parameters of an (as yet encr-only or
// aead-less) simpleCipher. AEAD suites carry their own integrity and never
// call this.
func integrityTransform(trfId uint16, sc *simpleCipher) (*simpleCipher, bool) {
	if sc == nil {
		sc = &simpleCipher{}
	}
	id := protocol.AuthTransformId(trfId)
	switch id {
	case protocol.AUTH_HMAC_SHA1_96:
		sc.macLen, sc.macKeyLen, sc.macFunc = 12, sha1.Size, hashMac(sha1.New, 12)
	case protocol.AUTH_HMAC_SHA2_256_128:
		sc.macLen, sc.macKeyLen, sc.macFunc = 16, sha256.Size, hashMac(sha256.New, 16)
	case protocol.AUTH_HMAC_SHA2_384_192:
		sc.macLen, sc.macKeyLen, sc.macFunc = 24, sha512.Size384, hashMac(sha512.New384, 24)
	case protocol.AUTH_HMAC_SHA2_512_256:
		sc.macLen, sc.macKeyLen, sc.macFunc = 32, sha512.Size, hashMac(sha512.New, 32)
	case protocol.AUTH_AES_XCBC_96:
		sc.macLen, sc.macKeyLen, sc.macFunc = 12, 16, truncatedMac(aesXcbcMac(16), 12)
	case protocol.AUTH_AES_CMAC_96:
		sc.macLen, sc.macKeyLen, sc.macFunc = 12, 16, truncatedMac(aesCmac, 12)
	default:
		return nil, false
	}
	sc.AuthTransformId = id
	return sc, true
}

func truncatedMac(f macFunc, n int) macFunc {
	return func(key, data []byte) []byte { return f(key, data)[:n] }
}

func verifyMac(key, ike []byte, macLen int, f macFunc) error {
	l := len(ike)
	if l < macLen {
		return fmt.Errorf("message too short to carry a mac")
	}
	msg, msgMac := ike[:l-macLen], ike[l-macLen:]
	if !hmac.Equal(msgMac, f(key, msg)[:macLen]) {
		return fmt.Errorf("integrity check failed")
	}
	return nil
}

// aesXcbcMac implements AES-XCBC-MAC-96's underlying full-length MAC
// (RFC 3566); key must be 16 bytes (AES-128).
func aesXcbcMac(keyLen int) macFunc {
	return func(key, data []byte) []byte {
		block, err := aes.NewCipher(key)
		if err != nil {
			return make([]byte, keyLen)
		}
		bs := block.BlockSize()
		k1 := deriveXcbcSubkey(block, 0x01)
		k2 := deriveXcbcSubkey(block, 0x02)
		k3 := deriveXcbcSubkey(block, 0x03)
		k1block, _ := aes.NewCipher(k1)

		e := make([]byte, bs)
		for len(data) > bs {
			blk := xorBytes(data[:bs], e)
			k1block.Encrypt(e, blk)
			data = data[bs:]
		}
		last := make([]byte, bs)
		copy(last, data)
		if len(data) < bs {
			last[len(data)] = 0x80
			last = xorBytes(last, k3)
		} else {
			last = xorBytes(last, k2)
		}
		last = xorBytes(last, e)
		out := make([]byte, bs)
		k1block.Encrypt(out, last)
		return out
	}
}

func deriveXcbcSubkey(block cipher.Block, b byte) []byte {
	in := make([]byte, block.BlockSize())
	for i := range in {
		in[i] = b
	}
	out := make([]byte, block.BlockSize())
	block.Encrypt(out, in)
	return out
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// aesCmac implements AES-CMAC (RFC 4493); key must be 16 bytes (AES-128).
func aesCmac(key, data []byte) []byte {
	block, err := aes.NewCipher(key)
	if err != nil {
		return make([]byte, aes.BlockSize)
	}
	bs := block.BlockSize()
	k1, k2 := cmacSubkeys(block)

	n := (len(data) + bs - 1) / bs
	flag := false
	if n == 0 {
		n = 1
	} else if len(data)%bs == 0 {
		flag = true
	}

	var mLast []byte
	if flag {
		mLast = xorBytes(data[(n-1)*bs:], k1)
	} else {
		padded := make([]byte, bs)
		copy(padded, data[(n-1)*bs:])
		padded[len(data)-(n-1)*bs] = 0x80
		mLast = xorBytes(padded, k2)
	}

	x := make([]byte, bs)
	for i := 0; i < n-1; i++ {
		x = xorBytes(x, data[i*bs:(i+1)*bs])
		block.Encrypt(x, x)
	}
	x = xorBytes(x, mLast)
	out := make([]byte, bs)
	block.Encrypt(out, x)
	return out
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	zero := make([]byte, block.BlockSize())
	l := make([]byte, block.BlockSize())
	block.Encrypt(l, zero)
	k1 = shiftLeftXor(l, rb)
	k2 = shiftLeftXor(k1, rb)
	return
}

func shiftLeftXor(in []byte, rb byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if carry != 0 {
		out[len(out)-1] ^= rb
	}
	return out
}
