package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"

	camellia "github.com/dgryski/go-camellia"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
)

// logger is the package-wide structured logger for crypto operations;
// sessions may replace it with SetLogger before any exchange runs.
var logger log.Logger = log.NewNopLogger()

// SetLogger installs the logger used for cipher debug output.
func SetLogger(l log.Logger) { logger = l }

// Must returm an interface
// Interface can be either cipher.BlockMode or cipher.Stream
type cipherFunc func(key, iv []byte, isRead bool) interface{}

func (cipherFunc) MarshalJSON() ([]byte, error) { return []byte("{}"), nil }

// TODO - check if the parameters are valid
func cipherTransform(cipherId uint16, keyLen int, cipher *simpleCipher) (*simpleCipher, bool) {
	blockSize, cipherFunc, ok := _cipherTransform(cipherId)
	if !ok {
		return nil, false
	}
	if cipher == nil {
		cipher = &simpleCipher{}
	}
	cipher.keyLen = keyLen
	cipher.blockLen = blockSize
	cipher.ivLen = blockSize
	cipher.cipherFunc = cipherFunc
	cipher.EncrTransformId = protocol.EncrTransformId(cipherId)
	return cipher, true
}

func _cipherTransform(cipherId uint16) (int, cipherFunc, bool) {
	switch protocol.EncrTransformId(cipherId) {
	case protocol.ENCR_CAMELLIA_CBC:
		return camellia.BlockSize, cipherCamellia, true
	case protocol.ENCR_AES_CBC:
		return aes.BlockSize, cipherAES, true
	case protocol.ENCR_AES_CTR:
		return aes.BlockSize, cipherAESCTR, true
	case protocol.ENCR_CAMELLIA_CTR:
		return camellia.BlockSize, cipherCamelliaCTR, true
	case protocol.ENCR_NULL:
		return 0, cipherNull, true
	default:
		return 0, nil, false
	}
}

// Cipher interface implementation

type simpleCipher struct {
	macTruncLen, macLen, macKeyLen int
	macFunc

	keyLen, ivLen, blockLen int
	cipherFunc

	protocol.EncrTransformId
	protocol.AuthTransformId
}

func (cs *simpleCipher) String() string {
	return cs.EncrTransformId.String() + "+" + cs.AuthTransformId.String()
}

func (cs *simpleCipher) Overhead(clear []byte) int {
	pad := 0
	if cs.blockLen != 0 {
		pad = cs.blockLen - len(clear)%cs.blockLen
	}
	return pad + cs.macLen + cs.ivLen
}

func (cs *simpleCipher) VerifyDecrypt(ike []byte, headerLen int, skA, skE []byte) (dec []byte, err error) {
	level.Debug(logger).Log("msg", "simple verify&decrypt", "clear", hex.EncodeToString(ike))
	// MAC-then-decrypt
	if err = verifyMac(skA, ike, cs.macLen, cs.macFunc); err != nil {
		return
	}
	b := ike[protocol.IKE_HEADER_LEN:]
	dec, err = decrypt(b[headerLen:len(b)-cs.macLen], skE, cs.ivLen, cs.cipherFunc)
	return
}

func (cs *simpleCipher) EncryptMac(headers, payload, skA, skE []byte) (b []byte, err error) {
	// encrypt-then-MAC
	encr, err := encrypt(payload, skE, cs.ivLen, cs.cipherFunc)
	if err != nil {
		return
	}
	data := append(headers, encr...)
	mac := cs.macFunc(skA, data)[:cs.macLen]
	b = append(data, mac...)
	level.Debug(logger).Log("msg", "simple encrypt&mac", "mac", hex.EncodeToString(mac))
	return
}

// cipherFunc Implementations

func cipherAES(key, iv []byte, isRead bool) interface{} {
	block, _ := aes.NewCipher(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherCamellia(key, iv []byte, isRead bool) interface{} {
	block, _ := camellia.New(key)
	if isRead {
		return cipher.NewCBCDecrypter(block, iv)
	}
	return cipher.NewCBCEncrypter(block, iv)
}

func cipherAESCTR(key, iv []byte, _ bool) interface{} {
	block, _ := aes.NewCipher(key)
	return cipher.NewCTR(block, iv)
}

func cipherCamelliaCTR(key, iv []byte, _ bool) interface{} {
	block, _ := camellia.New(key)
	return cipher.NewCTR(block, iv)
}

// TODO - this needs a proper do nothing implementation
func cipherNull([]byte, []byte, bool) interface{} { return nil }

// decryption & encryption routines

func decrypt(b, key []byte, ivLen int, cipherFn cipherFunc) (dec []byte, err error) {
	if ivLen == 0 {
		return b, nil
	}
	iv := b[0:ivLen]
	ciphertext := b[ivLen:]
	mode := cipherFn(key, iv, true)
	if mode == nil {
		return b, nil
	}
	if stream, ok := mode.(cipher.Stream); ok {
		dec = make([]byte, len(ciphertext))
		stream.XORKeyStream(dec, ciphertext)
		return
	}
	block := mode.(cipher.BlockMode)
	// CBC mode always works in whole blocks.
	if len(ciphertext)%block.BlockSize() != 0 {
		err = errors.New("ciphertext is not a multiple of the block size")
		return
	}
	clear := make([]byte, len(ciphertext))
	block.CryptBlocks(clear, ciphertext)
	padlen := clear[len(clear)-1] + 1 // padlen byte itself
	if int(padlen) > block.BlockSize() {
		err = errors.New("pad length is larger than block size")
		return
	}
	dec = clear[:len(clear)-int(padlen)]
	return
}

func encrypt(clear, key []byte, ivLen int, cipherFn cipherFunc) (b []byte, err error) {
	if ivLen == 0 {
		return clear, nil
	}
	iv := make([]byte, ivLen)
	if _, err = rand.Read(iv); err != nil {
		return
	}
	mode := cipherFn(key, iv, false)
	if mode == nil {
		return clear, nil
	}
	if stream, ok := mode.(cipher.Stream); ok {
		ciphertext := make([]byte, len(clear))
		stream.XORKeyStream(ciphertext, clear)
		b = append(iv, ciphertext...)
		return
	}
	block := mode.(cipher.BlockMode)
	// CBC mode always works in whole blocks.
	padlen := block.BlockSize() - len(clear)%block.BlockSize()
	if padlen != 0 {
		pad := make([]byte, padlen)
		pad[padlen-1] = byte(padlen - 1)
		clear = append(clear, pad...)
	}
	ciphertext := make([]byte, len(clear))
	block.CryptBlocks(ciphertext, clear)
	b = append(iv, ciphertext...)
	return
}
