package ike

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"net"

	"github.com/msgboxio/ike/protocol"
)

// MakeSpi returns a random 8-byte Security Parameter Index, suitable for
// either an IKE SA (used whole) or a Child SA (the first 4 bytes only).
func MakeSpi() (spi protocol.Spi) {
	if _, err := rand.Read(spi[:]); err != nil {
		panic(err) // crypto/rand failing means the platform is unusable
	}
	return
}

// freshNonce generates a standalone nonce of at least bits/8 bytes,
// the same way Tkm.NcCreate does, for a CREATE_CHILD_SA exchange that
// does not touch the long-lived Tkm's own Ni/Nr fields.
func freshNonce(bits int) (*big.Int, error) {
	return rand.Prime(rand.Reader, bits)
}

// SpiToInt64 reads an SPI's big-endian value for zero/non-zero checks.
func SpiToInt64(b []byte) uint64 {
	var buf [8]byte
	copy(buf[8-len(b):], b)
	return binary.BigEndian.Uint64(buf[:])
}

// IPNetToFirstLastAddress returns the first and last address covered by n,
// for building a traffic selector range from a CIDR block.
func IPNetToFirstLastAddress(n *net.IPNet) (first, last net.IP, err error) {
	ip := n.IP.To4()
	if ip == nil {
		ip = n.IP.To16()
	}
	mask := n.Mask
	first = ip.Mask(mask)
	last = make(net.IP, len(first))
	for i := range first {
		last[i] = first[i] | ^mask[i]
	}
	return first, last, nil
}
