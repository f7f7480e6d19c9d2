package ike

import (
	"io"
	"net"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
)

// Conn is the transport this engine is driven over. Dialing, binding,
// NAT-T detection and retransmission at the socket level are the
// responsibility of whoever constructs a Conn; this package only reads
// and writes already-framed IKE datagrams through it.
type Conn interface {
	ReadPacket() (b []byte, remoteAddr net.Addr, localIP net.IP, err error)
	WritePacket(reply []byte, remoteAddr net.Addr) error
	LocalAddr() net.Addr
	Close() error
}

// ReadMessage reads one IKE message from conn. Connection errors are
// returned; a message that fails to parse is logged and skipped so the
// caller keeps listening. A parsed message that is in fact the leading
// fragment of a larger one is signalled via io.ErrShortBuffer and its
// bytes are held to be prefixed onto the next read.
func ReadMessage(conn Conn, logger log.Logger) (*protocol.Message, error) {
	var buf []byte
	for {
		b, remoteAddr, localIP, err := conn.ReadPacket()
		if err != nil {
			return nil, err
		}
		if buf != nil {
			b = append(buf, b...)
			buf = nil
		}
		msg, err := protocol.DecodeMessage(b)
		if err == io.ErrShortBuffer {
			buf = b
			continue
		}
		if err != nil {
			level.Error(logger).Log("msg", "drop unparsable message", "err", err)
			continue
		}
		port := 0
		if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			port = udpAddr.Port
		}
		msg.LocalAddr = &net.UDPAddr{IP: localIP, Port: port}
		msg.RemoteAddr = remoteAddr
		return msg, nil
	}
}
