package ike

import (
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/protocol"
	"github.com/msgboxio/ike/state"
	"github.com/msgboxio/packets"
	"github.com/pkg/errors"
)

const (
	// fragSkfHeaderLen is the span of cleartext that precedes an SKF
	// fragment's encrypted part: the generic payload header (4 bytes)
	// plus the Fragment Number/Total Fragments fields (RFC 7383 §2.5).
	fragSkfHeaderLen = protocol.PAYLOAD_HEADER_LENGTH + 4

	// maxFragmentWireSize bounds one fragment's full wire length,
	// chosen to clear common tunneled/NAT-T path MTUs the way ttls.go's
	// own 1024-byte TLS record fragments do.
	maxFragmentWireSize = 1280

	// fragReassemblyTimeout bounds how long a partial message is kept
	// waiting on its remaining fragments. RFC 7383 leaves this
	// unstated; chosen to clear retry.go's ~30s (6 attempt) worst-case
	// retransmission run with margin.
	fragReassemblyTimeout = 60 * time.Second
)

// errFragmentPending is returned while a message's fragment set is still
// incomplete; it is not a protocol error, so callers log it quietly.
var errFragmentPending = errors.New("awaiting further fragments")

// fragReassembly collects the fragments of one SKF-protected message,
// keyed by IKE message ID. It is only ever touched from the session's
// single Run() goroutine, so it needs no lock.
type fragReassembly struct {
	total     uint16
	parts     map[uint16][]byte // fragment number -> decrypted plaintext
	firstType protocol.PayloadType
	timer     *time.Timer
}

// reassembleFragment decodes and opens the SKF fragment carried by m.Data,
// folding it into the in-progress reassembly for m's message ID. Once
// every fragment 1..total has arrived it concatenates their plaintext in
// order, decodes the resulting payload chain, and installs it as
// m.Payloads so the caller can treat m exactly like a decoded SK message.
// Until then it returns errFragmentPending and leaves m unchanged.
func (o *Session) reassembleFragment(m *Message) error {
	msgId := m.IkeHeader.MsgId
	body := m.Data[protocol.IKE_HEADER_LEN:]
	if len(body) < fragSkfHeaderLen {
		return errors.New("skf fragment too short")
	}
	nextType := protocol.PayloadType(body[0])
	fragNum, _ := packets.ReadB16(body, protocol.PAYLOAD_HEADER_LENGTH)
	total, _ := packets.ReadB16(body, protocol.PAYLOAD_HEADER_LENGTH+2)
	if total == 0 || fragNum < 1 || fragNum > total {
		return errors.Errorf("invalid skf fragment %d/%d", fragNum, total)
	}

	rs := o.fragIn[msgId]
	if rs == nil {
		rs = &fragReassembly{total: total, parts: map[uint16][]byte{}}
		o.startFragTimer(msgId, rs)
		if o.fragIn == nil {
			o.fragIn = map[uint32]*fragReassembly{}
		}
		o.fragIn[msgId] = rs
	}
	if rs.total != total {
		return errors.Errorf("skf total fragments changed %d -> %d for msgId %d", rs.total, total, msgId)
	}
	if fragNum == 1 {
		rs.firstType = nextType
	}
	if _, dup := rs.parts[fragNum]; !dup {
		dec, err := o.tkm.VerifyDecryptFragment(m.Data)
		if err != nil {
			return errors.Wrap(err, "skf fragment verify failed")
		}
		rs.parts[fragNum] = dec
	}
	if uint16(len(rs.parts)) < rs.total {
		return errFragmentPending
	}

	delete(o.fragIn, msgId)
	if rs.timer != nil {
		rs.timer.Stop()
	}
	plaintext := make([]byte, 0, len(rs.parts)*len(rs.parts[1]))
	for i := uint16(1); i <= rs.total; i++ {
		plaintext = append(plaintext, rs.parts[i]...)
	}
	payloads, err := protocol.DecodePayloadChain(rs.firstType, plaintext)
	if err != nil {
		return errors.Wrap(err, "reassembled skf message")
	}
	m.Payloads = payloads
	return nil
}

func (o *Session) startFragTimer(msgId uint32, rs *fragReassembly) {
	rs.timer = time.AfterFunc(fragReassemblyTimeout, func() {
		o.expireFragments(msgId, rs)
	})
}

// expireFragments discards a message whose fragment set never completed.
// Nothing is posted to the state machine: the request awaiting this
// reply is still tracked by retry.go's own timer, which will eventually
// retransmit or fail the exchange on its own schedule.
func (o *Session) expireFragments(msgId uint32, rs *fragReassembly) {
	if o.fragIn[msgId] != rs {
		return // already completed or superseded
	}
	level.Warn(logger).Log("msg", "discarding incomplete fragmented message", "tag", o.Tag(),
		"msgId", msgId, "have", len(rs.parts), "want", rs.total)
	delete(o.fragIn, msgId)
}

// encodeFragments splits payloads into SKF fragments no larger than
// maxFragmentWireSize, each independently sealed under t (RFC 7383 §2.5).
// Only the first fragment's SKF header carries the reassembled message's
// true first payload type; later ones carry PayloadTypeNone, which
// readers MUST ignore per the RFC.
func encodeFragments(t *Tkm, header *protocol.IkeHeader, payloads *protocol.Payloads) ([][]byte, error) {
	firstPayload := payloads.Array[0].Type()
	payload := protocol.EncodePayloads(payloads)

	fixedOverhead := protocol.IKE_HEADER_LEN + fragSkfHeaderLen + t.FragmentOverhead(nil)
	budget := maxFragmentWireSize - fixedOverhead
	if budget < 64 {
		budget = 64
	}
	total := (len(payload) + budget - 1) / budget
	if total == 0 {
		total = 1
	}
	if total > 0xffff {
		return nil, errors.New("message too large to fragment")
	}

	out := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * budget
		end := start + budget
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		nextType := protocol.PayloadTypeNone
		if i == 0 {
			nextType = firstPayload
		}

		hdr := *header
		hdr.NextPayload = protocol.PayloadTypeSKF
		overhead := t.FragmentOverhead(chunk)
		hdr.MsgLength = uint32(protocol.IKE_HEADER_LEN + fragSkfHeaderLen + len(chunk) + overhead)

		skfHeader := make([]byte, fragSkfHeaderLen)
		packets.WriteB8(skfHeader, 0, uint8(nextType))
		packets.WriteB16(skfHeader, 2, uint16(fragSkfHeaderLen+len(chunk)+overhead))
		packets.WriteB16(skfHeader, protocol.PAYLOAD_HEADER_LENGTH, uint16(i+1))
		packets.WriteB16(skfHeader, protocol.PAYLOAD_HEADER_LENGTH+2, uint16(total))

		raw, err := t.EncryptMacFragment(append(hdr.Encode(), skfHeader...), chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// sendRequestMessage encodes req, fragmenting it into an SKF set when the
// single-SK encoding would exceed maxFragmentWireSize, and sends whatever
// results with retransmission armed.
func (o *Session) sendRequestMessage(req *Message) state.StateEvent {
	buf, err := req.Encode(o.tkm)
	if err != nil || len(buf) <= maxFragmentWireSize {
		return o.sendRequest(buf, err)
	}
	frags, err := encodeFragments(o.tkm, req.IkeHeader, req.Payloads)
	if err != nil {
		return o.sendRequest(nil, err)
	}
	return o.sendRequestFragments(frags)
}
