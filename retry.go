package ike

import (
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/msgboxio/ike/state"
	"github.com/pkg/errors"
)

// Retransmission timing (RFC 7296 leaves this to the implementation): a
// 500ms initial timeout doubling up to a 30s ceiling, giving up after 6
// attempts with no matching response.
const (
	retransmitInitial  = 500 * time.Millisecond
	retransmitMax      = 30 * time.Second
	retransmitAttempts = 6
)

// retryState tracks the single in-flight request this initiator-only
// engine may be waiting on a response for; only one exchange is ever
// outstanding at a time. raw holds one buffer for an unfragmented
// request, or the whole SKF fragment set for one that needed splitting
// (see fragment.go).
type retryState struct {
	raw     [][]byte
	msgId   uint32
	attempt int
	timer   *time.Timer
}

// sendRequest sends buf like sendMsg, then arms the retransmit timer for
// it under the msgId it was just sent with.
func (o *Session) sendRequest(buf []byte, err error) (s state.StateEvent) {
	s = o.sendMsg(buf, err)
	if err == nil && s.Event != state.FAIL {
		o.armRetransmit([][]byte{buf}, o.msgIdReq)
	}
	return
}

// sendRequestFragments is sendRequest's counterpart for a request that
// had to be split into SKF fragments: every fragment goes out before the
// retransmit timer arms, and a retransmission resends the whole set.
func (o *Session) sendRequestFragments(bufs [][]byte) (s state.StateEvent) {
	for _, buf := range bufs {
		if s = o.sendMsg(buf, nil); s.Event == state.FAIL {
			return
		}
	}
	o.armRetransmit(bufs, o.msgIdReq)
	return
}

// armRetransmit (re)starts the retry timer for the just-sent request,
// replacing whatever timer was running for a previous request.
func (o *Session) armRetransmit(raw [][]byte, msgId uint32) {
	o.cancelRetransmit()
	rs := &retryState{raw: raw, msgId: msgId}
	o.retry = rs
	rs.timer = time.AfterFunc(retransmitInitial, func() { o.onRetransmitFire(rs) })
}

// cancelRetransmit stops the outstanding timer, if any; called once the
// matching response arrives (see Run).
func (o *Session) cancelRetransmit() {
	if o.retry != nil && o.retry.timer != nil {
		o.retry.timer.Stop()
	}
	o.retry = nil
}

// onRetransmitFire runs on its own goroutine (time.AfterFunc); it only
// touches channels, never Session fields the run loop also writes, so it
// stays safe without a lock.
func (o *Session) onRetransmitFire(rs *retryState) {
	if o.retry != rs {
		return // cancelled, or superseded by a newer request
	}
	rs.attempt++
	if rs.attempt >= retransmitAttempts {
		level.Warn(logger).Log("msg", "no response after retransmits", "tag", o.Tag(), "attempts", rs.attempt)
		o.PostEvent(state.StateEvent{Event: state.FAIL, Data: errors.New("no response after retransmits")})
		return
	}
	level.Info(logger).Log("msg", "retransmitting request", "tag", o.Tag(), "attempt", rs.attempt, "msgId", rs.msgId, "fragments", len(rs.raw))
	func() {
		defer func() { recover() }() // outgoing may already be closed
		for _, buf := range rs.raw {
			o.outgoing <- append([]byte{}, buf...)
		}
	}()
	backoff := retransmitInitial << uint(rs.attempt)
	if backoff > retransmitMax {
		backoff = retransmitMax
	}
	rs.timer = time.AfterFunc(backoff, func() { o.onRetransmitFire(rs) })
}
