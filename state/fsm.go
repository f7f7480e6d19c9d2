// Package state implements the small event-driven state machine that
// drives one IKE SA's exchange sequence. Each state machine instance
// is single-goroutine: Session.Run is the only caller of HandleEvent.
package state

import "fmt"

// StateId names a node in the exchange graph.
type StateId int

const (
	STATE_IDLE StateId = iota
	STATE_START
	STATE_INIT
	STATE_AUTH
	STATE_MATURE
	STATE_CLOSING
	STATE_CLOSED
)

var stateNames = map[StateId]string{
	STATE_IDLE:    "IDLE",
	STATE_START:   "START",
	STATE_INIT:    "INIT",
	STATE_AUTH:    "AUTH",
	STATE_MATURE:  "MATURE",
	STATE_CLOSING: "CLOSING",
	STATE_CLOSED:  "CLOSED",
}

func (s StateId) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("StateId(%d)", int(s))
}

// Event names a transition trigger: an outgoing command, an incoming
// message class, or an outcome reported by a handler.
type Event int

const (
	NO_EVENT Event = iota
	SMI_START
	MSG_INIT
	MSG_AUTH
	MSG_CHILD_SA
	MSG_INFORMATIONAL
	SUCCESS
	FAIL
	INIT_FAIL
	AUTH_FAIL
	DELETE_IKE_SA
	FINISHED
)

var eventNames = map[Event]string{
	NO_EVENT:           "NO_EVENT",
	SMI_START:          "SMI_START",
	MSG_INIT:           "MSG_INIT",
	MSG_AUTH:           "MSG_AUTH",
	MSG_CHILD_SA:       "MSG_CHILD_SA",
	MSG_INFORMATIONAL:  "MSG_INFORMATIONAL",
	SUCCESS:            "SUCCESS",
	FAIL:               "FAIL",
	INIT_FAIL:          "INIT_FAIL",
	AUTH_FAIL:          "AUTH_FAIL",
	DELETE_IKE_SA:      "DELETE_IKE_SA",
	FINISHED:           "FINISHED",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// StateEvent is posted to a running Fsm, or returned by a Handler to
// request the next transition.
type StateEvent struct {
	Event Event
	Data  interface{}
}

// Handler runs the side effect attached to a transition. msg is the
// StateEvent.Data that triggered it (typically *protocol.Message, or an
// error on failure transitions). The returned StateEvent is posted back
// into the machine to pick the next transition; a zero Event is ignored.
type Handler func(msg interface{}) StateEvent

// transition maps one (state, event) pair to the next state and the
// handler run on the way there.
type transition struct {
	to      StateId
	handler Handler
}

// Transitions is a set of edges contributed by one part of the session
// (e.g. the initiator-only edges, or the edges common to both roles).
type Transitions map[StateId]map[Event]transition

// T declares one edge: in state `from`, on `event`, run `handler` and
// move to `to`.
func T(from StateId, event Event, to StateId, handler Handler) Transitions {
	return Transitions{from: {event: transition{to: to, handler: handler}}}
}

func merge(sets []Transitions) Transitions {
	all := Transitions{}
	for _, set := range sets {
		for from, byEvent := range set {
			if all[from] == nil {
				all[from] = map[Event]transition{}
			}
			for evt, tr := range byEvent {
				all[from][evt] = tr
			}
		}
	}
	return all
}

// Fsm is a small synchronous state machine: PostEvent enqueues, and the
// owner's run loop drains Events() and calls HandleEvent once per
// message, exactly as Session.Run does.
type Fsm struct {
	State StateId

	transitions Transitions
	events      chan StateEvent
}

// NewFsm builds a machine starting in STATE_IDLE from one or more edge
// sets; later sets override earlier ones for the same (state, event).
func NewFsm(sets ...Transitions) *Fsm {
	return &Fsm{
		State:       STATE_IDLE,
		transitions: merge(sets),
		events:      make(chan StateEvent, 10),
	}
}

// Events exposes the channel Session.Run selects on.
func (f *Fsm) Events() chan StateEvent { return f.events }

// PostEvent enqueues evt for processing on the owning goroutine.
func (f *Fsm) PostEvent(evt StateEvent) {
	defer func() { recover() }() // ignore post to a closed, finished machine
	f.events <- evt
}

// CloseEvents shuts the event channel down; call only from the owning
// goroutine once no further PostEvent calls can race it.
func (f *Fsm) CloseEvents() { close(f.events) }

// HandleEvent runs the transition for (f.State, evt.Event), if any, and
// follows any StateEvent the handler returns until one is not found or
// NO_EVENT is returned. Unknown (state, event) pairs are ignored: most
// commonly a retransmitted or out-of-order message.
func (f *Fsm) HandleEvent(evt StateEvent) {
	for {
		byEvent, ok := f.transitions[f.State]
		if !ok {
			return
		}
		tr, ok := byEvent[evt.Event]
		if !ok {
			return
		}
		f.State = tr.to
		next := tr.handler(evt.Data)
		if next.Event == NO_EVENT {
			return
		}
		evt = next
	}
}
