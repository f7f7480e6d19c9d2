package ike

import "github.com/msgboxio/ike/state"

// unionTransitions combines edge sets the same way state.NewFsm does
// internally; it exists here because Transitions' value type is
// unexported, so outside the state package the only way to combine two
// sets is to copy entries across, not to build fresh transition literals.
func unionTransitions(sets ...state.Transitions) state.Transitions {
	all := state.Transitions{}
	for _, set := range sets {
		for from, byEvent := range set {
			if all[from] == nil {
				all[from] = byEvent
				continue
			}
			for evt, tr := range byEvent {
				all[from][evt] = tr
			}
		}
	}
	return all
}

// InitiatorTransitions wires the exchange sequence an initiator drives:
// IKE_SA_INIT, then IKE_AUTH, then steady-state CREATE_CHILD_SA rekeys.
// It lives here rather than in package state because every handler is a
// bound *Session method.
func InitiatorTransitions(o *Session) state.Transitions {
	call := func(h func() state.StateEvent) state.Handler {
		return func(interface{}) state.StateEvent { return h() }
	}
	return unionTransitions(
		state.T(state.STATE_IDLE, state.SMI_START, state.STATE_START, call(o.SendInit)),
		state.T(state.STATE_START, state.MSG_INIT, state.STATE_INIT, o.HandleIkeSaInit),
		state.T(state.STATE_INIT, state.SUCCESS, state.STATE_AUTH, call(o.SendAuth)),
		// STATE_AUTH self-loops on MSG_AUTH: with EAP configured,
		// HandleIkeAuth runs several rounds here before the exchange is
		// fully authenticated, each one returning NO_EVENT to stay put.
		state.T(state.STATE_AUTH, state.MSG_AUTH, state.STATE_AUTH, o.HandleIkeAuth),
		state.T(state.STATE_AUTH, state.SUCCESS, state.STATE_MATURE, call(o.InstallSa)),
		state.T(state.STATE_MATURE, state.SUCCESS, state.STATE_MATURE, call(o.InstallSa)),
	)
}

// CommonTransitions wires the edges that apply once an IKE SA is up,
// regardless of which side established it: child SA rekeys, peer-driven
// close, and the teardown sequence every active state can fall into.
func CommonTransitions(o *Session) state.Transitions {
	call := func(h func() state.StateEvent) state.Handler {
		return func(interface{}) state.StateEvent { return h() }
	}
	closing := func(interface{}) state.StateEvent {
		return state.StateEvent{Event: state.FINISHED}
	}
	finish := call(o.Finished)

	sets := []state.Transitions{
		state.T(state.STATE_MATURE, state.MSG_CHILD_SA, state.STATE_MATURE, o.HandleCreateChildSa),
		state.T(state.STATE_CLOSING, state.FINISHED, state.STATE_CLOSED, finish),
		state.T(state.STATE_CLOSED, state.FINISHED, state.STATE_CLOSED, finish),
	}
	for _, from := range []state.StateId{state.STATE_START, state.STATE_INIT, state.STATE_AUTH, state.STATE_MATURE} {
		sets = append(sets,
			state.T(from, state.FAIL, state.STATE_CLOSING, closing),
			state.T(from, state.DELETE_IKE_SA, state.STATE_CLOSING, closing),
		)
	}
	sets = append(sets,
		state.T(state.STATE_START, state.INIT_FAIL, state.STATE_CLOSING, closing),
		state.T(state.STATE_INIT, state.INIT_FAIL, state.STATE_CLOSING, closing),
		state.T(state.STATE_AUTH, state.AUTH_FAIL, state.STATE_CLOSING, closing),
		state.T(state.STATE_MATURE, state.AUTH_FAIL, state.STATE_CLOSING, closing),
	)
	return unionTransitions(sets...)
}
