package eap

// base implements the lifecycle behavior common to every method: Success
// and Failure frames always end the conversation, a Notification Request
// always gets the canonical Response without changing state. Each method
// embeds base and calls handleCommon before its own subtype dispatch.
type base struct {
	state    State
	msk, emsk []byte
}

func (b *base) CurrentState() State { return b.state }

// handleCommon returns (result, true) when msg was fully handled by the
// common base behavior; the caller's own Process should fall through to
// method-specific dispatch when ok is false.
func (b *base) handleCommon(msg *Message) (result Result, ok bool) {
	switch {
	case msg.Code == CodeSuccess:
		b.state = StateFinal
		return Success(b.msk, b.emsk), true
	case msg.Code == CodeFailure:
		b.state = StateFinal
		return Failure(), true
	case msg.IsNotification():
		return Response(NotificationResponse(msg.Identifier).Encode()), true
	}
	return Result{}, false
}

// wrongCode reports whether msg's code is not the one a Request-driven
// method expects while mid-conversation (EapInvalidRequestException).
func wrongCode(msg *Message, want Code) bool {
	return msg.Code != want
}
