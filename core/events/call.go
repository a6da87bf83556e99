package events

const (
	// KindCallConnected identifies the provider opening the media stream.
	KindCallConnected Kind = "call.connected"
	// KindCallDigit identifies a DTMF key press.
	KindCallDigit Kind = "call.digit"
	// KindCallDisconnected identifies the call ending on the wire.
	KindCallDisconnected Kind = "call.disconnected"
)

// CallConnected marks the telephony provider opening the media stream.
type CallConnected struct {
	Base
	StreamID string
	CallID   string
}

// NewCallConnected creates a call connected event.
func NewCallConnected(streamID, callID string) CallConnected {
	return CallConnected{Base: NewBase(KindCallConnected), StreamID: streamID, CallID: callID}
}

// CallDigit carries a DTMF key pressed by the caller.
type CallDigit struct {
	Base
	Digit string
}

// NewCallDigit creates a DTMF digit event.
func NewCallDigit(digit string) CallDigit {
	return CallDigit{Base: NewBase(KindCallDigit), Digit: digit}
}

// CallDisconnected marks the call ending on the wire, whether by the
// caller hanging up or the provider closing the stream.
type CallDisconnected struct{ Base }

// NewCallDisconnected creates a call disconnected event.
func NewCallDisconnected() CallDisconnected {
	return CallDisconnected{Base: NewBase(KindCallDisconnected)}
}
