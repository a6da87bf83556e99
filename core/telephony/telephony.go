// Package telephony defines the duplex media transport contract for a
// single call. Provider adapters (twilio, local) implement
// [MediaTransport]; the session pipeline consumes it.
package telephony

import (
	"context"
	"errors"

	"github.com/koscakluka/lina-core/core/audio"
)

// ErrDisconnected is returned by transport operations once the call has
// ended on the wire. Senders treat it as terminal, not retryable.
var ErrDisconnected = errors.New("call disconnected")

// Disconnect reasons reported through [SessionHooks.OnDisconnected].
const (
	// DisconnectReasonHangup marks the caller or provider ending the call.
	DisconnectReasonHangup = "hangup"
	// DisconnectReasonTransportError marks the media connection failing.
	DisconnectReasonTransportError = "transport-error"
)

// CallInfo identifies a connected call.
type CallInfo struct {
	// StreamID is the provider's media stream identifier.
	StreamID string
	// CallID is the provider's call identifier.
	CallID string
	// From and To are the caller and callee endpoint identifiers, when
	// the provider shares them.
	From string
	To   string
}

// SessionHooks receive transport lifecycle signals and inbound media.
// Any hook may be nil. Hooks are invoked from the transport's reader
// goroutine in arrival order and must not block for long.
type SessionHooks struct {
	// OnConnected fires once when the provider opens the media stream.
	OnConnected func(info CallInfo)
	// OnFrame delivers one inbound wire frame. Frames arrive in wire
	// order with a per-call sequence number.
	OnFrame func(frame audio.Frame)
	// OnDigit delivers a DTMF key press.
	OnDigit func(digit string)
	// OnMarkPlayed confirms outbound playback up to a named mark.
	OnMarkPlayed func(name string)
	// OnDisconnected fires once when the call ends on the wire, with one
	// of the DisconnectReason constants. It does not fire for a locally
	// initiated Close.
	OnDisconnected func(reason string)
}

// MediaTransport is a duplex byte-oriented media channel for one call.
//
// Outbound audio is queued and transmitted in submission order at the
// nominal wire frame rate, never in bursts. Send operations apply
// backpressure by blocking when the outbound queue is full and return
// [ErrDisconnected] once the call has ended.
type MediaTransport interface {
	// Start attaches hooks and begins pumping the media stream. Call it
	// once; the transport stops when ctx is cancelled, the wire
	// disconnects, or Close is called.
	Start(ctx context.Context, hooks SessionHooks) error

	// SendAudio queues wire-encoded audio for paced transmission. The
	// payload may have any length; the transport re-frames it to the
	// wire frame size, buffering partial tails across calls.
	SendAudio(wire []byte) error

	// SendMark queues a named playback marker behind all audio queued so
	// far. The provider confirms it through OnMarkPlayed once the
	// preceding audio has played. Queuing a mark flushes any buffered
	// partial frame padded with silence.
	SendMark(name string) error

	// SendTone queues a short PCM tone (sampled at the wire rate) as an
	// acknowledgment signal, independent of the synthesis path.
	SendTone(pcm []int16) error

	// Clear drops all queued and buffered outbound audio, including
	// audio the provider has buffered but not yet played.
	Clear() error

	// Close ends the call from this side. The reason is recorded for
	// diagnostics only. Close is idempotent.
	Close(reason string) error

	// WireFormat reports the negotiated wire encoding.
	WireFormat() audio.EncodingInfo
}
