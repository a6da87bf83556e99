// Package local implements the telephony transport over the machine's
// own audio devices, so the full call pipeline can run in development
// with no telephony provider involved. Captured microphone audio leaves
// as 8kHz mu-law wire frames and outbound wire audio plays on the
// speaker, byte-identical to what a provider would exchange.
package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/telephony"
)

const frameDuration = 20 * time.Millisecond

// Devices is the duplex device contract the transport drives,
// implemented by audio/miniaudio.Client.
type Devices interface {
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
	SendAudio(audio []byte) error
	Mark(name string, callback func(name string)) error
	ClearBuffer()
	EncodingInfo() audio.EncodingInfo
	Close()
}

type Transport struct {
	devices        Devices
	deviceEncoding audio.EncodingInfo
	wire           audio.EncodingInfo

	// mu guards the stateful transcoding pipeline on both directions.
	mu            sync.Mutex
	inbound       *audio.Transcoder
	inboundFramer *audio.Framer
	outbound      *audio.Transcoder

	hooks telephony.SessionHooks

	callID    string
	seq       atomic.Uint64
	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewTransport wraps capture/playback devices as a call transport. The
// transport owns the devices and closes them when the call ends.
func NewTransport(devices Devices) *Transport {
	wire := audio.WireEncoding()
	deviceEncoding := devices.EncodingInfo()
	return &Transport{
		devices:        devices,
		deviceEncoding: deviceEncoding,
		wire:           wire,
		inbound:        audio.NewTranscoder(deviceEncoding, wire, 0),
		inboundFramer:  audio.NewFramer(wire.BytesIn(frameDuration), wire),
		outbound:       audio.NewTranscoder(wire, deviceEncoding, 0),
		callID:         uuid.NewString(),
	}
}

func (t *Transport) Start(ctx context.Context, hooks telephony.SessionHooks) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport already started")
	}
	t.hooks = hooks

	if err := t.devices.Stream(ctx, t.handleCapture); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	if t.hooks.OnConnected != nil {
		t.hooks.OnConnected(telephony.CallInfo{
			StreamID: "local-" + t.callID,
			CallID:   t.callID,
			From:     "microphone",
			To:       "speaker",
		})
	}
	return nil
}

func (t *Transport) WireFormat() audio.EncodingInfo { return t.wire }

// handleCapture transcodes device audio to the wire contract and emits
// exact wire frames with a per-call sequence number.
func (t *Transport) handleCapture(captured []byte) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	wire, err := t.inbound.Transcode(captured)
	if err != nil {
		t.mu.Unlock()
		return
	}
	frames := t.inboundFramer.Push(wire)
	t.mu.Unlock()

	if t.hooks.OnFrame == nil {
		return
	}
	for _, frame := range frames {
		t.hooks.OnFrame(audio.Frame{
			Seq:      t.seq.Add(1),
			Encoding: t.wire,
			Data:     frame,
		})
	}
}

func (t *Transport) SendAudio(wire []byte) error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	t.mu.Lock()
	device, err := t.outbound.Transcode(wire)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if len(device) == 0 {
		return nil
	}
	return t.devices.SendAudio(device)
}

func (t *Transport) SendMark(name string) error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	onMarkPlayed := t.hooks.OnMarkPlayed
	return t.devices.Mark(name, func(name string) {
		if onMarkPlayed != nil && !t.closed.Load() {
			onMarkPlayed(name)
		}
	})
}

// SendTone plays a wire-rate PCM tone directly on the device, skipping
// the wire encoding round trip.
func (t *Transport) SendTone(pcm []int16) error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	resampler := audio.NewResampler(t.wire.SampleRate, t.deviceEncoding.SampleRate)
	return t.devices.SendAudio(audio.SamplesToBytes(resampler.Resample(pcm)))
}

func (t *Transport) Clear() error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	t.devices.ClearBuffer()
	t.mu.Lock()
	t.outbound.Reset()
	t.mu.Unlock()
	return nil
}

func (t *Transport) Close(string) error {
	t.shutdown()
	return nil
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		_ = t.devices.StopCapture()
		t.devices.Close()
	})
}

// InjectDigit surfaces a DTMF digit as if the provider delivered one.
// Local runs have no touch-tone pad; demos and tests use this.
func (t *Transport) InjectDigit(digit string) {
	if t.closed.Load() {
		return
	}
	if t.hooks.OnDigit != nil {
		t.hooks.OnDigit(digit)
	}
}

// Disconnect simulates the caller hanging up.
func (t *Transport) Disconnect() {
	if t.closed.Load() {
		return
	}
	hook := t.hooks.OnDisconnected
	t.shutdown()
	if hook != nil {
		hook(telephony.DisconnectReasonHangup)
	}
}
