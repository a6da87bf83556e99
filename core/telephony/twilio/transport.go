// Package twilio implements the telephony transport over Twilio Media
// Streams: a server-side websocket carrying JSON envelopes with
// base64-encoded mu-law audio.
package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/telephony"
)

// FrameDuration is the wire frame cadence Twilio media streams expect:
// one 160-byte mu-law frame every 20ms.
const FrameDuration = 20 * time.Millisecond

// outboundQueueSize bounds queued outbound items; at one frame per tick
// this is roughly ten seconds of audio. Senders block when it is full.
const outboundQueueSize = 512

// Transport carries one call over a Twilio media stream websocket.
//
// The reader goroutine owns inbound messages; outbound media is queued
// and written by a pacer goroutine one frame per tick, so audio is never
// sent faster than real time. Writes to the socket are serialized.
type Transport struct {
	conn *websocket.Conn

	wire       audio.EncodingInfo
	frameBytes int
	pace       time.Duration

	hooks telephony.SessionHooks

	// writeMu serializes socket writes and guards streamSid.
	writeMu   sync.Mutex
	streamSid string

	framerMu sync.Mutex
	framer   *audio.Framer

	queue chan outboundItem
	// epoch stamps queued items; Clear advances it so stale items are
	// dropped even if the pacer already popped them.
	epoch atomic.Uint64

	started    atomic.Bool
	closed     atomic.Bool
	closeCh    chan struct{}
	closeOnce  sync.Once
	inboundSeq atomic.Uint64
}

type outboundItem struct {
	epoch uint64
	audio []byte
	mark  string
}

type TransportOption func(*Transport)

// WithPaceInterval overrides the outbound pacing interval. Twilio
// expects real-time pacing; this exists for tests.
func WithPaceInterval(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.pace = d
		}
	}
}

// NewTransport wraps an upgraded media stream connection. The transport
// does not pump messages until Start is called.
func NewTransport(conn *websocket.Conn, opts ...TransportOption) *Transport {
	wire := audio.WireEncoding()
	t := &Transport{
		conn:       conn,
		wire:       wire,
		frameBytes: wire.BytesIn(FrameDuration),
		pace:       FrameDuration,
		queue:      make(chan outboundItem, outboundQueueSize),
		closeCh:    make(chan struct{}),
	}
	t.framer = audio.NewFramer(t.frameBytes, wire)

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler returns an http.Handler that upgrades Twilio media stream
// requests and hands each call's transport to onCall. onCall runs on
// the connection's handler goroutine and should return when the call
// ends.
func Handler(onCall func(transport *Transport), opts ...TransportOption) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Twilio connects from its own infrastructure, not a browser.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Failed to upgrade twilio media stream connection:", err)
			return
		}
		onCall(NewTransport(conn, opts...))
	})
}

func (t *Transport) Start(ctx context.Context, hooks telephony.SessionHooks) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport already started")
	}
	t.hooks = hooks

	go t.readLoop()
	go t.paceLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Close("context cancelled")
		case <-t.closeCh:
		}
	}()

	return nil
}

func (t *Transport) WireFormat() audio.EncodingInfo { return t.wire }

// SendAudio queues wire-encoded audio for paced transmission, re-framing
// it to the wire frame size. Partial tails stay buffered until more
// audio or a mark arrives.
func (t *Transport) SendAudio(wire []byte) error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	t.framerMu.Lock()
	frames := t.framer.Push(wire)
	t.framerMu.Unlock()

	for _, frame := range frames {
		if err := t.enqueue(outboundItem{audio: frame}); err != nil {
			return err
		}
	}
	return nil
}

// SendMark flushes any buffered partial frame padded with silence, then
// queues the mark behind it so confirmation covers all audio sent so far.
func (t *Transport) SendMark(name string) error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	t.framerMu.Lock()
	tail := t.framer.Flush()
	t.framerMu.Unlock()

	if tail != nil {
		if err := t.enqueue(outboundItem{audio: tail}); err != nil {
			return err
		}
	}
	return t.enqueue(outboundItem{mark: name})
}

// SendTone encodes a PCM tone to the wire format and queues it padded to
// whole frames, preserving the pacer cadence.
func (t *Transport) SendTone(pcm []int16) error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	t.framerMu.Lock()
	frames := t.framer.Push(audio.EncodeMulaw(pcm))
	if tail := t.framer.Flush(); tail != nil {
		frames = append(frames, tail)
	}
	t.framerMu.Unlock()

	for _, frame := range frames {
		if err := t.enqueue(outboundItem{audio: frame}); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops queued and buffered outbound audio and asks the provider
// to discard what it has already received but not played.
func (t *Transport) Clear() error {
	if t.closed.Load() {
		return telephony.ErrDisconnected
	}

	t.epoch.Add(1)
	for {
		select {
		case <-t.queue:
			continue
		default:
		}
		break
	}

	t.framerMu.Lock()
	t.framer.Reset()
	t.framerMu.Unlock()

	return t.writeClear()
}

func (t *Transport) Close(reason string) error {
	t.shutdown(true, reason)
	return nil
}

func (t *Transport) enqueue(item outboundItem) error {
	item.epoch = t.epoch.Load()
	select {
	case t.queue <- item:
		return nil
	case <-t.closeCh:
		return telephony.ErrDisconnected
	}
}

func (t *Transport) readLoop() {
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				log.Println("Failed to read twilio media stream message:", err)
				t.disconnect(telephony.DisconnectReasonTransportError)
			}
			return
		}
		if done := t.handleMessage(msg); done {
			return
		}
	}
}

// handleMessage dispatches one inbound envelope. It reports true once
// the stream has stopped and reading should cease.
func (t *Transport) handleMessage(msg []byte) bool {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Println("Failed to unmarshal twilio media stream message:", err)
		return false
	}

	switch env.Event {
	case eventConnected:
		// Protocol preamble before start; nothing to surface.

	case eventStart:
		if env.Start == nil {
			return false
		}
		t.writeMu.Lock()
		t.streamSid = env.Start.StreamSid
		t.writeMu.Unlock()
		if t.hooks.OnConnected != nil {
			t.hooks.OnConnected(telephony.CallInfo{
				StreamID: env.Start.StreamSid,
				CallID:   env.Start.CallSid,
				From:     env.Start.CustomParameters["from"],
				To:       env.Start.CustomParameters["to"],
			})
		}

	case eventMedia:
		if env.Media == nil {
			return false
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			log.Println("Failed to decode twilio media payload:", err)
			return false
		}
		if t.hooks.OnFrame != nil {
			t.hooks.OnFrame(audio.Frame{
				Seq:      t.inboundSeq.Add(1),
				Encoding: t.wire,
				Data:     payload,
			})
		}

	case eventMark:
		if env.Mark != nil && t.hooks.OnMarkPlayed != nil {
			t.hooks.OnMarkPlayed(env.Mark.Name)
		}

	case eventDTMF:
		if env.DTMF != nil && t.hooks.OnDigit != nil {
			t.hooks.OnDigit(env.DTMF.Digit)
		}

	case eventStop:
		t.disconnect(telephony.DisconnectReasonHangup)
		return true
	}
	return false
}

func (t *Transport) disconnect(reason string) {
	t.shutdown(false, "")
	if t.hooks.OnDisconnected != nil {
		t.hooks.OnDisconnected(reason)
	}
}

func (t *Transport) shutdown(notifyPeer bool, reason string) {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.closeCh)
		if notifyPeer {
			t.writeMu.Lock()
			_ = t.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(time.Second))
			t.writeMu.Unlock()
		}
		_ = t.conn.Close()
	})
}

func (t *Transport) paceLoop() {
	ticker := time.NewTicker(t.pace)
	defer ticker.Stop()

	for {
		select {
		case <-t.closeCh:
			return
		case <-ticker.C:
			t.pump()
		}
	}
}

// pump forwards queued marks and at most one audio frame per tick so
// outbound media never outpaces real time. Items stamped before the
// last Clear are dropped.
func (t *Transport) pump() {
	for {
		select {
		case item := <-t.queue:
			if item.mark != "" {
				if err := t.writeMark(item.mark, item.epoch); err != nil {
					log.Println("Failed to write twilio mark message:", err)
					return
				}
				continue
			}
			sent, err := t.writeMedia(item.audio, item.epoch)
			if err != nil {
				log.Println("Failed to write twilio media message:", err)
				return
			}
			if sent {
				return
			}
		default:
			return
		}
	}
}

// writeMedia re-checks the item's epoch under the write lock so a frame
// popped just before Clear can never hit the wire after the clear
// envelope. It reports whether a frame was actually written.
func (t *Transport) writeMedia(payload []byte, epoch uint64) (bool, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if epoch < t.epoch.Load() {
		return false, nil
	}
	if t.streamSid == "" {
		return false, fmt.Errorf("media stream not started")
	}
	err := t.conn.WriteJSON(envelope{
		Event:     eventMedia,
		StreamSid: t.streamSid,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Transport) writeMark(name string, epoch uint64) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if epoch < t.epoch.Load() {
		return nil
	}
	if t.streamSid == "" {
		return fmt.Errorf("media stream not started")
	}
	return t.conn.WriteJSON(envelope{
		Event:     eventMark,
		StreamSid: t.streamSid,
		Mark:      &markPayload{Name: name},
	})
}

func (t *Transport) writeClear() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.streamSid == "" {
		return fmt.Errorf("media stream not started")
	}
	return t.conn.WriteJSON(envelope{
		Event:     eventClear,
		StreamSid: t.streamSid,
	})
}
