//go:build cgo

// Package miniaudio provides microphone capture and speaker playback
// through the miniaudio library. The local telephony transport uses it
// to run the full call pipeline against real devices during development,
// with no telephony provider involved.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/lina-core/core/audio"
)

// deviceSampleRate is the rate both devices run at. Most hardware
// supports it natively, so miniaudio does no hidden resampling.
const deviceSampleRate = 48000

// Client owns the malgo context and one device of each direction. It
// satisfies the local transport's device contract.
type Client struct {
	engine *malgo.AllocatedContext

	speaker    speaker
	microphone microphone
}

func NewClient() (*Client, error) {
	engine, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{engine: engine}

	if err := client.speaker.open(engine); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}
	if err := client.microphone.open(engine); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}

	return &client, nil
}

// Stream starts delivering captured device audio to onAudio until
// StopCapture or Close is called.
func (c *Client) Stream(_ context.Context, onAudio func(audio []byte)) error {
	return c.microphone.start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.microphone.stop()
}

// SendAudio queues device-encoded audio for playback.
func (c *Client) SendAudio(audio []byte) error {
	return c.speaker.enqueue(audio)
}

// Mark registers a callback invoked once everything queued before it has
// been written to the device.
func (c *Client) Mark(name string, callback func(name string)) error {
	return c.speaker.mark(name, callback)
}

// ClearBuffer drops queued playback audio and any unconfirmed marks.
func (c *Client) ClearBuffer() {
	c.speaker.clear()
}

func (c *Client) Close() {
	c.microphone.release()
	c.speaker.release()
	_ = c.engine.Uninit()
	c.engine.Free()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: deviceSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
