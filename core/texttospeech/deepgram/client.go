// Package deepgram synthesizes speech through Deepgram's realtime speak API.
package deepgram

import (
	"fmt"
	"slices"

	"github.com/koscakluka/lina-core/core/audio"
)

// TextToSpeechClient opens one speech generator per response. Generators are
// independent websocket streams; cancelling one never disturbs the next.
type TextToSpeechClient struct {
	apiKey string
	voice  Voice
}

type Option func(*TextToSpeechClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment lookup.
func WithAPIKey(key string) Option {
	return func(c *TextToSpeechClient) { c.apiKey = key }
}

// WithVoice overrides the speech model (default aura-2-thalia-en).
func WithVoice(voice Voice) Option {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

func NewTextToSpeechClient(opts ...Option) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice}
	for _, opt := range opts {
		opt(client)
	}

	if !slices.Contains(AvailableVoices(), client.voice) {
		return nil, fmt.Errorf("invalid voice %q", client.voice)
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice Voice) {
	c.voice = voice
}

func defaultEncoding() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 24000, Format: audio.EncodingLinear16}
}
