// Package elevenlabs synthesizes speech through ElevenLabs' streaming
// text-to-speech API.
package elevenlabs

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
	model  Model
}

type Option func(*TextToSpeechClient)

// WithAPIKey overrides the ELEVENLABS_API_KEY environment lookup.
func WithAPIKey(key string) Option {
	return func(c *TextToSpeechClient) { c.apiKey = key }
}

// WithVoice overrides the voice (default Rachel). Accepts raw voice IDs;
// use ResolveVoice to map preset names first.
func WithVoice(voice Voice) Option {
	return func(c *TextToSpeechClient) { c.voice = voice }
}

// WithModel overrides the synthesis model (default eleven_flash_v2_5).
func WithModel(model Model) Option {
	return func(c *TextToSpeechClient) { c.model = model }
}

func NewTextToSpeechClient(opts ...Option) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice, model: defaultModel}
	for _, opt := range opts {
		opt(client)
	}

	if !slices.Contains(AvailableModels(), client.model) {
		return nil, fmt.Errorf("invalid model %q", client.model)
	}
	if client.voice == "" {
		return nil, fmt.Errorf("voice must not be empty")
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice Voice) {
	c.voice = voice
}

func defaultEncoding() audio.EncodingInfo {
	return audio.EncodingInfo{SampleRate: 24000, Format: audio.EncodingLinear16}
}
