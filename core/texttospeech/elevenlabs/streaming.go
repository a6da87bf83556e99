package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/texttospeech"
)

// speechRequest drives one synthesis stream. The stream-input API carries no
// flush confirmations, so marks are settled by counting alignment characters:
// a mark is due once synthesis has covered every character sent before it.
// Alignment occasionally omits padding characters, in which case a mark
// settles with the next chunk or with the final message.
type speechRequest struct {
	ws   *websocket.Conn
	wsMu sync.Mutex

	mu               sync.Mutex
	segment          string
	marks            []markPoint
	charsSent        int
	charsSynthesized int
	textComplete     bool
	cancelled        bool
	closed           bool
	ended            bool

	callbacks callbackConfig
}

// markPoint records where in the character stream a mark was requested and
// the text it closes.
type markPoint struct {
	offset  int
	segment string
}

// NewSpeechGenerator opens a synthesis stream for one response. Audio and
// marks arrive through the callbacks configured in opts.
func (c *TextToSpeechClient) NewSpeechGenerator(ctx context.Context, opts ...texttospeech.TextToSpeechOption) (texttospeech.SpeechGenerator, error) {
	options := texttospeech.TextToSpeechOptions{EncodingInfo: defaultEncoding()}
	for _, opt := range opts {
		opt(&options)
	}

	req := &speechRequest{callbacks: newCallbackConfig(options)}

	var err error
	if req.ws, err = c.connectWebsocket(ctx, options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	// The opening frame primes the stream; its space is counted like any
	// other character so mark offsets stay aligned with what was sent.
	if err := req.sendWebsocketMessage(openingFrame()); err != nil {
		_ = req.ws.Close()
		return nil, fmt.Errorf("failed to open speech stream: %w", err)
	}
	req.charsSent++

	go req.processIncomingMessages(ctx)

	return req, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context, encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	apiKey := c.apiKey
	if apiKey == "" {
		key, ok := os.LookupEnv("ELEVENLABS_API_KEY")
		if !ok {
			return nil, fmt.Errorf("elevenlabs api key not found")
		}
		apiKey = key
	}

	format, err := outputFormat(encodingInfo)
	if err != nil {
		return nil, err
	}

	urlValues := url.Values{}
	urlValues.Set("model_id", string(c.model))
	urlValues.Set("output_format", format)
	urlValues.Set("sync_alignment", "true")
	urlValues.Set("apply_text_normalization", "off")
	urlValues.Set("inactivity_timeout", "60")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		(&url.URL{
			Scheme:   "wss",
			Host:     "api.elevenlabs.io",
			Path:     "/v1/text-to-speech/" + url.PathEscape(string(c.voice)) + "/stream-input",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"xi-api-key": {apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to elevenlabs: %w", err)
	}

	return conn, nil
}

// outputFormat maps an encoding onto the API's output_format parameter.
func outputFormat(encodingInfo audio.EncodingInfo) (string, error) {
	switch encodingInfo.Format {
	case audio.EncodingMulaw:
		if encodingInfo.SampleRate == 8000 {
			return "ulaw_8000", nil
		}
	case audio.EncodingLinear16:
		switch encodingInfo.SampleRate {
		case 16000:
			return "pcm_16000", nil
		case 22050:
			return "pcm_22050", nil
		case 24000:
			return "pcm_24000", nil
		case 44100:
			return "pcm_44100", nil
		}
	}
	return "", fmt.Errorf("unsupported encoding %s at %d Hz", encodingInfo.Format.Name(), encodingInfo.SampleRate)
}

type callbackConfig struct {
	speechAudio func([]byte)
	speechMark  func(string)
	speechEnded func(texttospeech.SpeechEndedReport)
	onError     func(error)
}

func newCallbackConfig(options texttospeech.TextToSpeechOptions) callbackConfig {
	callbacks := callbackConfig{
		speechAudio: options.SpeechAudioCallback,
		speechMark:  options.SpeechMarkCallback,
		speechEnded: options.SpeechEndedCallback,
		onError:     options.ErrorCallback,
	}
	if callbacks.speechAudio == nil {
		callbacks.speechAudio = func([]byte) {}
	}
	if callbacks.speechMark == nil {
		callbacks.speechMark = func(string) {}
	}
	if callbacks.speechEnded == nil {
		callbacks.speechEnded = func(texttospeech.SpeechEndedReport) {}
	}
	if callbacks.onError == nil {
		callbacks.onError = func(error) {}
	}
	return callbacks
}

func (r *speechRequest) processIncomingMessages(_ context.Context) {
	for {
		_, msg, err := r.ws.ReadMessage()
		if err != nil {
			r.mu.Lock()
			settled := r.closed || r.cancelled || r.ended
			r.mu.Unlock()

			if settled {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Websocket read error: %v", err)
				r.callbacks.onError(fmt.Errorf("speech stream interrupted: %w", err))
			}
			r.deliverEnded(texttospeech.SpeechEndedReport{Cancelled: true})
			return
		}

		var parsedMsg struct {
			Audio               string         `json:"audio"`
			IsFinal             bool           `json:"isFinal"`
			Alignment           *alignmentInfo `json:"alignment"`
			NormalizedAlignment *alignmentInfo `json:"normalizedAlignment"`
			Error               string         `json:"error"`
		}
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			continue
		}

		if parsedMsg.Error != "" {
			r.callbacks.onError(fmt.Errorf("speech stream error: %s", parsedMsg.Error))
			continue
		}

		if parsedMsg.Audio != "" {
			audioData, err := decodeAudio(parsedMsg.Audio)
			if err != nil {
				log.Printf("Failed to decode audio payload: %v", err)
				continue
			}
			r.callbacks.speechAudio(audioData)
		}

		alignment := parsedMsg.Alignment
		if alignment == nil {
			alignment = parsedMsg.NormalizedAlignment
		}
		if alignment != nil {
			r.advanceSynthesis(len(alignment.Chars))
		}

		if parsedMsg.IsFinal {
			r.settleRemainingMarks()
			r.deliverEnded(texttospeech.SpeechEndedReport{})
			return
		}
	}
}

// advanceSynthesis moves the synthesis cursor and settles every mark the
// cursor has passed.
func (r *speechRequest) advanceSynthesis(chars int) {
	r.mu.Lock()
	r.charsSynthesized += chars

	var due []string
	for len(r.marks) > 0 && r.marks[0].offset <= r.charsSynthesized {
		due = append(due, r.marks[0].segment)
		r.marks = r.marks[1:]
	}
	r.mu.Unlock()

	for _, segment := range due {
		r.callbacks.speechMark(segment)
	}
}

func (r *speechRequest) settleRemainingMarks() {
	r.mu.Lock()
	remaining := r.marks
	r.marks = nil
	r.mu.Unlock()

	for _, mark := range remaining {
		r.callbacks.speechMark(mark.segment)
	}
}

// deliverEnded reports the terminal state exactly once and closes the stream.
func (r *speechRequest) deliverEnded(report texttospeech.SpeechEndedReport) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	r.mu.Unlock()

	r.callbacks.speechEnded(report)
	_ = r.Close()
}

func (r *speechRequest) SendText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("speech generator closed")
	} else if r.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if r.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	if err := r.sendWebsocketMessage(textFrame(text)); err != nil {
		return fmt.Errorf("failed to send websocket text message: %w", err)
	}
	r.segment += text
	r.charsSent += utf8.RuneCountInString(text)
	return nil
}

func (r *speechRequest) Mark() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("speech generator closed")
	} else if r.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if r.textComplete {
		return fmt.Errorf("speech generator text already completed")
	}

	r.marks = append(r.marks, markPoint{offset: r.charsSent, segment: r.segment})
	r.segment = ""

	// The flush frame needs text to not read as end-of-stream; its padding
	// space is counted like the rest.
	if err := r.sendWebsocketMessage(flushFrame()); err != nil {
		return fmt.Errorf("failed to send websocket flush message: %w", err)
	}
	r.charsSent++

	return nil
}

func (r *speechRequest) EndOfText() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("speech generator closed")
	} else if r.cancelled {
		return fmt.Errorf("speech generator cancelled")
	} else if r.textComplete {
		return nil
	}

	r.textComplete = true
	if r.segment != "" {
		r.marks = append(r.marks, markPoint{offset: r.charsSent, segment: r.segment})
		r.segment = ""
	}

	if err := r.sendWebsocketMessage(endFrame()); err != nil {
		return fmt.Errorf("failed to send websocket end message: %w", err)
	}

	return nil
}

func (r *speechRequest) Cancel() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("speech generator closed")
	} else if r.cancelled {
		r.mu.Unlock()
		return nil
	}

	r.cancelled = true
	r.segment = ""
	r.marks = nil
	r.mu.Unlock()

	// The stream-input API has no clear control message; dropping the
	// connection is the only way to stop synthesis mid-stream.
	return r.Close()
}

func (r *speechRequest) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	closeErr := r.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := r.ws.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", errors.Join(closeErr, err))
	}
	return nil
}

type streamFrame struct {
	Text             string            `json:"text"`
	Flush            bool              `json:"flush,omitempty"`
	GenerationConfig *generationConfig `json:"generation_config,omitempty"`
}

type generationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule,omitempty"`
}

type alignmentInfo struct {
	Chars []string `json:"chars"`
}

func openingFrame() streamFrame {
	return streamFrame{
		Text:             " ",
		GenerationConfig: &generationConfig{ChunkLengthSchedule: []int{120, 160, 250, 290}},
	}
}

func textFrame(text string) streamFrame { return streamFrame{Text: text} }

func flushFrame() streamFrame { return streamFrame{Text: " ", Flush: true} }

// endFrame closes the text stream; an empty text field is the API's
// end-of-stream signal.
func endFrame() streamFrame { return streamFrame{Text: ""} }

// decodeAudio tolerates both padded and unpadded base64 payloads.
func decodeAudio(payload string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(payload)
}

func (r *speechRequest) sendWebsocketMessage(msg any) error {
	if r.ws == nil {
		return fmt.Errorf("websocket connection closed")
	}

	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	if err := r.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}
