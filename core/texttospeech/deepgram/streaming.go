package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/texttospeech"
)

// speechRequest drives one synthesis stream. Text is queued in segments with
// at most one Flush in flight: Deepgram sometimes drops text that arrives
// right after a Flush, so queued segments are only sent once the previous
// Flushed confirmation came back.
type speechRequest struct {
	ws   *websocket.Conn
	wsMu sync.Mutex

	mu           sync.Mutex
	segments     []string
	textComplete bool
	cancelled    bool
	closed       bool
	ended        bool

	callbacks callbackConfig
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
	if req.ws, err = c.connectWebsocket(options.EncodingInfo); err != nil {
		return nil, fmt.Errorf("failed to open websocket: %w", err)
	}

	go req.processIncomingMessages(ctx)

	return req, nil
}

func (c *TextToSpeechClient) connectWebsocket(encodingInfo audio.EncodingInfo) (*websocket.Conn, error) {
	apiKey := c.apiKey
	if apiKey == "" {
		key, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		apiKey = key
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", encodingInfo.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(encodingInfo.SampleRate))
	urlValues.Set("model", string(c.voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
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
		msgType, msg, err := r.ws.ReadMessage()
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

		switch msgType {
		case websocket.BinaryMessage:
			r.callbacks.speechAudio(msg)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				r.handleFlushed()
			}
		}
	}
}

// handleFlushed pops the confirmed segment, reports its mark and moves the
// next queued segment into flight.
func (r *speechRequest) handleFlushed() {
	r.mu.Lock()

	var mark *string
	if len(r.segments) > 0 {
		mark = &r.segments[0]
		r.segments = r.segments[1:]
	}

	ended := false
	if r.textComplete && (len(r.segments) == 0 ||
		(len(r.segments) == 1 && r.segments[0] == "")) {
		r.segments = nil
		ended = true
	} else if len(r.segments) > 0 {
		if err := r.sendWebsocketMessage(speakMsg(r.segments[0])); err != nil {
			log.Printf("Failed to send queued text to deepgram: %v", err)
		}
		if len(r.segments) > 1 || r.textComplete {
			if err := r.sendWebsocketMessage(flushMsg); err != nil {
				log.Printf("Failed to flush deepgram buffer: %v", err)
			}
		}
	}
	r.mu.Unlock()

	if mark != nil {
		r.callbacks.speechMark(*mark)
	}
	if ended {
		r.deliverEnded(texttospeech.SpeechEndedReport{})
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

	if len(r.segments) == 0 {
		r.segments = append(r.segments, "")
	}

	// The in-flight segment streams incrementally; queued segments are sent
	// whole when their turn comes.
	if len(r.segments) == 1 {
		if err := r.sendWebsocketMessage(speakMsg(text)); err != nil {
			return fmt.Errorf("failed to send websocket speak message: %w", err)
		}
	}
	r.segments[len(r.segments)-1] += text
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

	if len(r.segments) == 1 {
		if err := r.sendWebsocketMessage(flushMsg); err != nil {
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}

	r.segments = append(r.segments, "")

	return nil
}

func (r *speechRequest) EndOfText() error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("speech generator closed")
	} else if r.cancelled {
		r.mu.Unlock()
		return fmt.Errorf("speech generator cancelled")
	} else if r.textComplete {
		r.mu.Unlock()
		return nil
	}

	r.textComplete = true

	ended := false
	if len(r.segments) == 0 || (len(r.segments) == 1 && r.segments[0] == "") {
		r.segments = nil
		ended = true
	} else if len(r.segments) == 1 {
		// The in-flight segment was streamed without a trailing mark; flush
		// it out so the stream can settle.
		if err := r.sendWebsocketMessage(flushMsg); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("failed to send websocket flush message: %w", err)
		}
	}
	r.mu.Unlock()

	if ended {
		r.deliverEnded(texttospeech.SpeechEndedReport{})
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
	r.segments = nil
	err := r.sendWebsocketMessage(clearMsg)
	r.mu.Unlock()

	if err != nil {
		_ = r.Close()
		return fmt.Errorf("failed to send websocket clear message: %w", err)
	}

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

	if err := r.sendWebsocketMessage(closeMsg); err != nil {
		if aggressiveCloseErr := r.ws.Close(); aggressiveCloseErr != nil {
			return fmt.Errorf("failed to close websocket: %w", errors.Join(err, aggressiveCloseErr))
		}
	}
	return nil
}

type websocketMessage struct {
	Type string `json:"type"`
}

type websocketTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	speakMsg = func(text string) websocketTextMessage {
		return websocketTextMessage{Type: "Speak", Text: text}
	}
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

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
