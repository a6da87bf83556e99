// Package deepgram streams utterance audio to Deepgram's realtime listen API.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/speechtotext"
)

const (
	defaultListenURL   = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en-US"
	defaultEndpointing = 500 * time.Millisecond

	// keepAliveAfter is how long the socket may sit without writes before a
	// KeepAlive is sent. Deepgram drops streams after ~10s of silence.
	keepAliveAfter = 3 * time.Second
)

// TranscriptionClient transcribes one utterance at a time: Transcribe opens a
// websocket scoped to the utterance, SendAudio feeds it and Finalize settles
// it. Streams are sequential, never concurrent.
type TranscriptionClient struct {
	listenURL   string
	apiKey      string
	model       string
	language    string
	endpointing time.Duration

	connMu    sync.Mutex
	conn      *websocket.Conn
	lastMsgTs time.Time

	transcriptMu sync.Mutex
	callbacks    transcriptionCallbacks
	segments     []string
	interim      string
	finalized    bool
	abandoned    bool
	finalCh      chan struct{}
}

type Option func(*TranscriptionClient)

// WithModel overrides the recognition model (default nova-3).
func WithModel(model string) Option {
	return func(c *TranscriptionClient) { c.model = model }
}

// WithLanguage overrides the recognition language (default en-US).
func WithLanguage(language string) Option {
	return func(c *TranscriptionClient) { c.language = language }
}

// WithAPIKey overrides the DEEPGRAM_API_KEY environment lookup.
func WithAPIKey(key string) Option {
	return func(c *TranscriptionClient) { c.apiKey = key }
}

// WithEndpointing overrides how much trailing silence Deepgram waits out
// before settling a segment (default 500ms).
func WithEndpointing(endpointing time.Duration) Option {
	return func(c *TranscriptionClient) { c.endpointing = endpointing }
}

func NewTranscriptionClient(opts ...Option) *TranscriptionClient {
	client := &TranscriptionClient{
		listenURL:   defaultListenURL,
		model:       defaultModel,
		language:    defaultLanguage,
		endpointing: defaultEndpointing,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Transcribe opens a transcription stream for the next utterance. It returns
// once the websocket is established; transcripts arrive through the callbacks
// configured in opts.
func (c *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := &speechtotext.TranscriptionOptions{EncodingInfo: audio.WireEncoding()}
	for _, opt := range opts {
		opt(options)
	}

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("transcription already in progress")
	}

	conn, err := c.connectWebsocket(connectionOptions{
		sampleRate: encoding.SampleRate,
		encoding:   encoding.Format.Name(),
	})
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	c.conn = conn
	c.lastMsgTs = time.Now()

	c.transcriptMu.Lock()
	c.callbacks = newCallbackConfig(*options)
	c.segments = nil
	c.interim = ""
	c.finalized = false
	c.abandoned = false
	c.finalCh = make(chan struct{})
	c.transcriptMu.Unlock()

	go c.readAndProcessMessages(ctx, conn)

	return nil
}

type connectionOptions struct {
	sampleRate int
	encoding   string
}

func (c *TranscriptionClient) connectWebsocket(options connectionOptions) (*websocket.Conn, error) {
	apiKey := c.apiKey
	if apiKey == "" {
		key, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		apiKey = key
	}

	listenUrl, err := url.Parse(c.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", c.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("punctuate", "true")
	// Interims are always requested: a stream that dies mid-utterance settles
	// with the last interim text.
	queryParams.Set("interim_results", "true")
	queryParams.Set("endpointing", strconv.Itoa(int(c.endpointing.Milliseconds())))

	listenUrl.RawQuery = queryParams.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(listenUrl.String(),
		http.Header{"Authorization": {"Token " + apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

type transcriptionCallbacks struct {
	interimTranscript func(transcript string)
	finalTranscript   func(transcript string)
	recoverableError  func(err error)
}

// newCallbackConfig normalizes the configured callbacks so message handling
// never needs nil checks.
func newCallbackConfig(options speechtotext.TranscriptionOptions) transcriptionCallbacks {
	callbacks := transcriptionCallbacks{
		interimTranscript: options.InterimTranscriptCallback,
		finalTranscript:   options.FinalTranscriptCallback,
		recoverableError:  options.RecoverableErrorCallback,
	}
	if callbacks.interimTranscript == nil {
		callbacks.interimTranscript = func(string) {}
	}
	if callbacks.finalTranscript == nil {
		callbacks.finalTranscript = func(string) {}
	}
	if callbacks.recoverableError == nil {
		callbacks.recoverableError = func(error) {}
	}
	return callbacks
}

func (c *TranscriptionClient) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("no open transcription stream")
	}

	c.lastMsgTs = time.Now()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (c *TranscriptionClient) sendKeepAlive() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return
	}
	c.lastMsgTs = time.Now()
	if err := c.conn.WriteJSON(
		struct {
			Type string `json:"type"`
		}{
			Type: "KeepAlive",
		}); err != nil {
		log.Println("Failed to write to deepgram client", "error", err)
	}
}

// Finalize asks Deepgram to settle the open stream and blocks until the final
// transcript was delivered or ctx expired. On expiry, or when the socket
// dropped earlier, the stream completes degraded: the final transcript is
// assembled from the text recognized so far and the recoverable-error
// callback reports the fault.
func (c *TranscriptionClient) Finalize(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	c.transcriptMu.Lock()
	finalCh := c.finalCh
	c.transcriptMu.Unlock()

	if finalCh == nil {
		return fmt.Errorf("no open transcription stream")
	}

	if conn != nil {
		if err := c.stopStream(); err != nil {
			log.Println("Failed to request transcript finalization", "error", err)
		}
	}

	select {
	case <-finalCh:
	case <-ctx.Done():
		c.completeDegraded(fmt.Errorf("final transcript wait aborted: %w", ctx.Err()))
		c.teardown()
	}
	return nil
}

// Close abandons any open stream without delivering a final transcript.
func (c *TranscriptionClient) Close() error {
	c.transcriptMu.Lock()
	c.abandoned = true
	c.transcriptMu.Unlock()

	c.teardown()
	c.completeFinal()
	return nil
}

func (c *TranscriptionClient) stopStream() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		if err := c.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			return fmt.Errorf("failed to close deepgram stream through websocket: %w", err)
		}
	}
	return nil
}

func (c *TranscriptionClient) teardown() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn) {
	keepAliveCtx, keepAliveCancel := context.WithCancel(ctx)
	defer keepAliveCancel()
	go c.keepAlive(keepAliveCtx)

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.connMu.Unlock()
			conn.Close()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.completeFinal()
				return
			}

			c.transcriptMu.Lock()
			settled := c.finalized || c.abandoned
			c.transcriptMu.Unlock()
			if !settled {
				log.Println("Failed to read deepgram websocket message", "error", err)
			}
			c.completeDegraded(fmt.Errorf("transcription stream interrupted: %w", err))
			return
		}
		if msgType != websocket.BinaryMessage {
			c.processMessage(msg)
		}
	}
}

func (c *TranscriptionClient) processMessage(msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		log.Println("Failed to unmarshal deepgram message", "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			log.Println("Failed to unmarshal deepgram message", err)
			return
		}

		if len(msgResp.Channel.Alternatives) == 0 {
			return
		}
		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if len(transcript) == 0 {
			return
		}

		c.transcriptMu.Lock()
		if c.finalized {
			c.transcriptMu.Unlock()
			return
		}
		if msgResp.IsFinal {
			c.segments = append(c.segments, transcript)
			c.interim = ""
		} else {
			c.interim = transcript
		}
		running := c.runningTranscriptLocked()
		interimCallback := c.callbacks.interimTranscript
		c.transcriptMu.Unlock()

		interimCallback(running)
	}
}

// runningTranscriptLocked joins the settled segments with the speculative
// tail. Callers hold transcriptMu.
func (c *TranscriptionClient) runningTranscriptLocked() string {
	transcript := strings.Join(c.segments, " ")
	if c.interim != "" {
		transcript += " " + c.interim
	}
	return strings.TrimSpace(transcript)
}

// completeFinal settles the stream exactly once with the transcript known so
// far and releases any Finalize waiter.
func (c *TranscriptionClient) completeFinal() {
	c.transcriptMu.Lock()
	if c.finalized || c.finalCh == nil {
		c.transcriptMu.Unlock()
		return
	}
	c.finalized = true
	transcript := c.runningTranscriptLocked()
	callback := c.callbacks.finalTranscript
	suppressed := c.abandoned
	close(c.finalCh)
	c.transcriptMu.Unlock()

	if !suppressed {
		callback(transcript)
	}
}

func (c *TranscriptionClient) completeDegraded(err error) {
	c.transcriptMu.Lock()
	if c.finalized || c.finalCh == nil {
		c.transcriptMu.Unlock()
		return
	}
	suppressed := c.abandoned
	errorCallback := c.callbacks.recoverableError
	c.transcriptMu.Unlock()

	if !suppressed {
		errorCallback(err)
	}
	c.completeFinal()
}

func (c *TranscriptionClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			idle := time.Since(c.lastMsgTs)
			active := c.conn != nil
			c.connMu.Unlock()

			if active && idle >= keepAliveAfter {
				c.sendKeepAlive()
			}
		}
	}
}
