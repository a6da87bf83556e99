package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/lina-core/core/audio"
	"github.com/koscakluka/lina-core/core/speechtotext"
	"github.com/koscakluka/lina-core/core/vad"
)

// inboundFrameBacklog bounds the frame queue between the transport reader
// and the inbound worker. At the 20ms wire cadence this is above a second of
// audio; a full queue blocks the reader rather than dropping frames.
const inboundFrameBacklog = 64

// finalDeliveryGrace covers the gap between Finalize unblocking and the
// final transcript callback delivering its text.
const finalDeliveryGrace = 100 * time.Millisecond

// inboundState is the caller-side audio path: segmentation, interruption
// activation, and the transcription feed. All fields except the atomics are
// owned by the inbound worker goroutine.
type inboundState struct {
	frames chan audio.Frame

	classifier vad.Classifier
	segmenter  *vad.Segmenter
	activation *vad.Activation

	// utterance is the open capture, nil between utterances.
	utterance *utteranceCapture

	// sttBusy is set while a previous utterance is still waiting for its
	// final transcript; the next utterance buffers audio until it clears.
	sttBusy atomic.Bool
}

// utteranceCapture tracks one utterance from segmenter start to final
// transcript.
type utteranceCapture struct {
	id        string
	startedAt time.Time

	sttOpen bool
	pending [][]byte

	interimMu   sync.Mutex
	lastInterim string

	finalText chan string
}

func (c *utteranceCapture) setInterim(text string) {
	c.interimMu.Lock()
	c.lastInterim = text
	c.interimMu.Unlock()
}

func (c *utteranceCapture) interim() string {
	c.interimMu.Lock()
	defer c.interimMu.Unlock()
	return c.lastInterim
}

func (o *Orchestrator) newInboundState() *inboundState {
	in := &inboundState{
		frames:     make(chan audio.Frame, inboundFrameBacklog),
		classifier: vad.NewEnergyClassifier(o.config.energyThreshold),
		activation: vad.NewActivation(o.config.activationWindow),
	}
	in.segmenter = vad.NewSegmenter(in.classifier,
		vad.WithHoldOff(o.config.holdOff),
		vad.WithUtteranceStartedCallback(o.onUtteranceStarted),
		vad.WithUtteranceEndedCallback(o.onUtteranceEnded),
		vad.WithSpeechFrameCallback(o.onSpeechFrame),
	)
	return in
}

// acceptFrame hands one wire frame from the transport reader to the inbound
// worker, blocking for backpressure rather than dropping audio.
func (o *Orchestrator) acceptFrame(frame audio.Frame) {
	select {
	case o.in.frames <- frame:
	case <-o.runtime.closeCh:
	}
}

func (o *Orchestrator) runInbound() {
	for {
		select {
		case <-o.runtime.closeCh:
			return
		case frame := <-o.in.frames:
			o.handleFrame(frame)
		}
	}
}

func (o *Orchestrator) handleFrame(frame audio.Frame) {
	speaking := o.speaking.Load()
	if speaking && !o.config.bargeIn {
		// With barge-in disabled nothing the caller says during playback is
		// kept. An utterance still open from before playback started would
		// hold the transcription stream forever, so it is abandoned.
		if o.in.segmenter.Abort() {
			o.abandonUtterance()
		}
		return
	}

	o.in.segmenter.Push(frame)

	if !speaking {
		o.in.activation.Reset()
		return
	}

	classification := o.in.classifier.Classify(frame.Samples())
	if o.interruptArmed.Load() {
		return
	}
	if o.in.activation.Push(frame, classification) {
		o.interruptArmed.Store(true)
		utteranceID := ""
		if o.in.utterance != nil {
			utteranceID = o.in.utterance.id
		}
		o.runtime.enqueue(interruptionDetected{utteranceID: utteranceID})
	}
}

func (o *Orchestrator) onUtteranceStarted(at time.Time) {
	capture := &utteranceCapture{
		id:        uuid.NewString(),
		startedAt: at,
		finalText: make(chan string, 1),
	}
	o.in.utterance = capture
	o.openTranscription(capture)
	o.runtime.enqueue(utteranceStarted{id: capture.id, at: at})
}

func (o *Orchestrator) onSpeechFrame(frame audio.Frame) {
	capture := o.in.utterance
	if capture == nil {
		return
	}

	if !capture.sttOpen {
		capture.pending = append(capture.pending, frame.Data)
		// The transcriber may have been finalizing the previous utterance
		// when this one started; retry until it frees up.
		o.openTranscription(capture)
		return
	}

	if err := o.transcriber.SendAudio(frame.Data); err != nil {
		logger.Warn("Failed to send audio to transcription", "error", err, "utterance_id", capture.id)
	}
}

// abandonUtterance drops the open capture without settling a transcript.
func (o *Orchestrator) abandonUtterance() {
	capture := o.in.utterance
	o.in.utterance = nil
	if capture == nil {
		return
	}

	if capture.sttOpen {
		if err := o.transcriber.Close(); err != nil {
			logger.Warn("Failed to abandon transcription stream", "error", err, "utterance_id", capture.id)
		}
	}
	o.runtime.enqueue(utteranceAborted{id: capture.id})
}

func (o *Orchestrator) onUtteranceEnded(at time.Time) {
	capture := o.in.utterance
	o.in.utterance = nil
	if capture == nil {
		return
	}

	o.runtime.enqueue(utteranceEnded{id: capture.id, at: at})

	o.in.sttBusy.Store(true)
	go o.finalizeUtterance(capture)
}

// openTranscription opens the transcription stream for a capture and flushes
// any buffered audio into it. It is a no-op while the transcriber is still
// settling the previous utterance.
func (o *Orchestrator) openTranscription(capture *utteranceCapture) {
	if capture.sttOpen || o.in.sttBusy.Load() {
		return
	}

	err := o.transcriber.Transcribe(o.baseContext,
		speechtotext.WithEncodingInfo(o.transport.WireFormat()),
		speechtotext.WithInterimTranscriptCallback(func(transcript string) {
			capture.setInterim(transcript)
			o.runtime.enqueue(transcriptInterim{utteranceID: capture.id, transcript: transcript})
		}),
		speechtotext.WithFinalTranscriptCallback(func(transcript string) {
			select {
			case capture.finalText <- transcript:
			default:
			}
		}),
		speechtotext.WithRecoverableErrorCallback(func(err error) {
			logger.Warn("Recoverable transcription error", "error", err, "utterance_id", capture.id)
		}),
	)
	if err != nil {
		logger.Error("Failed to open transcription stream", "error", err, "utterance_id", capture.id)
		return
	}

	capture.sttOpen = true
	for _, payload := range capture.pending {
		if err := o.transcriber.SendAudio(payload); err != nil {
			logger.Warn("Failed to flush buffered audio to transcription", "error", err, "utterance_id", capture.id)
			break
		}
	}
	capture.pending = nil
}

// finalizeUtterance waits out the bounded finalization and reports the
// settled transcript. A capture whose stream never opened, or whose final
// transcript did not arrive in time, is reported degraded; in the latter
// case the last interim text stands in for the final.
func (o *Orchestrator) finalizeUtterance(capture *utteranceCapture) {
	defer o.in.sttBusy.Store(false)

	transcript := ""
	degraded := true
	if capture.sttOpen {
		ctx, cancel := context.WithTimeout(o.baseContext, o.config.finalizeWait)
		defer cancel()

		if err := o.transcriber.Finalize(ctx); err != nil {
			logger.Warn("Failed to finalize transcription", "error", err, "utterance_id", capture.id)
		}

		select {
		case transcript = <-capture.finalText:
			degraded = ctx.Err() != nil
		case <-time.After(finalDeliveryGrace):
			transcript = capture.interim()
		}
	}

	o.runtime.enqueue(transcriptFinal{
		utteranceID: capture.id,
		transcript:  transcript,
		degraded:    degraded,
	})
}
