package orchestration

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/lina-core/core/interruptions"
	"github.com/koscakluka/lina-core/core/telephony"
	"go.opentelemetry.io/otel/attribute"
)

const sessionEventQueueCapacity = 32

// Session queue items. Transport hooks, segmenter callbacks, and response
// workers enqueue these; the single session worker consumes them, so all
// state transitions happen in one place, in arrival order.
type (
	callConnected struct {
		info telephony.CallInfo
	}
	callDigit struct {
		digit string
	}
	callDisconnected struct {
		reason string
	}
	utteranceStarted struct {
		id string
		at time.Time
	}
	utteranceEnded struct {
		id string
		at time.Time
	}
	utteranceAborted struct {
		id string
	}
	transcriptInterim struct {
		utteranceID string
		transcript  string
	}
	transcriptFinal struct {
		utteranceID string
		transcript  string
		degraded    bool
	}
	interruptionDetected struct {
		utteranceID string
	}
	interruptionClassified struct {
		utteranceID string
		decision    interruptions.Decision
		transcript  string
		startedAt   time.Time
		err         error
	}
	responseOpened struct {
		response *activeResponse
	}
	responseSegment struct {
		response *activeResponse
		segment  string
	}
	responseSettled struct {
		response *activeResponse
		err      error
	}
	markPlayed struct {
		markID     string
		transcript string
	}
	terminateSession struct {
		reason string
	}
)

type eventQueueItem struct {
	event    any
	queuedAt time.Time
}

// sessionRuntime runs the session's single event worker over a bounded
// queue.
type sessionRuntime struct {
	queue   chan eventQueueItem
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

func newSessionRuntime() *sessionRuntime {
	return &sessionRuntime{
		queue:   make(chan eventQueueItem, sessionEventQueueCapacity),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (runtime *sessionRuntime) start(process func(eventQueueItem)) (started bool) {
	if runtime.isClosed() {
		return false
	}

	runtime.startOnce.Do(func() {
		started = true
		runtime.started.Store(true)
		go func() {
			defer close(runtime.done)

			for {
				select {
				case <-runtime.closeCh:
					return
				case queuedEvent := <-runtime.queue:
					process(queuedEvent)
					if runtime.isClosed() {
						return
					}
				}
			}
		}()
	})

	return started
}

func (runtime *sessionRuntime) end() {
	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
	})
}

func (runtime *sessionRuntime) waitUntilEnded() {
	if runtime.started.Load() {
		<-runtime.done
	}
}

// enqueue queues an item for the session worker. It blocks while the queue
// is full and reports false once the runtime has ended.
func (runtime *sessionRuntime) enqueue(event any) bool {
	if runtime.isClosed() {
		return false
	}

	queueItem := eventQueueItem{event: event, queuedAt: time.Now()}
	select {
	case <-runtime.closeCh:
		return false
	case runtime.queue <- queueItem:
		return true
	}
}

func (runtime *sessionRuntime) isClosed() bool {
	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

func (runtime *sessionRuntime) queuedEventCount() int {
	return len(runtime.queue)
}

// processQueuedEvent dispatches one queue item on the session worker.
func (o *Orchestrator) processQueuedEvent(queuedEvent eventQueueItem) {
	_, span := tracer.Start(o.baseContext, "process session event")
	defer span.End()

	queuedTime := time.Since(queuedEvent.queuedAt).Seconds()
	span.SetAttributes(
		attribute.Float64("session.event_queued_time", queuedTime),
		attribute.Int("session.queued_events", o.runtime.queuedEventCount()),
		attribute.String("session.state", string(o.session.State)),
	)

	switch event := queuedEvent.event.(type) {
	case callConnected:
		span.SetAttributes(attribute.String("session.event", "call.connected"))
		o.handleCallConnected(event)
	case callDigit:
		span.SetAttributes(attribute.String("session.event", "call.digit"))
		o.handleCallDigit(event)
	case callDisconnected:
		span.SetAttributes(attribute.String("session.event", "call.disconnected"))
		o.handleCallDisconnected(event)
	case utteranceStarted:
		span.SetAttributes(attribute.String("session.event", "utterance.started"))
		o.handleUtteranceStarted(event)
	case utteranceEnded:
		span.SetAttributes(attribute.String("session.event", "utterance.ended"))
		o.handleUtteranceEnded(event)
	case utteranceAborted:
		span.SetAttributes(attribute.String("session.event", "utterance.aborted"))
		o.handleUtteranceAborted(event)
	case transcriptInterim:
		span.SetAttributes(attribute.String("session.event", "transcript.interim"))
		o.handleTranscriptInterim(event)
	case transcriptFinal:
		span.SetAttributes(attribute.String("session.event", "transcript.final"))
		o.handleTranscriptFinal(event)
	case interruptionDetected:
		span.SetAttributes(attribute.String("session.event", "interruption.detected"))
		o.handleInterruptionDetected(event)
	case interruptionClassified:
		span.SetAttributes(attribute.String("session.event", "interruption.classified"))
		o.handleInterruptionClassified(event)
	case responseOpened:
		span.SetAttributes(attribute.String("session.event", "response.opened"))
		o.handleResponseOpened(event)
	case responseSegment:
		span.SetAttributes(attribute.String("session.event", "response.segment"))
		o.handleResponseSegment(event)
	case responseSettled:
		span.SetAttributes(attribute.String("session.event", "response.settled"))
		o.handleResponseSettled(event)
	case markPlayed:
		span.SetAttributes(attribute.String("session.event", "speech.mark"))
		o.handleMarkPlayed(event)
	case terminateSession:
		span.SetAttributes(attribute.String("session.event", "session.terminate"))
		o.terminate(event.reason)
	default:
		logger.Warn("Dropped unknown session event", "event", event)
	}
}
