package events

const (
	// KindResponseStarted identifies the start of response generation.
	KindResponseStarted Kind = "response.started"
	// KindResponseSegment identifies streamed response text segments.
	KindResponseSegment Kind = "response.segment"
	// KindResponseFinal identifies completion of the response text stream.
	KindResponseFinal Kind = "response.final"
)

// ResponseStarted marks response generation starting.
type ResponseStarted struct{ Base }

// NewResponseStarted creates a response started event.
func NewResponseStarted() ResponseStarted {
	return ResponseStarted{Base: NewBase(KindResponseStarted)}
}

// ResponseSegment carries a streamed response text segment.
type ResponseSegment struct {
	Base
	Segment string
}

// NewResponseSegment creates a response segment event.
func NewResponseSegment(segment string) ResponseSegment {
	return ResponseSegment{Base: NewBase(KindResponseSegment), Segment: segment}
}

// ResponseFinal marks completion of the response text stream and
// carries the assembled text.
type ResponseFinal struct {
	Base
	Response string
}

// NewResponseFinal creates a response final event.
func NewResponseFinal(response string) ResponseFinal {
	return ResponseFinal{Base: NewBase(KindResponseFinal), Response: response}
}
