package events

const (
	// KindSpeechFrame identifies synthesized audio handed to transport.
	KindSpeechFrame Kind = "speech.frame"
	// KindSpeechMarkPlayed identifies playback confirmation up to a mark.
	KindSpeechMarkPlayed Kind = "speech.mark_played"
	// KindSpeechEnded identifies end of playback for the current response.
	KindSpeechEnded Kind = "speech.ended"
)

// SpeechFrame carries a synthesized audio frame handed to transport.
type SpeechFrame struct {
	Base
	Audio []byte
}

// NewSpeechFrame creates a speech frame event.
func NewSpeechFrame(audio []byte) SpeechFrame {
	return SpeechFrame{Base: NewBase(KindSpeechFrame), Audio: audio}
}

// SpeechMarkPlayed marks the transport confirming playback up to a mark
// and carries the transcript chunk covered by it.
type SpeechMarkPlayed struct {
	Base
	MarkID     string
	Transcript string
}

// NewSpeechMarkPlayed creates a speech mark played event.
func NewSpeechMarkPlayed(markID, transcript string) SpeechMarkPlayed {
	return SpeechMarkPlayed{Base: NewBase(KindSpeechMarkPlayed), MarkID: markID, Transcript: transcript}
}

// SpeechEnded marks end of playback for the current response and carries
// the transcript that was actually played.
type SpeechEnded struct {
	Base
	Transcript string
}

// NewSpeechEnded creates a speech ended event.
func NewSpeechEnded(transcript string) SpeechEnded {
	return SpeechEnded{Base: NewBase(KindSpeechEnded), Transcript: transcript}
}
