// Package events defines the typed call-session event contract.
//
// Event kinds are grouped by namespace:
//
//   - call.*
//   - utterance.*
//   - transcript.*
//   - response.*
//   - speech.*
//   - turn.*
//   - interruption.*
//   - session.*
//
// Semantics used across the package:
//
//   - Frame: binary audio payload in pipeline order.
//   - Segment: append-only text piece emitted in stream order.
//   - Interim: mutable point-in-time snapshot replaced by later updates.
//   - Final: terminal immutable text/state for the current stream.
//   - Ended: lifecycle boundary indicating stream or session completion.
//
// call events (transport lifecycle)
//
//   - CallConnected (call.connected): the telephony provider opened the
//     media stream; carries the provider stream and call identifiers.
//   - CallDigit (call.digit): the caller pressed a DTMF key.
//   - CallDisconnected (call.disconnected): the caller or provider ended
//     the call.
//
// utterance events (segmentation)
//
//   - UtteranceStarted (utterance.started): caller speech activity began.
//   - UtteranceEnded (utterance.ended): caller speech activity ended
//     after the silence hold-off.
//   - UtteranceAborted (utterance.aborted): the open utterance was closed
//     without an end boundary (interruption resolution).
//
// transcript events (speech-to-text)
//
//   - TranscriptInterim (transcript.interim): mutable transcript snapshot
//     for the open utterance; each update replaces the previous one.
//   - TranscriptFinal (transcript.final): terminal transcript for the
//     utterance. Degraded marks a final assembled from the last interim
//     after the upstream connection was lost.
//
// response events (language model)
//
//   - ResponseStarted (response.started): response generation started.
//   - ResponseSegment (response.segment): streamed response text segment.
//   - ResponseFinal (response.final): response text stream is complete;
//     carries the assembled text.
//
// speech events (synthesis and playback)
//
//   - SpeechFrame (speech.frame): synthesized audio handed to transport.
//   - SpeechMarkPlayed (speech.mark_played): the transport confirmed
//     playback up to a mark; carries the transcript chunk covered by it.
//   - SpeechEnded (speech.ended): playback ended for the current
//     response; carries the transcript actually played.
//
// turn events (conversation record)
//
//   - TurnAppended (turn.appended): a conversation turn was appended to
//     the session transcript.
//
// interruption events
//
//   - InterruptionDetected (interruption.detected): caller speech was
//     detected while the assistant was speaking.
//   - InterruptionClassified (interruption.classified): the interruption
//     was resolved to a decision (resume or cancel).
//
// session events
//
//   - SessionStateChanged (session.state_changed): the session state
//     machine moved between states.
//   - SessionEnded (session.ended): the session terminated; carries the
//     termination reason.
package events
