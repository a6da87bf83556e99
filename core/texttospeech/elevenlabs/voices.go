package elevenlabs

import "strings"

// Voice is an ElevenLabs voice ID. The constants cover a few stock voices;
// custom voice IDs work anywhere a Voice is accepted.
type Voice string

const (
	VoiceRachel    Voice = "21m00Tcm4TlvDq8ikWAM"
	VoiceCharlotte Voice = "XB0fDUnXU5powFXDhCwa"
	VoiceAria      Voice = "9BWtsMINqrJLrRacOk9x"
	VoiceSarah     Voice = "EXAVITQu4vr4xnSDxMaL"
	VoiceJosh      Voice = "TxGEqnHWrfWFTfGW9XjX"
	VoiceAdam      Voice = "pNInz6obpgDQGcFmaJgB"
)

const defaultVoice = VoiceRachel

var voicePresets = map[string]Voice{
	"rachel":    VoiceRachel,
	"charlotte": VoiceCharlotte,
	"aria":      VoiceAria,
	"sarah":     VoiceSarah,
	"josh":      VoiceJosh,
	"adam":      VoiceAdam,
}

// ResolveVoice maps a preset name to its voice ID. Names that are not
// presets are assumed to already be voice IDs and pass through unchanged.
func ResolveVoice(name string) Voice {
	if voice, ok := voicePresets[strings.ToLower(name)]; ok {
		return voice
	}
	return Voice(name)
}

// Model is an ElevenLabs synthesis model.
type Model string

const (
	ModelFlashV25       Model = "eleven_flash_v2_5"
	ModelTurboV25       Model = "eleven_turbo_v2_5"
	ModelMultilingualV2 Model = "eleven_multilingual_v2"
)

const defaultModel = ModelFlashV25

func AvailableModels() []Model {
	return []Model{
		ModelFlashV25,
		ModelTurboV25,
		ModelMultilingualV2,
	}
}
