package deepgram

// Voice is an Aura 2 speech model.
type Voice string

const (
	VoiceThalia    Voice = "aura-2-thalia-en"
	VoiceAsteria   Voice = "aura-2-asteria-en"
	VoiceAndromeda Voice = "aura-2-andromeda-en"
	VoiceHelena    Voice = "aura-2-helena-en"
	VoiceApollo    Voice = "aura-2-apollo-en"
	VoiceOrion     Voice = "aura-2-orion-en"
)

const defaultVoice = VoiceThalia

func AvailableVoices() []Voice {
	return []Voice{
		VoiceThalia,
		VoiceAsteria,
		VoiceAndromeda,
		VoiceHelena,
		VoiceApollo,
		VoiceOrion,
	}
}
