// Package config loads pipeline configuration from YAML files and
// LINA_-prefixed environment variables. API keys are never read from files;
// provider clients pick them up from their own environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telephony    TelephonyConfig    `yaml:"telephony"`
	STT          STTConfig          `yaml:"stt"`
	LLM          LLMConfig          `yaml:"llm"`
	TTS          TTSConfig          `yaml:"tts"`
	Segmenter    SegmenterConfig    `yaml:"segmenter"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

type TelephonyConfig struct {
	Provider string `yaml:"provider"`
}

type STTConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	EndpointingMS int    `yaml:"endpointing_ms"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// ClassifierModel runs interruption classification; it is always a Groq
	// model regardless of the response provider.
	ClassifierModel string `yaml:"classifier_model"`
}

type TTSConfig struct {
	Provider string `yaml:"provider"`
	// Voice left empty picks the provider's default.
	Voice string `yaml:"voice"`
	// Model only applies to elevenlabs.
	Model string `yaml:"model"`
}

type SegmenterConfig struct {
	HoldOffMS       int     `yaml:"hold_off_ms"`
	ActivationMS    int     `yaml:"activation_ms"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

type OrchestratorConfig struct {
	Greeting              string `yaml:"greeting"`
	ClassifyInterruptions bool   `yaml:"classify_interruptions"`
	FailureThreshold      int    `yaml:"failure_threshold"`
	FinalizeWaitMS        int    `yaml:"finalize_wait_ms"`
	ResponseTimeoutMS     int    `yaml:"response_timeout_ms"`
	SynthesisTimeoutMS    int    `yaml:"synthesis_timeout_ms"`
}

func Default() Config {
	return Config{
		Telephony: TelephonyConfig{
			Provider: "twilio",
		},
		STT: STTConfig{
			Provider:      "deepgram",
			Model:         "nova-3",
			Language:      "en-US",
			EndpointingMS: 500,
		},
		LLM: LLMConfig{
			Provider:        "groq",
			Model:           "llama-3.3-70b-versatile",
			ClassifierModel: "llama-3.1-8b-instant",
		},
		TTS: TTSConfig{
			Provider: "deepgram",
		},
		Segmenter: SegmenterConfig{
			HoldOffMS:       500,
			ActivationMS:    100,
			EnergyThreshold: 300,
		},
		Orchestrator: OrchestratorConfig{
			Greeting:           "Hello! How can I help you today?",
			FailureThreshold:   3,
			FinalizeWaitMS:     3000,
			ResponseTimeoutMS:  10000,
			SynthesisTimeoutMS: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Telephony.Provider, "LINA_TELEPHONY_PROVIDER")
	overrideString(&cfg.STT.Provider, "LINA_STT_PROVIDER")
	overrideString(&cfg.STT.Model, "LINA_STT_MODEL")
	overrideString(&cfg.STT.Language, "LINA_STT_LANGUAGE")
	overrideInt(&cfg.STT.EndpointingMS, "LINA_STT_ENDPOINTING_MS")
	overrideString(&cfg.LLM.Provider, "LINA_LLM_PROVIDER")
	overrideString(&cfg.LLM.Model, "LINA_LLM_MODEL")
	overrideString(&cfg.LLM.ClassifierModel, "LINA_LLM_CLASSIFIER_MODEL")
	overrideString(&cfg.TTS.Provider, "LINA_TTS_PROVIDER")
	overrideString(&cfg.TTS.Voice, "LINA_TTS_VOICE")
	overrideString(&cfg.TTS.Model, "LINA_TTS_MODEL")
	overrideInt(&cfg.Segmenter.HoldOffMS, "LINA_SEGMENTER_HOLD_OFF_MS")
	overrideInt(&cfg.Segmenter.ActivationMS, "LINA_SEGMENTER_ACTIVATION_MS")
	overrideFloat(&cfg.Segmenter.EnergyThreshold, "LINA_SEGMENTER_ENERGY_THRESHOLD")
	overrideString(&cfg.Orchestrator.Greeting, "LINA_ORCHESTRATOR_GREETING")
	overrideBool(&cfg.Orchestrator.ClassifyInterruptions, "LINA_ORCHESTRATOR_CLASSIFY_INTERRUPTIONS")
	overrideInt(&cfg.Orchestrator.FailureThreshold, "LINA_ORCHESTRATOR_FAILURE_THRESHOLD")
	overrideInt(&cfg.Orchestrator.FinalizeWaitMS, "LINA_ORCHESTRATOR_FINALIZE_WAIT_MS")
	overrideInt(&cfg.Orchestrator.ResponseTimeoutMS, "LINA_ORCHESTRATOR_RESPONSE_TIMEOUT_MS")
	overrideInt(&cfg.Orchestrator.SynthesisTimeoutMS, "LINA_ORCHESTRATOR_SYNTHESIS_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Telephony.Provider {
	case "twilio", "local":
	default:
		return errors.New("telephony.provider must be one of twilio|local")
	}
	if cfg.STT.Provider != "deepgram" {
		return errors.New("stt.provider must be deepgram")
	}
	if cfg.STT.EndpointingMS <= 0 {
		return errors.New("stt.endpointing_ms must be positive")
	}
	switch cfg.LLM.Provider {
	case "groq", "openai":
	default:
		return errors.New("llm.provider must be one of groq|openai")
	}
	if cfg.LLM.Model == "" {
		return errors.New("llm.model must not be empty")
	}
	switch cfg.TTS.Provider {
	case "deepgram", "elevenlabs":
	default:
		return errors.New("tts.provider must be one of deepgram|elevenlabs")
	}
	if cfg.Segmenter.HoldOffMS <= 0 {
		return errors.New("segmenter.hold_off_ms must be positive")
	}
	if cfg.Segmenter.ActivationMS <= 0 {
		return errors.New("segmenter.activation_ms must be positive")
	}
	if cfg.Segmenter.EnergyThreshold <= 0 {
		return errors.New("segmenter.energy_threshold must be positive")
	}
	if cfg.Orchestrator.ClassifyInterruptions && cfg.LLM.ClassifierModel == "" {
		return errors.New("llm.classifier_model must be set when interruption classification is enabled")
	}
	if cfg.Orchestrator.FailureThreshold < 1 {
		return errors.New("orchestrator.failure_threshold must be >= 1")
	}
	if cfg.Orchestrator.FinalizeWaitMS <= 0 {
		return errors.New("orchestrator.finalize_wait_ms must be positive")
	}
	if cfg.Orchestrator.ResponseTimeoutMS <= 0 {
		return errors.New("orchestrator.response_timeout_ms must be positive")
	}
	if cfg.Orchestrator.SynthesisTimeoutMS <= 0 {
		return errors.New("orchestrator.synthesis_timeout_ms must be positive")
	}
	return nil
}
