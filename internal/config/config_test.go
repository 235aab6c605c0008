package config

import (
	"slices"
	"testing"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "GRPC_ADDR", "INPUT_SAMPLE_RATE", "OUTPUT_SAMPLE_RATE", "MIC_BLOCK_SIZE",
		"MIC_SOURCE", "LOUDNESS_SMOOTHING", "JAW_CAP", "VOICE_DEFAULT", "ANALYSIS_CACHE",
		"EXCLUDED_AUDIO_DEVICES",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.HTTPAddr != ":8000" || cfg.GRPCAddr != ":50052" {
		t.Errorf("addrs = %q, %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.InputSampleRate != 16000 || cfg.OutputSampleRate != 24000 || cfg.MicBlockSize != 4096 {
		t.Errorf("audio = %d/%d/%d", cfg.InputSampleRate, cfg.OutputSampleRate, cfg.MicBlockSize)
	}
	if cfg.MicSource != "device" || cfg.VoiceDefault != "Puck" || !cfg.AnalysisCache {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LoudnessSmoothing != 0.25 || cfg.JawCap != 0.7 {
		t.Errorf("animation = smoothing %v cap %v", cfg.LoudnessSmoothing, cfg.JawCap)
	}
	if !slices.Equal(cfg.ExcludedAudioDevices, []string{"iphone", "teams"}) {
		t.Errorf("excluded devices = %v", cfg.ExcludedAudioDevices)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("MIC_SOURCE", "websocket")
	t.Setenv("OUTPUT_SAMPLE_RATE", "48000")
	t.Setenv("JAW_GAIN", "4.5")
	t.Setenv("ANALYSIS_CACHE", "0")
	t.Setenv("EXCLUDED_AUDIO_DEVICES", " AirPods , ,zoom")

	cfg := Load()
	if cfg.HTTPAddr != ":9000" || cfg.MicSource != "websocket" {
		t.Errorf("strings = %q, %q", cfg.HTTPAddr, cfg.MicSource)
	}
	if cfg.OutputSampleRate != 48000 || cfg.JawGain != 4.5 || cfg.AnalysisCache {
		t.Errorf("parsed = %d %v %v", cfg.OutputSampleRate, cfg.JawGain, cfg.AnalysisCache)
	}
	if !slices.Equal(cfg.ExcludedAudioDevices, []string{"AirPods", "zoom"}) {
		t.Errorf("excluded devices = %q", cfg.ExcludedAudioDevices)
	}
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("PORTRAIT_TEST_INT", "many")
	t.Setenv("PORTRAIT_TEST_FLOAT", "1,5")
	t.Setenv("PORTRAIT_TEST_BOOL", "yes")

	if v := getEnvInt("PORTRAIT_TEST_INT", 7); v != 7 {
		t.Errorf("getEnvInt = %d, want fallback 7", v)
	}
	if v := getEnvFloat("PORTRAIT_TEST_FLOAT", 2.5); v != 2.5 {
		t.Errorf("getEnvFloat = %v, want fallback 2.5", v)
	}
	if getEnvBool("PORTRAIT_TEST_BOOL", true) {
		t.Error("getEnvBool treats only true and 1 as true")
	}
	if v := getEnv("PORTRAIT_TEST_UNSET", "x"); v != "x" {
		t.Errorf("getEnv = %q", v)
	}
	if v := getEnvList("PORTRAIT_TEST_UNSET", nil); v != nil {
		t.Errorf("getEnvList = %v", v)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GeminiAPIKey:      "key",
			MicSource:         "device",
			InputSampleRate:   16000,
			OutputSampleRate:  24000,
			MicBlockSize:      4096,
			AnimationFPS:      30,
			LoudnessSmoothing: 0.25,
			JawCap:            0.7,
			JawSplit:          0.5,
			FrameQuality:      80,
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		code   apperr.Code
	}{
		{"valid", func(*Config) {}, apperr.CodeUnspecified},
		{"missing key", func(c *Config) { c.GeminiAPIKey = "" }, apperr.CodeConfigMissing},
		{"bad mic source", func(c *Config) { c.MicSource = "bluetooth" }, apperr.CodeConfigInvalid},
		{"zero rate", func(c *Config) { c.OutputSampleRate = 0 }, apperr.CodeConfigInvalid},
		{"zero fps", func(c *Config) { c.AnimationFPS = 0 }, apperr.CodeConfigInvalid},
		{"smoothing above one", func(c *Config) { c.LoudnessSmoothing = 1.5 }, apperr.CodeConfigInvalid},
		{"negative cap", func(c *Config) { c.JawCap = -0.1 }, apperr.CodeConfigInvalid},
		{"quality", func(c *Config) { c.FrameQuality = 0 }, apperr.CodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.code == apperr.CodeUnspecified {
				if err != nil {
					t.Errorf("Validate = %v", err)
				}
				return
			}
			if !apperr.IsCode(err, tt.code) {
				t.Errorf("Validate = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestLoadedDefaultsValidate(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	for _, key := range []string{"MIC_SOURCE", "LOUDNESS_SMOOTHING", "JAW_CAP", "JAW_SPLIT", "FRAME_QUALITY", "ANIMATION_FPS"} {
		t.Setenv(key, "")
	}
	if err := Load().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}
