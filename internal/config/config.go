// Package config loads the portrait server's settings from the environment
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
)

// Config is the whole server configuration. Zero values are not defaults; use Load.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	GeminiAPIKey    string
	GeminiModel     string // persona / mouth / gender analysis
	GeminiLiveModel string // realtime audio session

	InputSampleRate      int
	OutputSampleRate     int
	MicBlockSize         int    // samples per outbound frame
	MicSource            string // "device" or "websocket"
	ExcludedAudioDevices []string

	AnimationFPS      float64
	LoudnessThreshold float64 // noise floor on RMS
	LoudnessSmoothing float64 // exponential smoothing factor k
	JawGain           float64
	JawCap            float64 // fraction of mouth height
	JawMinPixels      float64
	JawSplit          float64 // fraction of mouth height where the jaw hinges
	JawExtent         float64 // jaw depth below the hinge, in mouth heights

	VoiceMale    string
	VoiceFemale  string
	VoiceDefault string

	PortraitMaxSize int // longest edge in pixels
	AnalysisCache   bool
	FrameQuality    int // JPEG quality of broadcast frames
}

// Load reads configuration from the environment, after merging a local .env if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8000"),
		GRPCAddr:             getEnv("GRPC_ADDR", ":50052"),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiLiveModel:      getEnv("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		InputSampleRate:      getEnvInt("INPUT_SAMPLE_RATE", 16000),
		OutputSampleRate:     getEnvInt("OUTPUT_SAMPLE_RATE", 24000),
		MicBlockSize:         getEnvInt("MIC_BLOCK_SIZE", 4096),
		MicSource:            getEnv("MIC_SOURCE", "device"),
		ExcludedAudioDevices: getEnvList("EXCLUDED_AUDIO_DEVICES", []string{"iphone", "teams"}),
		AnimationFPS:         getEnvFloat("ANIMATION_FPS", 30),
		LoudnessThreshold:    getEnvFloat("LOUDNESS_THRESHOLD", 0.02),
		LoudnessSmoothing:    getEnvFloat("LOUDNESS_SMOOTHING", 0.25),
		JawGain:              getEnvFloat("JAW_GAIN", 8),
		JawCap:               getEnvFloat("JAW_CAP", 0.7),
		JawMinPixels:         getEnvFloat("JAW_MIN_PIXELS", 1),
		JawSplit:             getEnvFloat("JAW_SPLIT", 0.5),
		JawExtent:            getEnvFloat("JAW_EXTENT", 1.5),
		VoiceMale:            getEnv("VOICE_MALE", "Charon"),
		VoiceFemale:          getEnv("VOICE_FEMALE", "Kore"),
		VoiceDefault:         getEnv("VOICE_DEFAULT", "Puck"),
		PortraitMaxSize:      getEnvInt("PORTRAIT_MAX_SIZE", 1024),
		AnalysisCache:        getEnvBool("ANALYSIS_CACHE", true),
		FrameQuality:         getEnvInt("FRAME_QUALITY", 80),
	}
}

// Validate reports settings the conversation cannot run without.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return apperr.New(apperr.CodeConfigMissing, "GEMINI_API_KEY is not set")
	}
	if c.MicSource != "device" && c.MicSource != "websocket" {
		return apperr.New(apperr.CodeConfigInvalid, "MIC_SOURCE must be device or websocket").
			WithMetadata("mic_source", c.MicSource)
	}
	if c.InputSampleRate <= 0 || c.OutputSampleRate <= 0 || c.MicBlockSize <= 0 {
		return apperr.New(apperr.CodeConfigInvalid, "sample rates and block size must be positive")
	}
	if c.AnimationFPS <= 0 {
		return apperr.New(apperr.CodeConfigInvalid, "ANIMATION_FPS must be positive")
	}
	for _, f := range []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"LOUDNESS_SMOOTHING", c.LoudnessSmoothing, 0, 1},
		{"JAW_CAP", c.JawCap, 0, 1},
		{"JAW_SPLIT", c.JawSplit, 0, 1},
	} {
		if f.v < f.min || f.v > f.max {
			return apperr.Newf(apperr.CodeConfigInvalid, "%s must be within [%g, %g]", f.name, f.min, f.max).
				WithMetadata("value", strconv.FormatFloat(f.v, 'g', -1, 64))
		}
	}
	if c.FrameQuality < 1 || c.FrameQuality > 100 {
		return apperr.New(apperr.CodeConfigInvalid, "FRAME_QUALITY must be within [1, 100]")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
