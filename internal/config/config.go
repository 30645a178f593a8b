package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration. Values come from Defaults, then an
// optional YAML file named by TURNTABLE_CONFIG, then environment variables.
type Config struct {
	// Server
	Port    int  `yaml:"port"`
	Metrics bool `yaml:"metrics"`

	// Console
	Decks               []string      `yaml:"decks"`
	MasterVolume        float64       `yaml:"master_volume"`
	DeckVolume          float64       `yaml:"deck_volume"`
	Ramp                time.Duration `yaml:"ramp"`
	BendMagnitude       float64       `yaml:"bend_magnitude"`
	ScrubSecondsPerTurn float64       `yaml:"scrub_seconds_per_turn"`
	ScratchSensitivity  float64       `yaml:"scratch_sensitivity"`
	FFTSize             int           `yaml:"fft_size"`

	// Files
	MusicDir  string `yaml:"music_dir"`  // empty allows any path
	RecordDir string `yaml:"record_dir"` // where mixes are saved

	// Outputs
	Speaker     bool   `yaml:"speaker"`
	StreamName  string `yaml:"stream_name"`
	MP3Bitrate  string `yaml:"mp3_bitrate"`
	OpusBitrate int    `yaml:"opus_bitrate"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                8080,
		Metrics:             true,
		Decks:               []string{"A", "B"},
		MasterVolume:        75,
		DeckVolume:          80,
		Ramp:                15 * time.Millisecond,
		BendMagnitude:       0.05,
		ScrubSecondsPerTurn: 1.5,
		ScratchSensitivity:  1.2,
		FFTSize:             256,
		RecordDir:           "recordings",
		Speaker:             true,
		StreamName:          "turntable mix",
		MP3Bitrate:          "192k",
		OpusBitrate:         128000,
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("TURNTABLE_CONFIG"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
		err = decode(f, &cfg)
		f.Close()
		if err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader overlays a YAML document on Defaults and validates the result.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Defaults()
	if err := decode(r, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("TURNTABLE_PORT", cfg.Port)
	cfg.Metrics = envBool("TURNTABLE_METRICS", cfg.Metrics)
	if v := os.Getenv("TURNTABLE_DECKS"); v != "" {
		cfg.Decks = nil
		for _, id := range strings.Split(v, ",") {
			cfg.Decks = append(cfg.Decks, strings.TrimSpace(id))
		}
	}
	cfg.MasterVolume = envFloat("TURNTABLE_MASTER_VOLUME", cfg.MasterVolume)
	cfg.DeckVolume = envFloat("TURNTABLE_DECK_VOLUME", cfg.DeckVolume)
	cfg.Ramp = envDuration("TURNTABLE_RAMP", cfg.Ramp)
	cfg.BendMagnitude = envFloat("TURNTABLE_BEND_MAGNITUDE", cfg.BendMagnitude)
	cfg.ScrubSecondsPerTurn = envFloat("TURNTABLE_SCRUB_SECONDS", cfg.ScrubSecondsPerTurn)
	cfg.ScratchSensitivity = envFloat("TURNTABLE_SCRATCH_SENSITIVITY", cfg.ScratchSensitivity)
	cfg.FFTSize = envInt("TURNTABLE_FFT_SIZE", cfg.FFTSize)
	cfg.MusicDir = envStr("TURNTABLE_MUSIC_DIR", cfg.MusicDir)
	cfg.RecordDir = envStr("TURNTABLE_RECORD_DIR", cfg.RecordDir)
	cfg.Speaker = envBool("TURNTABLE_SPEAKER", cfg.Speaker)
	cfg.StreamName = envStr("TURNTABLE_STREAM_NAME", cfg.StreamName)
	cfg.MP3Bitrate = envStr("TURNTABLE_MP3_BITRATE", cfg.MP3Bitrate)
	cfg.OpusBitrate = envInt("TURNTABLE_OPUS_BITRATE", cfg.OpusBitrate)
}

// Validate reports every problem in cfg as one joined error.
func Validate(cfg Config) error {
	var errs []error
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"master_volume", cfg.MasterVolume},
		{"deck_volume", cfg.DeckVolume},
		{"bend_magnitude", cfg.BendMagnitude},
		{"scrub_seconds_per_turn", cfg.ScrubSecondsPerTurn},
		{"scratch_sensitivity", cfg.ScratchSensitivity},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			errs = append(errs, fmt.Errorf("%s %v is not a finite number", f.name, f.v))
		}
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1..65535", cfg.Port))
	}
	if len(cfg.Decks) == 0 {
		errs = append(errs, errors.New("decks: at least one deck is required"))
	}
	seen := make(map[string]bool, len(cfg.Decks))
	for _, id := range cfg.Decks {
		switch {
		case id == "":
			errs = append(errs, errors.New("decks: empty deck id"))
		case seen[id]:
			errs = append(errs, fmt.Errorf("decks: duplicate deck id %q", id))
		}
		seen[id] = true
	}
	if cfg.MasterVolume < 0 || cfg.MasterVolume > 100 {
		errs = append(errs, fmt.Errorf("master_volume %v out of range 0..100", cfg.MasterVolume))
	}
	if cfg.DeckVolume < 0 || cfg.DeckVolume > 100 {
		errs = append(errs, fmt.Errorf("deck_volume %v out of range 0..100", cfg.DeckVolume))
	}
	if cfg.Ramp < 0 {
		errs = append(errs, fmt.Errorf("ramp %v must not be negative", cfg.Ramp))
	}
	if cfg.BendMagnitude <= 0 || cfg.BendMagnitude > 0.5 {
		errs = append(errs, fmt.Errorf("bend_magnitude %v out of range (0, 0.5]", cfg.BendMagnitude))
	}
	if cfg.ScrubSecondsPerTurn <= 0 {
		errs = append(errs, fmt.Errorf("scrub_seconds_per_turn %v must be positive", cfg.ScrubSecondsPerTurn))
	}
	if cfg.ScratchSensitivity < 1 {
		errs = append(errs, fmt.Errorf("scratch_sensitivity %v must be at least 1", cfg.ScratchSensitivity))
	}
	if n := cfg.FFTSize; n < 32 || n > 32768 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("fft_size %d must be a power of two in 32..32768", n))
	}
	if cfg.OpusBitrate <= 0 {
		errs = append(errs, fmt.Errorf("opus_bitrate %d must be positive", cfg.OpusBitrate))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
