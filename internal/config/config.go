package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/GlitchedBaby/TrafficXia/internal/model"
)

// The intersection serves between two and four signaled approaches.
const (
	MinApproaches = 2
	MaxApproaches = 4
)

// Approach is one signaled direction, mapped to one sensor feed. The sensor
// reference is opaque to the controller; the sampler layer interprets it.
type Approach struct {
	Name      string
	SensorRef string
}

type Config struct {
	SocketPath string
	DBPath     string

	BaseGreen          time.Duration
	ExtensionStep      time.Duration
	MaxGreen           time.Duration
	MinGreen           time.Duration
	Yellow             time.Duration
	AllRed             time.Duration
	ExtensionThreshold int
	StarvationLimit    int
	Tick               time.Duration
	StaleAfter         time.Duration

	Approaches []Approach
}

func DefaultConfig() Config {
	return Config{
		SocketPath:         defaultSocketPath(),
		DBPath:             defaultDBPath(),
		BaseGreen:          10 * time.Second,
		ExtensionStep:      5 * time.Second,
		MaxGreen:           60 * time.Second,
		MinGreen:           5 * time.Second,
		Yellow:             3 * time.Second,
		AllRed:             2 * time.Second,
		ExtensionThreshold: 3,
		StarvationLimit:    3,
		Tick:               1 * time.Second,
		StaleAfter:         3 * time.Second,
	}
}

// Load reads a TOML file over the defaults. Durations use Go syntax ("5s").
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	var file fileConfig
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if file.Socket != "" {
		cfg.SocketPath = file.Socket
	}
	if file.DB != "" {
		cfg.DBPath = file.DB
	}
	applyDuration(&cfg.BaseGreen, file.Timing.BaseGreen)
	applyDuration(&cfg.ExtensionStep, file.Timing.ExtensionStep)
	applyDuration(&cfg.MaxGreen, file.Timing.MaxGreen)
	applyDuration(&cfg.MinGreen, file.Timing.MinGreen)
	applyDuration(&cfg.Yellow, file.Timing.Yellow)
	applyDuration(&cfg.AllRed, file.Timing.AllRed)
	applyDuration(&cfg.Tick, file.Timing.Tick)
	applyDuration(&cfg.StaleAfter, file.Timing.StaleAfter)
	if file.Timing.ExtensionThreshold != nil {
		cfg.ExtensionThreshold = *file.Timing.ExtensionThreshold
	}
	if file.Timing.StarvationLimit != nil {
		cfg.StarvationLimit = *file.Timing.StarvationLimit
	}
	for _, a := range file.Approaches {
		cfg.Approaches = append(cfg.Approaches, Approach{Name: a.Name, SensorRef: a.SensorRef})
	}
	return cfg, nil
}

// Validate rejects contradictory tunables before the control loop starts.
func (c Config) Validate() error {
	if n := len(c.Approaches); n < MinApproaches || n > MaxApproaches {
		return fmt.Errorf("%w: %d approaches configured, need %d to %d", model.ErrInvalidConfig, n, MinApproaches, MaxApproaches)
	}
	seen := map[string]struct{}{}
	for i, a := range c.Approaches {
		if a.Name == "" {
			return fmt.Errorf("%w: approach %d has no name", model.ErrInvalidConfig, i)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("%w: duplicate approach name %q", model.ErrInvalidConfig, a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	if c.Tick <= 0 {
		return fmt.Errorf("%w: tick must be positive, got %s", model.ErrInvalidConfig, c.Tick)
	}
	if c.ExtensionStep <= 0 {
		return fmt.Errorf("%w: extension_step must be positive, got %s", model.ErrInvalidConfig, c.ExtensionStep)
	}
	if c.MinGreen <= 0 {
		return fmt.Errorf("%w: min_green must be positive, got %s", model.ErrInvalidConfig, c.MinGreen)
	}
	if c.MinGreen > c.BaseGreen {
		return fmt.Errorf("%w: min_green %s exceeds base_green %s", model.ErrInvalidConfig, c.MinGreen, c.BaseGreen)
	}
	if c.BaseGreen > c.MaxGreen {
		return fmt.Errorf("%w: base_green %s exceeds max_green %s", model.ErrInvalidConfig, c.BaseGreen, c.MaxGreen)
	}
	if c.Yellow <= 0 {
		return fmt.Errorf("%w: yellow must be positive, got %s", model.ErrInvalidConfig, c.Yellow)
	}
	if c.AllRed <= 0 {
		return fmt.Errorf("%w: all_red must be positive, got %s", model.ErrInvalidConfig, c.AllRed)
	}
	if c.ExtensionThreshold < 1 {
		return fmt.Errorf("%w: extension_threshold must be at least 1, got %d", model.ErrInvalidConfig, c.ExtensionThreshold)
	}
	if c.StarvationLimit < 1 {
		return fmt.Errorf("%w: starvation_limit must be at least 1, got %d", model.ErrInvalidConfig, c.StarvationLimit)
	}
	if c.StaleAfter < c.Tick {
		return fmt.Errorf("%w: stale_after %s is below tick %s", model.ErrInvalidConfig, c.StaleAfter, c.Tick)
	}
	return nil
}

type fileConfig struct {
	Socket     string         `toml:"socket"`
	DB         string         `toml:"db"`
	Timing     fileTiming     `toml:"timing"`
	Approaches []fileApproach `toml:"approach"`
}

type fileTiming struct {
	BaseGreen          *duration `toml:"base_green"`
	ExtensionStep      *duration `toml:"extension_step"`
	MaxGreen           *duration `toml:"max_green"`
	MinGreen           *duration `toml:"min_green"`
	Yellow             *duration `toml:"yellow"`
	AllRed             *duration `toml:"all_red"`
	Tick               *duration `toml:"tick"`
	StaleAfter         *duration `toml:"stale_after"`
	ExtensionThreshold *int      `toml:"extension_threshold"`
	StarvationLimit    *int      `toml:"starvation_limit"`
}

type fileApproach struct {
	Name      string `toml:"name"`
	SensorRef string `toml:"sensor_ref"`
}

type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func applyDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "trafficxia", "trafficxiad.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trafficxiad.sock"
	}
	return filepath.Join(home, ".local", "state", "trafficxia", "trafficxiad.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "trafficxia.db"
	}
	return filepath.Join(home, ".local", "state", "trafficxia", "journal.db")
}
