package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/SplitView/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Source kinds
const (
	SourceWebcam  = "webcam"
	SourceFile    = "file"
	SourceScreen  = "screen"
	SourcePattern = "pattern"
)

// Display kinds
const (
	DisplayWindow = "window"
	DisplayX11    = "x11"
	DisplayMJPEG  = "mjpeg"
	DisplayNone   = "none"
)

// Transform kinds, mirrored from the transform package to keep config
// free of pipeline imports.
const (
	TransformPlaceholder = "placeholder"
	TransformIdentity    = "identity"
	TransformExternal    = "external"
)

// EnvPrefix is prepended to every environment override, e.g.
// SPLITVIEW_PIPELINE_BATCH_SIZE.
const EnvPrefix = "SPLITVIEW"

// Config represents the application configuration
type Config struct {
	LogLevel   string          `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool            `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	ServerPort int             `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	Source     SourceConfig    `json:"source" yaml:"source" mapstructure:"source"`
	Pipeline   PipelineConfig  `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Transform  TransformConfig `json:"transform" yaml:"transform" mapstructure:"transform"`
	Display    DisplayConfig   `json:"display" yaml:"display" mapstructure:"display"`
	Overlay    OverlayConfig   `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
}

// SourceConfig selects and sizes the frame source. Zero width, height or
// fps means "whatever the device reports".
type SourceConfig struct {
	Kind   string  `json:"kind" yaml:"kind" mapstructure:"kind"`
	Device int     `json:"device" yaml:"device" mapstructure:"device"`
	Path   string  `json:"path" yaml:"path" mapstructure:"path"`
	Width  int     `json:"width" yaml:"width" mapstructure:"width"`
	Height int     `json:"height" yaml:"height" mapstructure:"height"`
	FPS    float64 `json:"fps" yaml:"fps" mapstructure:"fps"`
	Loop   bool    `json:"loop" yaml:"loop" mapstructure:"loop"`
	Frames int     `json:"frames" yaml:"frames" mapstructure:"frames"` // pattern only, 0 is endless
	Window string  `json:"window" yaml:"window" mapstructure:"window"` // screen only, title or class substring
}

// PipelineConfig tunes batching and queueing
type PipelineConfig struct {
	BatchSize         int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`             // 0 uses source fps
	QueueCapacity     int           `json:"queue_capacity" yaml:"queue_capacity" mapstructure:"queue_capacity"` // 0 uses batch size
	IdleBackoff       time.Duration `json:"idle_backoff" yaml:"idle_backoff" mapstructure:"idle_backoff"`
	HoldLastComposite bool          `json:"hold_last_composite" yaml:"hold_last_composite" mapstructure:"hold_last_composite"`
	ReportEvery       int           `json:"report_every" yaml:"report_every" mapstructure:"report_every"`
}

// TransformConfig selects the batch transform
type TransformConfig struct {
	Kind      string         `json:"kind" yaml:"kind" mapstructure:"kind"`
	Threshold int            `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
	External  ExternalConfig `json:"external" yaml:"external" mapstructure:"external"`
}

// ExternalConfig describes an out-of-process model
type ExternalConfig struct {
	Command   string   `json:"command" yaml:"command" mapstructure:"command"`
	Args      []string `json:"args" yaml:"args" mapstructure:"args"`
	WorkDir   string   `json:"work_dir" yaml:"work_dir" mapstructure:"work_dir"`
	KeepFiles bool     `json:"keep_files" yaml:"keep_files" mapstructure:"keep_files"`
}

// DisplayConfig represents the output surface configuration
type DisplayConfig struct {
	Kind         string          `json:"kind" yaml:"kind" mapstructure:"kind"`
	Title        string          `json:"title" yaml:"title" mapstructure:"title"`
	Width        int             `json:"width" yaml:"width" mapstructure:"width"`
	Height       int             `json:"height" yaml:"height" mapstructure:"height"`
	JPEGQuality  int             `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	Timestamp    TimestampConfig `json:"timestamp" yaml:"timestamp" mapstructure:"timestamp"`
	StatsOverlay bool            `json:"stats_overlay" yaml:"stats_overlay" mapstructure:"stats_overlay"`
}

// TimestampConfig places the wall-clock overlay. X and Y are the top-left
// corner of the text box.
type TimestampConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Format  string `json:"format" yaml:"format" mapstructure:"format"`
	X       int    `json:"x" yaml:"x" mapstructure:"x"`
	Y       int    `json:"y" yaml:"y" mapstructure:"y"`
}

// OverlayConfig represents additional overlay widgets
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets" mapstructure:"widgets"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		LogPretty:  true,
		ServerPort: 8080,
		Source: SourceConfig{
			Kind: SourceWebcam,
		},
		Pipeline: PipelineConfig{
			IdleBackoff: 5 * time.Millisecond,
			ReportEvery: 30,
		},
		Transform: TransformConfig{
			Kind:      TransformPlaceholder,
			Threshold: 127,
			External: ExternalConfig{
				Args: []string{},
			},
		},
		Display: DisplayConfig{
			Kind:        DisplayWindow,
			Title:       "SplitView",
			JPEGQuality: 90,
			Timestamp: TimestampConfig{
				Enabled: true,
				Format:  "2006-01-02 15:04:05",
				X:       10,
				Y:       14,
			},
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Widgets: []map[string]interface{}{},
		},
	}
}

// Validate checks kinds and ranges
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(oneOf(c.Source.Kind, SourceWebcam, SourceFile, SourceScreen, SourcePattern),
		"source.kind %q is not one of webcam, file, screen, pattern", c.Source.Kind)
	check(oneOf(c.Display.Kind, DisplayWindow, DisplayX11, DisplayMJPEG, DisplayNone),
		"display.kind %q is not one of window, x11, mjpeg, none", c.Display.Kind)
	check(oneOf(c.Transform.Kind, TransformPlaceholder, TransformIdentity, TransformExternal),
		"transform.kind %q is not one of placeholder, identity, external", c.Transform.Kind)

	check(c.Source.Kind != SourceFile || c.Source.Path != "", "source.path is required for file sources")
	check(c.Transform.Kind != TransformExternal || c.Transform.External.Command != "",
		"transform.external.command is required for external transforms")

	check(c.ServerPort >= 0 && c.ServerPort <= 65535, "server_port %d out of range", c.ServerPort)
	check(c.Source.Device >= 0, "source.device must not be negative")
	check(c.Source.Width >= 0 && c.Source.Height >= 0, "source size must not be negative")
	check(c.Source.FPS >= 0, "source.fps must not be negative")
	check(c.Source.Frames >= 0, "source.frames must not be negative")
	check(c.Pipeline.BatchSize >= 0, "pipeline.batch_size must not be negative")
	check(c.Pipeline.QueueCapacity >= 0, "pipeline.queue_capacity must not be negative")
	check(c.Pipeline.IdleBackoff >= 0, "pipeline.idle_backoff must not be negative")
	check(c.Pipeline.ReportEvery >= 0, "pipeline.report_every must not be negative")
	check(c.Transform.Threshold >= 0 && c.Transform.Threshold <= 255,
		"transform.threshold %d out of range 0-255", c.Transform.Threshold)
	check(c.Display.Width >= 0 && c.Display.Height >= 0, "display size must not be negative")
	check(c.Display.JPEGQuality >= 0 && c.Display.JPEGQuality <= 100,
		"display.jpeg_quality %d out of range 0-100", c.Display.JPEGQuality)

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/splitview/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "splitview", "config.yaml"), nil
}

// NewManager loads configFile (or the default path) through v, creating the
// file with defaults when it does not exist. v carries any flag bindings;
// nil uses a fresh instance.
func NewManager(configFile string, v *viper.Viper) (*Manager, error) {
	if configFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configFile = p
	}
	if v == nil {
		v = viper.New()
	}

	m := &Manager{
		configPath: configFile,
		v:          v,
	}
	setDefaults(v)
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		logger.WithComponent("config").Info().
			Str("path", configFile).
			Msg("Config file not found, creating new config")
		m.config = Default()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("source", m.config.Source.Kind).
		Str("transform", m.config.Transform.Kind).
		Str("display", m.config.Display.Kind).
		Msg("Config loaded")

	return m, nil
}

// setDefaults registers every key so env overrides and AllKeys see them
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("server_port", d.ServerPort)

	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.device", d.Source.Device)
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.width", d.Source.Width)
	v.SetDefault("source.height", d.Source.Height)
	v.SetDefault("source.fps", d.Source.FPS)
	v.SetDefault("source.loop", d.Source.Loop)
	v.SetDefault("source.frames", d.Source.Frames)
	v.SetDefault("source.window", d.Source.Window)

	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.queue_capacity", d.Pipeline.QueueCapacity)
	v.SetDefault("pipeline.idle_backoff", d.Pipeline.IdleBackoff)
	v.SetDefault("pipeline.hold_last_composite", d.Pipeline.HoldLastComposite)
	v.SetDefault("pipeline.report_every", d.Pipeline.ReportEvery)

	v.SetDefault("transform.kind", d.Transform.Kind)
	v.SetDefault("transform.threshold", d.Transform.Threshold)
	v.SetDefault("transform.external.command", d.Transform.External.Command)
	v.SetDefault("transform.external.args", d.Transform.External.Args)
	v.SetDefault("transform.external.work_dir", d.Transform.External.WorkDir)
	v.SetDefault("transform.external.keep_files", d.Transform.External.KeepFiles)

	v.SetDefault("display.kind", d.Display.Kind)
	v.SetDefault("display.title", d.Display.Title)
	v.SetDefault("display.width", d.Display.Width)
	v.SetDefault("display.height", d.Display.Height)
	v.SetDefault("display.jpeg_quality", d.Display.JPEGQuality)
	v.SetDefault("display.timestamp.enabled", d.Display.Timestamp.Enabled)
	v.SetDefault("display.timestamp.format", d.Display.Timestamp.Format)
	v.SetDefault("display.timestamp.x", d.Display.Timestamp.X)
	v.SetDefault("display.timestamp.y", d.Display.Timestamp.Y)
	v.SetDefault("display.stats_overlay", d.Display.StatsOverlay)

	v.SetDefault("overlay.enabled", d.Overlay.Enabled)
	v.SetDefault("overlay.widgets", d.Overlay.Widgets)
}

// load reads the configuration from disk and applies env and flag overrides
func (m *Manager) load() error {
	if err := m.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return m.decode()
}

func (m *Manager) decode() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	if cfg.Transform.External.Args == nil {
		cfg.Transform.External.Args = []string{}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// GetViper exposes the underlying viper instance
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Keys lists every known dotted key, sorted
func (m *Manager) Keys() []string {
	keys := m.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// GetValue returns the effective value of a dotted key
func (m *Manager) GetValue(key string) (interface{}, error) {
	key = strings.ToLower(key)
	if !m.known(key) {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return m.v.Get(key), nil
}

// SetValue sets a dotted key from its string form, validates and saves
func (m *Manager) SetValue(key, value string) error {
	key = strings.ToLower(key)
	if !m.known(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}

	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.decode(); err != nil {
		m.v.Set(key, prev)
		return err
	}
	return m.Save()
}

func (m *Manager) known(key string) bool {
	for _, k := range m.v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Default()
	}

	log := logger.WithComponent("config")
	log.Debug().Str("path", m.configPath).Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// Update replaces the entire configuration after validating it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.SetValue("server_port", fmt.Sprint(port))
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.SetValue("log_level", level)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
