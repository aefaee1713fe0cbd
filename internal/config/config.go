package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SampleKindSynthetic = "synthetic"
	SampleKindReplay    = "replay"

	EventKindQueue  = "queue"
	EventKindScript = "script"
	EventKindMQTT   = "mqtt"
)

type DefinitionsConfig struct {
	SampleSources []SampleSourceDefinition `mapstructure:"sample_sources" yaml:"sample_sources"`
	EventSources  []EventSourceDefinition  `mapstructure:"event_sources" yaml:"event_sources"`
}

type SampleSourceDefinition struct {
	ID        string        `mapstructure:"id" yaml:"id"`
	Kind      string        `mapstructure:"kind" yaml:"kind"`
	Channels  int           `mapstructure:"channels" yaml:"channels"`
	RateHz    float64       `mapstructure:"rate_hz" yaml:"rate_hz,omitempty"`
	Realtime  bool          `mapstructure:"realtime" yaml:"realtime"`
	Duration  time.Duration `mapstructure:"duration" yaml:"duration,omitempty"`
	Amplitude float64       `mapstructure:"amplitude" yaml:"amplitude,omitempty"`
	Seed      uint64        `mapstructure:"seed" yaml:"seed,omitempty"`
	Path      string        `mapstructure:"path" yaml:"path,omitempty"` // replay only
}

type EventSourceDefinition struct {
	ID       string        `mapstructure:"id" yaml:"id"`
	Kind     string        `mapstructure:"kind" yaml:"kind"`
	Script   string        `mapstructure:"script" yaml:"script,omitempty"`
	Broker   string        `mapstructure:"broker" yaml:"broker,omitempty"`
	Topic    string        `mapstructure:"topic" yaml:"topic,omitempty"`
	ClientID string        `mapstructure:"client_id" yaml:"client_id,omitempty"`
	QoS      int           `mapstructure:"qos" yaml:"qos,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Catalog      *CatalogConfig            `mapstructure:"catalog,omitempty" yaml:"catalog,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

// Config is a fully resolved profile
type Config struct {
	Name         string                 `mapstructure:"-" yaml:"profile"`
	SampleSource SampleSourceDefinition `mapstructure:"sample_source" yaml:"sample_source"`
	EventSource  EventSourceDefinition  `mapstructure:"event_source" yaml:"event_source"`
	Window       WindowConfig           `mapstructure:"window" yaml:"window"`
	Flush        FlushConfig            `mapstructure:"flush" yaml:"flush"`
	Output       OutputConfig           `mapstructure:"output" yaml:"output"`
	Catalog      CatalogConfig          `mapstructure:"catalog" yaml:"catalog"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	SampleSource string       `mapstructure:"sample_source" yaml:"sample_source"`
	EventSource  string       `mapstructure:"event_source" yaml:"event_source"`
	Window       WindowConfig `mapstructure:"window" yaml:"window"`
	Flush        FlushConfig  `mapstructure:"flush" yaml:"flush"`
	Output       OutputConfig `mapstructure:"output" yaml:"output"`
}

type InheritanceInfo struct {
	SampleSource string // "inherited" or "profile-specific"
	EventSource  string
	Window       string
	Flush        struct {
		Retry         string
		MemoryCeiling string
	}
	Output struct {
		Directory string
		OneHot    string
	}
}

type WindowConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

type FlushConfig struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	Cooldown      time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	MemoryCeiling int64         `mapstructure:"memory_ceiling" yaml:"memory_ceiling"` // bytes, 0 = unlimited
}

type OutputConfig struct {
	Directory  string `mapstructure:"directory" yaml:"directory"`
	OneHot     bool   `mapstructure:"one_hot" yaml:"one_hot"`
	ImageCount int    `mapstructure:"image_count" yaml:"image_count"`
}

const (
	DefaultChannels      = 8
	DefaultCapacity      = 16384
	DefaultRateHz        = 256
	DefaultImageCount    = 20
	DefaultMemoryCeiling = 256 << 20
)

var defaultFlush = FlushConfig{
	MaxRetries:    3,
	BackoffBase:   100 * time.Millisecond,
	BackoffMax:    5 * time.Second,
	Cooldown:      10 * time.Second,
	MemoryCeiling: DefaultMemoryCeiling,
}

// DefaultOutputDirectory is used when neither the profile nor globals set one
func DefaultOutputDirectory() string {
	return filepath.Join(os.Getenv("HOME"), "Data", "FuseCapture")
}

// DefaultCatalogPath is used when the catalog section is absent
func DefaultCatalogPath() string {
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "fusecapture", "catalog.db")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Non-default profiles fall back to default for anything they leave unset
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			selectedProfile = mergeProfiles(defaultProfile, selectedProfile)
		}
	}

	selectedConfig, err := resolveProfile(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}
	selectedConfig.Name = configName
	selectedConfig.Inheritance = trackInheritance(rootConfig.Configs["default"], rootConfig.Configs[configName], configName)

	// Global output directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.Directory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.Directory
	}
	if rootConfig.Catalog != nil {
		selectedConfig.Catalog = *rootConfig.Catalog
	}

	applyDefaults(selectedConfig)

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Catalog.Path = expandPath(selectedConfig.Catalog.Path)
	selectedConfig.SampleSource.Path = expandPath(selectedConfig.SampleSource.Path)
	selectedConfig.EventSource.Script = expandPath(selectedConfig.EventSource.Script)

	if err := validateResolved(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// resolveProfile converts a ConfigProfile to Config by resolving source references
func resolveProfile(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Window: profile.Window,
		Flush:  profile.Flush,
		Output: profile.Output,
	}

	if profile.SampleSource == "" {
		return nil, fmt.Errorf("'sample_source' is required")
	}
	sample := definitions.findSample(profile.SampleSource)
	if sample == nil {
		return nil, fmt.Errorf("sample_source: reference '%s' not found in definitions", profile.SampleSource)
	}
	config.SampleSource = *sample

	if profile.EventSource == "" {
		return nil, fmt.Errorf("'event_source' is required")
	}
	event := definitions.findEvent(profile.EventSource)
	if event == nil {
		return nil, fmt.Errorf("event_source: reference '%s' not found in definitions", profile.EventSource)
	}
	config.EventSource = *event

	return config, nil
}

func (d *DefinitionsConfig) findSample(id string) *SampleSourceDefinition {
	if d == nil {
		return nil
	}
	for i := range d.SampleSources {
		if d.SampleSources[i].ID == id {
			return &d.SampleSources[i]
		}
	}
	return nil
}

func (d *DefinitionsConfig) findEvent(id string) *EventSourceDefinition {
	if d == nil {
		return nil
	}
	for i := range d.EventSources {
		if d.EventSources[i].ID == id {
			return &d.EventSources[i]
		}
	}
	return nil
}

// mergeProfiles implements the "Selection & Fallback" inheritance model:
// profile values win, zero values fall back to the default profile.
// OneHot is a plain bool, so the profile value always takes precedence.
func mergeProfiles(base, profile *ConfigProfile) *ConfigProfile {
	if base == nil {
		return profile
	}
	if profile == nil {
		return base
	}

	result := *profile
	if result.SampleSource == "" {
		result.SampleSource = base.SampleSource
	}
	if result.EventSource == "" {
		result.EventSource = base.EventSource
	}
	if result.Window.Capacity == 0 {
		result.Window.Capacity = base.Window.Capacity
	}
	if result.Flush.MaxRetries == 0 {
		result.Flush.MaxRetries = base.Flush.MaxRetries
	}
	if result.Flush.BackoffBase == 0 {
		result.Flush.BackoffBase = base.Flush.BackoffBase
	}
	if result.Flush.BackoffMax == 0 {
		result.Flush.BackoffMax = base.Flush.BackoffMax
	}
	if result.Flush.Cooldown == 0 {
		result.Flush.Cooldown = base.Flush.Cooldown
	}
	if result.Flush.MemoryCeiling == 0 {
		result.Flush.MemoryCeiling = base.Flush.MemoryCeiling
	}
	if result.Output.Directory == "" {
		result.Output.Directory = base.Output.Directory
	}
	if result.Output.ImageCount == 0 {
		result.Output.ImageCount = base.Output.ImageCount
	}
	return &result
}

func trackInheritance(base, profile *ConfigProfile, name string) *InheritanceInfo {
	info := &InheritanceInfo{}
	mark := func(profileSet bool) string {
		if name == "default" || profileSet {
			return "profile-specific"
		}
		if base == nil {
			return "default"
		}
		return "inherited"
	}
	if profile == nil {
		return info
	}
	info.SampleSource = mark(profile.SampleSource != "")
	info.EventSource = mark(profile.EventSource != "")
	info.Window = mark(profile.Window.Capacity != 0)
	info.Flush.Retry = mark(profile.Flush.MaxRetries != 0 || profile.Flush.BackoffBase != 0 ||
		profile.Flush.BackoffMax != 0 || profile.Flush.Cooldown != 0)
	info.Flush.MemoryCeiling = mark(profile.Flush.MemoryCeiling != 0)
	info.Output.Directory = mark(profile.Output.Directory != "")
	info.Output.OneHot = "profile-specific"
	return info
}

func applyDefaults(c *Config) {
	if c.SampleSource.Channels == 0 && c.SampleSource.Kind == SampleKindSynthetic {
		c.SampleSource.Channels = DefaultChannels
	}
	if c.SampleSource.RateHz == 0 && c.SampleSource.Kind == SampleKindSynthetic {
		c.SampleSource.RateHz = DefaultRateHz
	}
	if c.EventSource.Timeout == 0 {
		c.EventSource.Timeout = 5 * time.Second
	}
	if c.Window.Capacity == 0 {
		c.Window.Capacity = DefaultCapacity
	}
	if c.Flush.MaxRetries == 0 {
		c.Flush.MaxRetries = defaultFlush.MaxRetries
	}
	if c.Flush.BackoffBase == 0 {
		c.Flush.BackoffBase = defaultFlush.BackoffBase
	}
	if c.Flush.BackoffMax == 0 {
		c.Flush.BackoffMax = defaultFlush.BackoffMax
	}
	if c.Flush.Cooldown == 0 {
		c.Flush.Cooldown = defaultFlush.Cooldown
	}
	if c.Flush.MemoryCeiling == 0 {
		c.Flush.MemoryCeiling = defaultFlush.MemoryCeiling
	}
	if c.Output.Directory == "" {
		c.Output.Directory = DefaultOutputDirectory()
	}
	if c.Output.ImageCount == 0 {
		c.Output.ImageCount = DefaultImageCount
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = DefaultCatalogPath()
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FUSECAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section cannot be empty")
	}

	for configName, configProfile := range rootConfig.Configs {
		if err := validateProfile(configProfile, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the definitions section
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return fmt.Errorf("definitions section is required")
	}

	if len(definitions.SampleSources) == 0 {
		return fmt.Errorf("definitions.sample_sources cannot be empty")
	}
	if len(definitions.EventSources) == 0 {
		return fmt.Errorf("definitions.event_sources cannot be empty")
	}

	seenIDs := make(map[string]bool)
	for i, def := range definitions.SampleSources {
		prefix := fmt.Sprintf("definitions.sample_sources[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if err := validateSampleSource(def, prefix); err != nil {
			return err
		}
	}

	seenIDs = make(map[string]bool)
	for i, def := range definitions.EventSources {
		prefix := fmt.Sprintf("definitions.event_sources[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if err := validateEventSource(def, prefix); err != nil {
			return err
		}
	}

	return nil
}

func validateSampleSource(def SampleSourceDefinition, prefix string) error {
	switch def.Kind {
	case SampleKindSynthetic:
		if def.RateHz < 0 {
			return fmt.Errorf("%s: 'rate_hz' must be > 0, got: %g", prefix, def.RateHz)
		}
		if def.Duration < 0 {
			return fmt.Errorf("%s: 'duration' must be >= 0, got: %s", prefix, def.Duration)
		}
	case SampleKindReplay:
		if def.Path == "" {
			return fmt.Errorf("%s: 'path' is required for kind 'replay'", prefix)
		}
	case "":
		return fmt.Errorf("%s: 'kind' is required", prefix)
	default:
		return fmt.Errorf("%s: 'kind' must be '%s' or '%s', got: %s", prefix, SampleKindSynthetic, SampleKindReplay, def.Kind)
	}

	if def.Channels < 0 {
		return fmt.Errorf("%s: 'channels' must be > 0, got: %d", prefix, def.Channels)
	}
	return nil
}

func validateEventSource(def EventSourceDefinition, prefix string) error {
	switch def.Kind {
	case EventKindQueue:
	case EventKindScript:
		if def.Script == "" {
			return fmt.Errorf("%s: 'script' is required for kind 'script'", prefix)
		}
	case EventKindMQTT:
		if def.Broker == "" {
			return fmt.Errorf("%s: 'broker' is required for kind 'mqtt'", prefix)
		}
		if def.Topic == "" {
			return fmt.Errorf("%s: 'topic' is required for kind 'mqtt'", prefix)
		}
		if def.QoS < 0 || def.QoS > 2 {
			return fmt.Errorf("%s: 'qos' must be 0, 1 or 2, got: %d", prefix, def.QoS)
		}
	case "":
		return fmt.Errorf("%s: 'kind' is required", prefix)
	default:
		return fmt.Errorf("%s: 'kind' must be one of %s, got: %s", prefix,
			strings.Join([]string{EventKindQueue, EventKindScript, EventKindMQTT}, ", "), def.Kind)
	}
	return nil
}

// validateProfile checks references and numeric bounds of a single profile
func validateProfile(profile *ConfigProfile, definitions *DefinitionsConfig) error {
	if profile == nil {
		return fmt.Errorf("profile is empty")
	}
	if profile.SampleSource != "" && definitions.findSample(profile.SampleSource) == nil {
		return fmt.Errorf("sample_source: references undefined sample source '%s'", profile.SampleSource)
	}
	if profile.EventSource != "" && definitions.findEvent(profile.EventSource) == nil {
		return fmt.Errorf("event_source: references undefined event source '%s'", profile.EventSource)
	}
	if profile.Window.Capacity < 0 {
		return fmt.Errorf("window.capacity must be > 0, got %d", profile.Window.Capacity)
	}
	if profile.Flush.MaxRetries < 0 {
		return fmt.Errorf("flush.max_retries must be >= 0, got %d", profile.Flush.MaxRetries)
	}
	if profile.Flush.BackoffBase < 0 || profile.Flush.BackoffMax < 0 || profile.Flush.Cooldown < 0 {
		return fmt.Errorf("flush durations must be >= 0")
	}
	if profile.Flush.BackoffMax != 0 && profile.Flush.BackoffMax < profile.Flush.BackoffBase {
		return fmt.Errorf("flush.backoff_max (%s) must be >= flush.backoff_base (%s)",
			profile.Flush.BackoffMax, profile.Flush.BackoffBase)
	}
	if profile.Flush.MemoryCeiling < 0 {
		return fmt.Errorf("flush.memory_ceiling must be >= 0, got %d", profile.Flush.MemoryCeiling)
	}
	if profile.Output.ImageCount < 0 {
		return fmt.Errorf("output.image_count must be >= 0, got %d", profile.Output.ImageCount)
	}
	return nil
}

// validateResolved checks what only becomes known after defaults are applied
func validateResolved(c *Config) error {
	if c.SampleSource.Kind == SampleKindSynthetic && c.SampleSource.Channels <= 0 {
		return fmt.Errorf("sample source '%s' must have channels > 0", c.SampleSource.ID)
	}
	if c.Flush.MemoryCeiling > 0 && c.Flush.MemoryCeiling < windowBytes(c.Window.Capacity, c.SampleSource.Channels) {
		return fmt.Errorf("flush.memory_ceiling (%d bytes) cannot hold a single window of %d rows",
			c.Flush.MemoryCeiling, c.Window.Capacity)
	}
	return nil
}

// windowBytes mirrors the window package's per-row footprint
func windowBytes(capacity, channels int) int64 {
	if channels <= 0 {
		channels = DefaultChannels
	}
	return int64(capacity) * int64(8+4*channels+4+4)
}
