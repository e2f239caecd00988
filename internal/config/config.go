package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/exchange"
)

const (
	DefaultEps             = 0.05
	DefaultTheta           = 0.75
	DefaultDt              = 1.0 / 16.0
	DefaultEndTime         = 1000.0
	DefaultSnapshotPrefix  = "snapshot_"
	DefaultRebuildInterval = 5
	DefaultBodies          = 4096
	DefaultLeafSize        = 16
	DefaultMaxDepth        = 21
)

type Config struct {
	Model   string  `yaml:"model" mapstructure:"model"`
	Bodies  int     `yaml:"bodies" mapstructure:"bodies"`
	Seed    int64   `yaml:"seed" mapstructure:"seed"`
	Ranks   int     `yaml:"ranks" mapstructure:"ranks"`
	Dt      float64 `yaml:"dt" mapstructure:"dt"`
	EndTime float64 `yaml:"end_time" mapstructure:"end_time"`

	Device   DeviceConfig   `yaml:"device" mapstructure:"device"`
	Gravity  GravityConfig  `yaml:"gravity" mapstructure:"gravity"`
	Timestep TimestepConfig `yaml:"timestep" mapstructure:"timestep"`
	Tree     TreeConfig     `yaml:"tree" mapstructure:"tree"`
	Domain   DomainConfig   `yaml:"domain" mapstructure:"domain"`
	Exchange ExchangeConfig `yaml:"exchange" mapstructure:"exchange"`
	Cull     CullConfig     `yaml:"cull" mapstructure:"cull"`
	Snapshot SnapshotConfig `yaml:"snapshot" mapstructure:"snapshot"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing" mapstructure:"tracing"`
}

type DeviceConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	ID      int    `yaml:"id" mapstructure:"id"`
	Workers int    `yaml:"workers" mapstructure:"workers"`
	// MemoryLimit caps the bytes each rank may hold on its device; 0 is
	// unlimited.
	MemoryLimit int64 `yaml:"memory_limit" mapstructure:"memory_limit"`
}

type GravityConfig struct {
	Theta               float64 `yaml:"theta" mapstructure:"theta"`
	Eps                 float64 `yaml:"eps" mapstructure:"eps"`
	IndividualSoftening bool    `yaml:"individual_softening" mapstructure:"individual_softening"`
	Quadrupole          bool    `yaml:"quadrupole" mapstructure:"quadrupole"`
}

type TimestepConfig struct {
	Individual bool    `yaml:"individual" mapstructure:"individual"`
	Eta        float64 `yaml:"eta" mapstructure:"eta"`
	MaxLevel   int     `yaml:"max_level" mapstructure:"max_level"`
}

type TreeConfig struct {
	LeafSize        int `yaml:"leaf_size" mapstructure:"leaf_size"`
	MaxDepth        int `yaml:"max_depth" mapstructure:"max_depth"`
	RebuildInterval int `yaml:"rebuild_interval" mapstructure:"rebuild_interval"`
}

type DomainConfig struct {
	DecomposeInterval  int     `yaml:"decompose_interval" mapstructure:"decompose_interval"`
	ImbalanceThreshold float64 `yaml:"imbalance_threshold" mapstructure:"imbalance_threshold"`
	SampleSize         int     `yaml:"sample_size" mapstructure:"sample_size"`
}

type ExchangeConfig struct {
	Buffer      int `yaml:"buffer" mapstructure:"buffer"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	MaxStalled  int `yaml:"max_stalled" mapstructure:"max_stalled"`
}

func (e ExchangeConfig) Policy() exchange.RetryPolicy {
	return exchange.RetryPolicy{MaxAttempts: e.MaxAttempts, MaxStalled: e.MaxStalled}
}

// CullConfig distances are measured from the global centre of mass;
// negative disables.
type CullConfig struct {
	KillDistance    float64 `yaml:"kill_distance" mapstructure:"kill_distance"`
	RemovalDistance float64 `yaml:"removal_distance" mapstructure:"removal_distance"`
}

type SnapshotConfig struct {
	// Interval in global steps; negative disables.
	Interval int    `yaml:"interval" mapstructure:"interval"`
	Template string `yaml:"template" mapstructure:"template"`
	Offset   int    `yaml:"offset" mapstructure:"offset"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

func DefaultConfig() *Config {
	retry := exchange.DefaultRetryPolicy()
	return &Config{
		Model:   "plummer",
		Bodies:  DefaultBodies,
		Seed:    1,
		Ranks:   1,
		Dt:      DefaultDt,
		EndTime: DefaultEndTime,
		Device:  DeviceConfig{Name: "cpu"},
		Gravity: GravityConfig{
			Theta:      DefaultTheta,
			Eps:        DefaultEps,
			Quadrupole: true,
		},
		Timestep: TimestepConfig{Eta: 0.1, MaxLevel: 6},
		Tree: TreeConfig{
			LeafSize:        DefaultLeafSize,
			MaxDepth:        DefaultMaxDepth,
			RebuildInterval: DefaultRebuildInterval,
		},
		Domain: DomainConfig{
			DecomposeInterval:  20,
			ImbalanceThreshold: 1.3,
			SampleSize:         4096,
		},
		Exchange: ExchangeConfig{
			Buffer:      1024,
			MaxAttempts: retry.MaxAttempts,
			MaxStalled:  retry.MaxStalled,
		},
		Cull:     CullConfig{KillDistance: -1, RemovalDistance: -1},
		Snapshot: SnapshotConfig{Interval: -1, Template: DefaultSnapshotPrefix},
		Log:      LogConfig{Level: "info"},
		Tracing:  TracingConfig{SampleRate: 1},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnvPrefix is the prefix of environment overrides, e.g. OCTGRAV_GRAVITY_THETA.
const EnvPrefix = "OCTGRAV"

// FromViper layers an optional config file, OCTGRAV_* environment variables
// and any flags already bound to v over base.
func FromViper(v *viper.Viper, base *Config, file string) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}
	defaults, err := flatten(base)
	if err != nil {
		return nil, err
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// flatten turns cfg into dotted keys, the form viper defaults take.
func flatten(cfg *Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			out[key] = v
		}
	}
	walk("", tree)
	return out, nil
}

// Validate checks every bound the engine relies on.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.Bodies >= 1, fmt.Sprintf("bodies %d must be >= 1", c.Bodies)},
		{c.Ranks >= 1, fmt.Sprintf("ranks %d must be >= 1", c.Ranks)},
		{c.Dt > 0, fmt.Sprintf("dt %g must be > 0", c.Dt)},
		{c.EndTime > 0, fmt.Sprintf("end time %g must be > 0", c.EndTime)},
		{c.Gravity.Theta > 0, fmt.Sprintf("theta %g must be > 0", c.Gravity.Theta)},
		{c.Gravity.Eps >= 0, fmt.Sprintf("eps %g must be >= 0", c.Gravity.Eps)},
		{!c.Timestep.Individual || c.Timestep.Eta > 0, fmt.Sprintf("eta %g must be > 0", c.Timestep.Eta)},
		{c.Timestep.MaxLevel >= 0 && c.Timestep.MaxLevel <= 30, fmt.Sprintf("max level %d outside [0,30]", c.Timestep.MaxLevel)},
		{c.Tree.LeafSize >= 1, fmt.Sprintf("leaf size %d must be >= 1", c.Tree.LeafSize)},
		{c.Tree.MaxDepth >= 1 && c.Tree.MaxDepth <= DefaultMaxDepth, fmt.Sprintf("max depth %d outside [1,%d]", c.Tree.MaxDepth, DefaultMaxDepth)},
		{c.Tree.RebuildInterval >= 1, fmt.Sprintf("rebuild interval %d must be >= 1", c.Tree.RebuildInterval)},
		{c.Domain.DecomposeInterval >= 1, fmt.Sprintf("decompose interval %d must be >= 1", c.Domain.DecomposeInterval)},
		{c.Domain.ImbalanceThreshold >= 1, fmt.Sprintf("imbalance threshold %g must be >= 1", c.Domain.ImbalanceThreshold)},
		{c.Domain.SampleSize >= c.Ranks, fmt.Sprintf("sample size %d must be >= ranks", c.Domain.SampleSize)},
		{c.Exchange.Buffer >= 1, fmt.Sprintf("exchange buffer %d must be >= 1", c.Exchange.Buffer)},
		{c.Exchange.MaxAttempts >= 1, fmt.Sprintf("max attempts %d must be >= 1", c.Exchange.MaxAttempts)},
		{c.Exchange.MaxStalled >= 1, fmt.Sprintf("max stalled %d must be >= 1", c.Exchange.MaxStalled)},
		{c.Tracing.SampleRate > 0 && c.Tracing.SampleRate <= 1, fmt.Sprintf("trace sample rate %g outside (0,1]", c.Tracing.SampleRate)},
		{c.Device.MemoryLimit >= 0, fmt.Sprintf("memory limit %d must be >= 0", c.Device.MemoryLimit)},
		{c.Snapshot.Interval < 0 || c.Snapshot.Template != "", "snapshot template must be set when snapshots are enabled"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("%w: %s", dynamo.ErrParameterBounds, ch.msg)
		}
	}
	return nil
}

// Override returns a copy of base with the dotted keys in values replaced,
// e.g. {"gravity.theta": 0.5}. Unknown keys are an error.
func Override(base *Config, values map[string]any) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}
	known, err := flatten(base)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for k, val := range values {
		if _, ok := known[k]; !ok {
			return nil, fmt.Errorf("%w: unknown config key %q", dynamo.ErrInvalidInput, k)
		}
		v.Set(k, val)
	}
	return FromViper(v, base, "")
}
