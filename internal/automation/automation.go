// Package automation runs batches of simulations: scripted scenarios,
// parameter sweeps over one config key, and seed ensembles.
package automation

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/dynamo"
	"github.com/san-kum/octgrav/internal/initcond"
	"github.com/san-kum/octgrav/internal/metrics"
	"github.com/san-kum/octgrav/internal/sim"
)

// Runner executes one configured simulation. name labels the run.
type Runner func(ctx context.Context, name string, cfg *config.Config) (*sim.Result, error)

// Headless runs cfg in memory with the standard metrics and nothing
// persisted.
func Headless(log *logrus.Logger) Runner {
	return func(ctx context.Context, name string, cfg *config.Config) (*sim.Result, error) {
		ds, err := initcond.Generate(cfg.Model, cfg.Bodies, cfg.Seed)
		if err != nil {
			return nil, err
		}
		s, err := sim.New(cfg, log)
		if err != nil {
			return nil, err
		}
		for _, m := range metrics.Standard() {
			s.AddMetric(m)
		}
		return s.Run(ctx, ds)
	}
}

// Scenario is a scripted sequence of runs.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Runs        []ScenarioStep `yaml:"runs"`
}

// ScenarioStep is one run: a model, an optional preset, and dotted config
// overrides applied on top.
type ScenarioStep struct {
	Name   string         `yaml:"name"`
	Model  string         `yaml:"model"`
	Preset string         `yaml:"preset"`
	Set    map[string]any `yaml:"set"`
}

// Config resolves the configuration of the step.
func (s ScenarioStep) Config() (*config.Config, error) {
	base := config.DefaultConfig()
	if s.Preset != "" {
		p := config.GetPreset(s.Model, s.Preset)
		if p == nil {
			return nil, fmt.Errorf("%w: unknown preset %q for model %q", dynamo.ErrInvalidInput, s.Preset, s.Model)
		}
		cp := *p
		base = &cp
	}
	if s.Model != "" {
		base.Model = s.Model
	}
	cfg, err := config.Override(base, s.Set)
	if err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if len(scenario.Runs) == 0 {
		return nil, fmt.Errorf("%w: scenario %q has no runs", dynamo.ErrInvalidInput, scenario.Name)
	}
	return &scenario, nil
}

// Outcome is the result of one batch member.
type Outcome struct {
	Name   string
	Config *config.Config
	Result *sim.Result
}

// RunScenario executes the steps in order and stops at the first failure.
// Every configuration is resolved before anything runs.
func RunScenario(ctx context.Context, scenario *Scenario, run Runner, log logrus.FieldLogger) ([]Outcome, error) {
	cfgs := make([]*config.Config, len(scenario.Runs))
	for i, step := range scenario.Runs {
		cfg, err := step.Config()
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		cfgs[i] = cfg
	}

	results := make([]Outcome, 0, len(scenario.Runs))
	for i, step := range scenario.Runs {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", scenario.Name, i+1)
		}
		log.WithFields(logrus.Fields{
			"scenario": scenario.Name,
			"step":     fmt.Sprintf("%d/%d", i+1, len(scenario.Runs)),
			"model":    cfgs[i].Model,
		}).Info("running scenario step")

		result, err := run(ctx, name, cfgs[i])
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}
		results = append(results, Outcome{Name: name, Config: cfgs[i], Result: result})
	}
	return results, nil
}

// ParameterSweep varies one dotted config key linearly over [Min, Max].
type ParameterSweep struct {
	Key    string
	Min    float64
	Max    float64
	Points int
}

func (s *ParameterSweep) Values() ([]float64, error) {
	if s.Points < 1 {
		return nil, fmt.Errorf("%w: sweep needs at least one point", dynamo.ErrInvalidInput)
	}
	if s.Points == 1 {
		return []float64{s.Min}, nil
	}
	step := (s.Max - s.Min) / float64(s.Points-1)
	out := make([]float64, s.Points)
	for i := range out {
		out[i] = s.Min + float64(i)*step
	}
	return out, nil
}

type SweepResult struct {
	Value  float64
	Result *sim.Result
}

func RunSweep(ctx context.Context, base *config.Config, sweep *ParameterSweep, run Runner, log logrus.FieldLogger) ([]SweepResult, error) {
	values, err := sweep.Values()
	if err != nil {
		return nil, err
	}
	results := make([]SweepResult, 0, len(values))
	for i, val := range values {
		cfg, err := config.Override(base, map[string]any{sweep.Key: val})
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return results, fmt.Errorf("%s=%g: %w", sweep.Key, val, err)
		}
		log.WithField(sweep.Key, val).Infof("sweep %d/%d", i+1, len(values))

		result, err := run(ctx, fmt.Sprintf("%s=%g", sweep.Key, val), cfg)
		if err != nil {
			return results, fmt.Errorf("%s=%g: %w", sweep.Key, val, err)
		}
		results = append(results, SweepResult{Value: val, Result: result})
	}
	return results, nil
}

// EnsembleResult is one realization of the initial conditions.
type EnsembleResult struct {
	Seed   int64
	Result *sim.Result
	// Bound is true when no particle escaped or was removed.
	Bound bool
}

// RunEnsemble repeats base with seeds base.Seed, base.Seed+1, ...
func RunEnsemble(ctx context.Context, base *config.Config, trials int, run Runner, log logrus.FieldLogger) ([]EnsembleResult, error) {
	if trials < 1 {
		return nil, fmt.Errorf("%w: %d trials", dynamo.ErrInvalidInput, trials)
	}
	results := make([]EnsembleResult, 0, trials)
	for trial := 0; trial < trials; trial++ {
		cfg := *base
		cfg.Seed = base.Seed + int64(trial)

		result, err := run(ctx, fmt.Sprintf("seed-%d", cfg.Seed), &cfg)
		if err != nil {
			return results, fmt.Errorf("seed %d: %w", cfg.Seed, err)
		}
		f := result.Final
		results = append(results, EnsembleResult{
			Seed:   cfg.Seed,
			Result: result,
			Bound:  f.Escaped == 0 && f.Removed == 0 && f.Count == result.Initial.Count,
		})

		if (trial+1)%10 == 0 {
			log.Infof("ensemble: %d/%d trials complete", trial+1, trials)
		}
	}
	return results, nil
}

// EnsembleStats summarises one named metric over the ensemble.
type EnsembleStats struct {
	Bound   int
	Unbound int
	Mean    float64
	StdDev  float64
}

func Stats(results []EnsembleResult, metric string) EnsembleStats {
	var st EnsembleStats
	values := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Bound {
			st.Bound++
		} else {
			st.Unbound++
		}
		if v, ok := r.Result.Metrics[metric]; ok {
			values = append(values, v)
		}
	}
	switch len(values) {
	case 0:
		st.Mean, st.StdDev = math.NaN(), math.NaN()
	case 1:
		st.Mean = values[0]
	default:
		st.Mean, st.StdDev = stat.MeanStdDev(values, nil)
	}
	return st
}
