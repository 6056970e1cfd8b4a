// Package config loads the controller configuration from defaults, an
// optional YAML file and command-line flags, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"

	"github.com/anggasct/greensplit/pkg/allocation"
	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/demand"
	"github.com/anggasct/greensplit/pkg/intersection"
	"github.com/anggasct/greensplit/pkg/utils"
)

// Demand source kinds
const (
	SourceRandom = "random"
	SourceScript = "script"
	SourceNone   = "none"
)

const (
	DefaultIntersectionCount = 4
	DefaultMetricsAddr       = ":9090"
	ConfigFileFlagName       = "config"
)

// Duration is a time.Duration written as a Go duration string ("1s", "250ms")
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "duration must be a string such as \"1s\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	d.Duration = parsed
	return nil
}

// Intersection names one controlled intersection
type Intersection struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// Demand selects and tunes the demand source
type Demand struct {
	Kind        string `json:"kind"`
	MaxArrivals int    `json:"maxArrivals"`
	Seed        int64  `json:"seed,omitempty"`
	ScriptFile  string `json:"scriptFile,omitempty"`
}

// Config is the complete process configuration
type Config struct {
	MaxGreenTime     float64  `json:"maxGreenTime"`
	VehicleWeight    float64  `json:"vehicleWeight"`
	PedestrianWeight float64  `json:"pedestrianWeight"`
	CycleInterval    Duration `json:"cycleInterval"`
	DegeneratePolicy string   `json:"degeneratePolicy"`

	// IntersectionCount creates nodes 0..n-1 when Intersections is empty
	IntersectionCount int            `json:"intersectionCount,omitempty"`
	Intersections     []Intersection `json:"intersections,omitempty"`

	Demand Demand `json:"demand"`

	MetricsAddr  string `json:"metricsAddr"`
	LogVerbosity int    `json:"logVerbosity"`
	Development  bool   `json:"development"`

	// ConfigFile is only settable from the command line
	ConfigFile string `json:"-"`

	fs *pflag.FlagSet
}

// Default returns the built-in configuration
func Default() *Config {
	weights := intersection.DefaultWeights()
	return &Config{
		MaxGreenTime:      cycle.DefaultBudget,
		VehicleWeight:     weights.Vehicle,
		PedestrianWeight:  weights.Pedestrian,
		CycleInterval:     Duration{cycle.DefaultInterval},
		DegeneratePolicy:  string(allocation.EqualSplit),
		IntersectionCount: DefaultIntersectionCount,
		Demand: Demand{
			Kind:        SourceRandom,
			MaxArrivals: demand.DefaultMaxArrivals,
		},
		MetricsAddr:  DefaultMetricsAddr,
		LogVerbosity: utils.DEFAULT,
	}
}

// Parse decodes a YAML or JSON document on top of the defaults. Unknown
// fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a configuration file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config file %s", path)
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, "decoding config")
	}
	return nil
}

// AddFlags binds the Config fields to command-line flags on the given FlagSet
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	c.fs = fs

	fs.StringVar(&c.ConfigFile, ConfigFileFlagName, c.ConfigFile,
		"Path to a YAML config file. Flags set explicitly take precedence over the file.")
	fs.Float64Var(&c.MaxGreenTime, "max-green-time", c.MaxGreenTime,
		"Green time in seconds shared by all intersections each cycle.")
	fs.Float64Var(&c.VehicleWeight, "vehicle-weight", c.VehicleWeight,
		"Weight of a queued vehicle in an intersection's priority.")
	fs.Float64Var(&c.PedestrianWeight, "pedestrian-weight", c.PedestrianWeight,
		"Weight of a waiting pedestrian in an intersection's priority.")
	fs.DurationVar(&c.CycleInterval.Duration, "cycle-interval", c.CycleInterval.Duration,
		"Time between the start of consecutive cycles.")
	fs.StringVar(&c.DegeneratePolicy, "degenerate-policy", c.DegeneratePolicy,
		"Allocation when every intersection is idle: equal-split or zero.")
	fs.IntVar(&c.IntersectionCount, "intersections", c.IntersectionCount,
		"Number of intersections to create when the config file lists none.")
	fs.StringVar(&c.Demand.Kind, "demand", c.Demand.Kind,
		"Demand source: random, script or none.")
	fs.IntVar(&c.Demand.MaxArrivals, "max-arrivals", c.Demand.MaxArrivals,
		"Upper bound of the random arrival count per kind per cycle.")
	fs.Int64Var(&c.Demand.Seed, "seed", c.Demand.Seed,
		"Seed of the random demand source. 0 seeds from the clock.")
	fs.StringVar(&c.Demand.ScriptFile, "script", c.Demand.ScriptFile,
		"Demand script replayed by the script source.")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr,
		"Address of the Prometheus metrics endpoint. Empty disables it.")
	fs.IntVarP(&c.LogVerbosity, "v", "v", c.LogVerbosity,
		"Number for the log level verbosity.")
	fs.BoolVar(&c.Development, "development", c.Development,
		"Use the human-readable development logger.")
}

// Complete merges the config file named by --config. Flags the user set
// explicitly are applied again afterwards so they win over the file.
func (c *Config) Complete() error {
	if c.ConfigFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return errors.Wrapf(err, "reading config file %s", c.ConfigFile)
	}

	explicit := map[string]string{}
	if c.fs != nil {
		c.fs.Visit(func(f *pflag.Flag) {
			explicit[f.Name] = f.Value.String()
		})
	}

	if err := c.merge(data); err != nil {
		return errors.Wrapf(err, "loading config file %s", c.ConfigFile)
	}

	for name, value := range explicit {
		if err := c.fs.Set(name, value); err != nil {
			return errors.Wrapf(err, "reapplying flag --%s", name)
		}
	}
	return nil
}

// Validate checks every field and reports all problems at once
func (c *Config) Validate() error {
	var err error

	if _, verr := c.ControllerSettings(); verr != nil {
		err = multierr.Append(err, verr)
	}

	switch strings.ToLower(c.Demand.Kind) {
	case SourceRandom:
		if c.Demand.MaxArrivals < 0 || c.Demand.MaxArrivals > demand.MaxArrivalsLimit {
			err = multierr.Append(err, utils.NewConfigurationError("demand.maxArrivals",
				fmt.Sprintf("must be in [0, %d], got %d", demand.MaxArrivalsLimit, c.Demand.MaxArrivals)))
		}
	case SourceScript:
		if c.Demand.ScriptFile == "" {
			err = multierr.Append(err, utils.NewConfigurationError("demand.scriptFile",
				"required by the script demand source"))
		}
	case SourceNone:
	default:
		err = multierr.Append(err, utils.NewConfigurationError("demand.kind",
			fmt.Sprintf("unknown demand source %q", c.Demand.Kind)))
	}

	if c.LogVerbosity < 0 {
		err = multierr.Append(err, utils.NewConfigurationError("logVerbosity",
			fmt.Sprintf("must be >= 0, got %d", c.LogVerbosity)))
	}
	return err
}

// ControllerSettings converts the configuration into validated controller settings
func (c *Config) ControllerSettings() (cycle.Settings, error) {
	policy, err := allocation.ParseDegeneratePolicy(c.DegeneratePolicy)
	if err != nil {
		return cycle.Settings{}, err
	}

	var nodes []cycle.NodeSpec
	if len(c.Intersections) > 0 {
		nodes = make([]cycle.NodeSpec, len(c.Intersections))
		for i, in := range c.Intersections {
			nodes[i] = cycle.NodeSpec{ID: in.ID, Name: in.Name}
		}
	} else {
		if c.IntersectionCount <= 0 {
			return cycle.Settings{}, utils.NewConfigurationError("intersectionCount",
				fmt.Sprintf("must be > 0 when no intersections are listed, got %d", c.IntersectionCount))
		}
		nodes = cycle.SequentialNodes(c.IntersectionCount)
	}

	settings := cycle.Settings{
		Budget: c.MaxGreenTime,
		Weights: intersection.Weights{
			Vehicle:    c.VehicleWeight,
			Pedestrian: c.PedestrianWeight,
		},
		Policy:   policy,
		Interval: c.CycleInterval.Duration,
		Nodes:    nodes,
	}
	if err := settings.Validate(); err != nil {
		return cycle.Settings{}, err
	}
	return settings, nil
}

// NewSource builds the configured demand source
func (c *Config) NewSource() (demand.Source, error) {
	switch strings.ToLower(c.Demand.Kind) {
	case SourceRandom:
		return demand.NewRandomSource(c.Demand.MaxArrivals, c.Demand.Seed), nil
	case SourceScript:
		script, err := demand.LoadScript(c.Demand.ScriptFile)
		if err != nil {
			return nil, err
		}
		return demand.NewScriptedSource(script), nil
	case SourceNone:
		return demand.None, nil
	default:
		return nil, utils.NewConfigurationError("demand.kind",
			fmt.Sprintf("unknown demand source %q", c.Demand.Kind))
	}
}
