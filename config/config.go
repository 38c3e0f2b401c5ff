package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/evstation/core/factory"
	"github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/routine"
	"github.com/kilianp07/evstation/infra/logger"
)

// EnvPrefix marks environment overrides. EVS_SIMULATION__SEED=7 sets
// simulation.seed.
const EnvPrefix = "EVS_"

type Config struct {
	Simulation  SimulationConfig          `json:"simulation"`
	Inputs      InputsConfig              `json:"inputs"`
	Outputs     OutputsConfig             `json:"outputs"`
	Reservation routine.ReservationConfig `json:"reservation"`
	Arrival     ArrivalConfig             `json:"arrival"`
	Charging    factory.ModuleConfig      `json:"charging"`
	Forecast    ForecastConfig            `json:"traffic_forecast"`
	Solver      SolverConfig              `json:"solver"`
	Metrics     metrics.Config            `json:"metrics"`
	Logging     logger.Options            `json:"logging"`
	Generator   GeneratorConfig           `json:"generator"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Simulation.SetDefaults()
	c.Outputs.SetDefaults()
	c.Reservation.SetDefaults()
	c.Arrival.SetDefaults()
	if c.Charging.Type == "" {
		c.Charging.Type = "uncontrolled"
	}
	c.Solver.SetDefaults()
	c.Logging.SetDefaults()
	c.Generator.SetDefaults()
}

// Validate checks the sections shared by every command. Inputs and
// generator sections are checked by the command that needs them.
func (c Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if err := c.Reservation.Validate(); err != nil {
		return fmt.Errorf("reservation: %w", err)
	}
	if err := c.Arrival.Validate(); err != nil {
		return fmt.Errorf("arrival: %w", err)
	}
	if err := c.Forecast.Validate(); err != nil {
		return fmt.Errorf("traffic_forecast: %w", err)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return nil
}
