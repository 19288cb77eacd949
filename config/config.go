package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/TFMV/entlink/pkg/joins"
)

// --- Configuration Structs ---

// InputConfig points at one side's record table.
type InputConfig struct {
	Path string `mapstructure:"path" json:"path"`
	// IDColumn overrides the record_id column name; when set the column is
	// renamed on load.
	IDColumn string `mapstructure:"id_column" json:"id_column"`
}

// LinkerConfig selects and tunes the blocking engine.
type LinkerConfig struct {
	// Keys are the blocking key column names, matched with AND.
	Keys []string `mapstructure:"keys" json:"keys"`
	// MaxPairs, when positive, suppresses key values whose pair count would
	// exceed it.
	MaxPairs int64 `mapstructure:"max_pairs" json:"max_pairs"`
	// OnSlow is the quadratic-join policy: error, warn, or ignore.
	OnSlow string `mapstructure:"on_slow" json:"on_slow"`
}

// ClusterConfig tunes entity clustering.
type ClusterConfig struct {
	// Enabled turns on connected-components partitioning of the result.
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// MaxIter bounds label propagation rounds; zero runs to convergence.
	MaxIter int `mapstructure:"max_iter" json:"max_iter"`
}

// OutputConfig says where results land.
type OutputConfig struct {
	// Dir receives the linkage parquet files.
	Dir string `mapstructure:"dir" json:"dir"`
	// ReportPath, when set, receives the JSON run report.
	ReportPath string `mapstructure:"report_path" json:"report_path"`
}

// Config is one linkage run.
type Config struct {
	// Task is dedupe, link, or empty to infer from the inputs.
	Task string `mapstructure:"task" json:"task"`
	// Left is required. Right may be omitted for dedupe runs.
	Left    InputConfig   `mapstructure:"left" json:"left"`
	Right   InputConfig   `mapstructure:"right" json:"right"`
	Linker  LinkerConfig  `mapstructure:"linker" json:"linker"`
	Cluster ClusterConfig `mapstructure:"cluster" json:"cluster"`
	Output  OutputConfig  `mapstructure:"output" json:"output"`
}

// --- Load Configuration ---

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// --- Validation Functions ---

// validate is a helper function to reduce repetition.
func validate(condition bool, format string, a ...any) error {
	if !condition {
		return fmt.Errorf(format, a...)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validate(c.Task == "" || c.Task == "dedupe" || c.Task == "link",
		"task must be dedupe, link, or empty; got %q", c.Task); err != nil {
		return err
	}
	if err := validate(c.Left.Path != "", "left input path is required"); err != nil {
		return err
	}
	if c.Task == "link" {
		if err := validate(c.Right.Path != "", "link task requires a right input path"); err != nil {
			return err
		}
	}
	if err := c.Linker.Validate(); err != nil {
		return fmt.Errorf("linker configuration error: %w", err)
	}
	if c.Cluster.Enabled {
		if err := validate(c.Cluster.MaxIter >= 0, "cluster max_iter may not be negative"); err != nil {
			return err
		}
	}
	return nil
}

func (lc *LinkerConfig) Validate() error {
	if err := validate(len(lc.Keys) > 0, "at least one blocking key is required"); err != nil {
		return err
	}
	for _, key := range lc.Keys {
		if err := validate(key != "", "blocking keys may not be empty"); err != nil {
			return err
		}
	}
	if err := validate(lc.MaxPairs >= 0, "max_pairs may not be negative"); err != nil {
		return err
	}
	if lc.OnSlow != "" {
		if err := joins.OnSlow(lc.OnSlow).Validate(); err != nil {
			return err
		}
	}
	return nil
}
