package cli

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/otaloop/internal/sim"
)

//go:embed config_schema.cue
var configSchemaCUE string

// Config is the run command's configuration, loaded from YAML and
// validated against the embedded CUE schema.
type Config struct {
	Database        string `yaml:"database" json:"database"`
	QueryIntervalMS int64  `yaml:"query_interval_ms" json:"query_interval_ms"`

	Provider ProviderConfig `yaml:"provider" json:"provider"`
	Image    ImageConfig    `yaml:"image" json:"image"`
	Update   UpdateConfig   `yaml:"update" json:"update"`
	Session  SessionConfig  `yaml:"session" json:"session"`
}

// ProviderConfig identifies the default OTA provider.
type ProviderConfig struct {
	FabricIndex int    `yaml:"fabric_index" json:"fabric_index"`
	NodeID      uint64 `yaml:"node_id" json:"node_id"`
}

// ImageConfig shapes the simulated block transfer.
type ImageConfig struct {
	SizeBytes       int   `yaml:"size_bytes" json:"size_bytes"`
	BlockSizeBytes  int   `yaml:"block_size_bytes" json:"block_size_bytes"`
	BlockIntervalMS int64 `yaml:"block_interval_ms" json:"block_interval_ms"`
}

// UpdateConfig shapes the simulated provider's responses.
type UpdateConfig struct {
	Available       bool   `yaml:"available" json:"available"`
	SoftwareVersion uint32 `yaml:"software_version" json:"software_version"`
	FileDesignator  string `yaml:"file_designator" json:"file_designator"`
	DownloadNodeID  uint64 `yaml:"download_node_id" json:"download_node_id"`
	QueryDelayMS    int64  `yaml:"query_delay_ms" json:"query_delay_ms"`
	ApplyProceed    bool   `yaml:"apply_proceed" json:"apply_proceed"`
	ApplyDelayMS    int64  `yaml:"apply_delay_ms" json:"apply_delay_ms"`
	ApplyDurationMS int64  `yaml:"apply_duration_ms" json:"apply_duration_ms"`
}

// SessionConfig shapes simulated session establishment.
type SessionConfig struct {
	LatencyMS int64 `yaml:"latency_ms" json:"latency_ms"`
	FailFirst int   `yaml:"fail_first" json:"fail_first"`
}

// DefaultConfig returns the configuration used when a field is omitted
// from the YAML file. The database path has no default; the file (or the
// --db flag) must supply it.
func DefaultConfig() Config {
	simCfg := sim.DefaultConfig()
	return Config{
		QueryIntervalMS: 60_000,
		Provider:        ProviderConfig{FabricIndex: 1, NodeID: 0xA11CE},
		Image: ImageConfig{
			SizeBytes:      simCfg.ImageSizeBytes,
			BlockSizeBytes: simCfg.BlockSizeBytes,
		},
		Update: UpdateConfig{
			Available:       simCfg.UpdateAvailable,
			SoftwareVersion: simCfg.SoftwareVersion,
			FileDesignator:  simCfg.FileDesignator,
			DownloadNodeID:  simCfg.DownloadNodeID,
			ApplyProceed:    simCfg.ApplyProceed,
			ApplyDurationMS: simCfg.ApplyDurationMS,
		},
		Session: SessionConfig{LatencyMS: sim.DefaultSessionLatencyMS},
	}
}

// LoadConfig reads a YAML config file, overlays it on the defaults and
// validates the result against the embedded CUE schema. Unknown YAML
// keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg, err := parseConfig(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// parseConfig reads and decodes the file without schema validation, so
// callers can overlay flag overrides before validating.
func parseConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(configSchemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("lookup schema definition: %w", err)
	}

	unified := def.Unify(ctx.Encode(c))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

// SimConfig maps the file configuration onto the simulated platform.
func (c Config) SimConfig() sim.Config {
	return sim.Config{
		ImageSizeBytes:   c.Image.SizeBytes,
		BlockSizeBytes:   c.Image.BlockSizeBytes,
		BlockIntervalMS:  c.Image.BlockIntervalMS,
		UpdateAvailable:  c.Update.Available,
		SoftwareVersion:  c.Update.SoftwareVersion,
		FileDesignator:   c.Update.FileDesignator,
		DownloadNodeID:   c.Update.DownloadNodeID,
		QueryDelayMS:     c.Update.QueryDelayMS,
		ApplyProceed:     c.Update.ApplyProceed,
		ApplyDelayMS:     c.Update.ApplyDelayMS,
		ApplyDurationMS:  c.Update.ApplyDurationMS,
		SessionLatencyMS: c.Session.LatencyMS,
	}
}
