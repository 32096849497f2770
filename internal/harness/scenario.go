package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a simulated platform
// configuration plus an ordered list of steps driving the requestor.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides the simulated platform defaults.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Steps is the ordered list of actions and expectations.
	Steps []Step `yaml:"steps"`
}

// ScenarioConfig is the subset of the simulation shape scenarios can
// override. Zero values fall back to the harness defaults; the pointer
// fields distinguish "unset" from an explicit false.
type ScenarioConfig struct {
	UpdateAvailable   *bool  `yaml:"update_available,omitempty"`
	SoftwareVersion   uint32 `yaml:"software_version,omitempty"`
	FileDesignator    string `yaml:"file_designator,omitempty"`
	ImageSizeBytes    int    `yaml:"image_size_bytes,omitempty"`
	BlockSizeBytes    int    `yaml:"block_size_bytes,omitempty"`
	SessionLatencyMS  int64  `yaml:"session_latency_ms,omitempty"`
	QueryDelayMS      int64  `yaml:"query_delay_ms,omitempty"`
	ApplyProceed      *bool  `yaml:"apply_proceed,omitempty"`
	ApplyDelayMS      int64  `yaml:"apply_delay_ms,omitempty"`
	ApplyDurationMS   int64  `yaml:"apply_duration_ms,omitempty"`
	QueryIntervalMS   int64  `yaml:"query_interval_ms,omitempty"`

	// FailImageAfterBytes makes the image processor reject the block
	// crossing this byte count, simulating a corrupt transfer.
	FailImageAfterBytes int `yaml:"fail_image_after_bytes,omitempty"`
}

// Step is one scenario action. Exactly one directive must be set.
type Step struct {
	// TriggerQuery starts an immediate query cycle.
	TriggerQuery bool `yaml:"trigger_query,omitempty"`

	// Cancel aborts any in-flight update.
	Cancel bool `yaml:"cancel,omitempty"`

	// AnnounceProvider delivers an unsolicited provider announcement.
	AnnounceProvider *AnnounceStep `yaml:"announce_provider,omitempty"`

	// FailNextSessions makes the next N session establishments fail.
	FailNextSessions int `yaml:"fail_next_sessions,omitempty"`

	// FastForwardMS jumps the loop clock, firing due timers.
	FastForwardMS int64 `yaml:"fast_forward_ms,omitempty"`

	// ExpectState asserts the requestor state once the loop settles.
	ExpectState string `yaml:"expect_state,omitempty"`
}

// AnnounceStep carries the announced provider identity.
type AnnounceStep struct {
	FabricIndex int    `yaml:"fabric_index"`
	NodeID      uint64 `yaml:"node_id"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "step:" vs "steps:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	return nil
}

// validateStep enforces the one-directive-per-step rule.
func validateStep(index int, s *Step) error {
	directives := 0
	if s.TriggerQuery {
		directives++
	}
	if s.Cancel {
		directives++
	}
	if s.AnnounceProvider != nil {
		directives++
	}
	if s.FailNextSessions > 0 {
		directives++
	}
	if s.FastForwardMS > 0 {
		directives++
	}
	if s.ExpectState != "" {
		directives++
	}

	if directives == 0 {
		return fmt.Errorf("steps[%d]: no directive set", index)
	}
	if directives > 1 {
		return fmt.Errorf("steps[%d]: exactly one directive per step", index)
	}
	return nil
}
