// Package config loads and validates the coordination core's configuration
// surface (spec.md §6, SPEC_FULL.md §6/§6.1): slot/port model, workspace
// layout, tracker approvers, and the agent runtime invoked per session.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/viper"
)

// SupportedSchema is the range of config schema_version values this build
// understands. A config written for an incompatible conveyor version fails
// fast at Load instead of misbehaving silently.
var SupportedSchema = mustConstraint(">=1.0.0, <2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Duration wraps time.Duration for YAML/viper unmarshaling from strings
// like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// BasePorts is the (frontend, backend) pair allocated to slot 0; every
// other slot k adds k*PortOffsetPerSession to both.
type BasePorts struct {
	Frontend int `mapstructure:"frontend"`
	Backend  int `mapstructure:"backend"`
}

// Gate defines a pre-merge quality gate (linter, formatter, type checker)
// run against a completed ticket's worktree before it is admitted to the
// merge queue. Adapted from the teacher's pre-commit gate concept
// (internal/cli/gate.go), retargeted from staged-file linting to
// completed-branch verification.
type Gate struct {
	Name string `mapstructure:"name"`
	Run  string `mapstructure:"run"`
}

// AgentConfig describes the local command used by internal/agentrun's
// PTYRuntime to drive a session inside its worktree. The production agent
// runtime is an external collaborator (spec.md §1); this is the demo/dev
// adapter's configuration only.
type AgentConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// Config is the coordination core's full, immutable configuration value.
// It is constructed once and passed explicitly through every constructor;
// no package holds a global configuration variable.
type Config struct {
	SchemaVersion        string      `mapstructure:"schema_version"`
	ParallelMode         bool        `mapstructure:"parallel_mode"`
	MaxSlots             int         `mapstructure:"max_slots"`
	PortOffsetPerSession int         `mapstructure:"port_offset_per_session"`
	BasePorts            BasePorts   `mapstructure:"base_ports"`
	WorkspaceRoot        string      `mapstructure:"workspace_root"`
	AuthorizedApprovers  []string    `mapstructure:"authorized_approvers"`
	RepoRef              string      `mapstructure:"repo_ref"`
	PollInterval         Duration    `mapstructure:"poll_interval"`
	CronSchedule         string      `mapstructure:"cron_schedule,omitempty"`
	Agent                AgentConfig `mapstructure:"agent"`
	StaleWorktreeHours   int         `mapstructure:"stale_worktree_hours"`
	MaxMergesPerTick     int         `mapstructure:"max_merges_per_tick"`
	Gates                []Gate      `mapstructure:"gates,omitempty"`
	TicketsSeedFile      string      `mapstructure:"tickets_seed_file,omitempty"`
}

// EffectiveMaxSlots returns MaxSlots, collapsed to 1 when ParallelMode is
// false (spec.md §4.3).
func (c *Config) EffectiveMaxSlots() int {
	if !c.ParallelMode {
		return 1
	}
	return c.MaxSlots
}

// PortOffset defaults to 10 when unset.
func (c *Config) PortOffset() int {
	if c.PortOffsetPerSession <= 0 {
		return 10
	}
	return c.PortOffsetPerSession
}

// PortsForSlot returns the (frontend, backend) port pair for slot k.
func (c *Config) PortsForSlot(k int) (frontend, backend int) {
	offset := c.PortOffset() * k
	return c.BasePorts.Frontend + offset, c.BasePorts.Backend + offset
}

func defaults(v *viper.Viper) {
	v.SetDefault("schema_version", "1.0.0")
	v.SetDefault("parallel_mode", false)
	v.SetDefault("max_slots", 1)
	v.SetDefault("port_offset_per_session", 10)
	v.SetDefault("base_ports.frontend", 6174)
	v.SetDefault("base_ports.backend", 4001)
	v.SetDefault("poll_interval", "30s")
	v.SetDefault("stale_worktree_hours", 24)
	v.SetDefault("max_merges_per_tick", 1)
}

// Load reads a YAML config file, overlays CONVEYOR_-prefixed environment
// variables, and applies the defaults above to any field left unset. A
// missing or unparseable config file is not tolerated here (unlike the
// on-disk state files C2/C4 own, which self-heal) — a malformed startup
// config is the one place this system should fail loud.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("conveyor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// viper's built-in decode hooks only convert strings to time.Duration
	// itself, so Duration fields and comma-separated lists are handled here.
	hook := viper.DecodeHook(func(from, to reflect.Type, data interface{}) (interface{}, error) {
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		if to == reflect.TypeOf(Duration(0)) {
			d, err := time.ParseDuration(s)
			return Duration(d), err
		}
		if to.Kind() == reflect.Slice && to.Elem().Kind() == reflect.String {
			return strings.FieldsFunc(s, func(r rune) bool { return r == ',' }), nil
		}
		return data, nil
	})

	var cfg Config
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields, the slot/port model, and the schema
// version compatibility range, returning every problem found (not just the
// first) so an operator can fix a config in one pass.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.SchemaVersion == "" {
		errs = append(errs, fmt.Errorf("schema_version is required"))
	} else if v, err := semver.NewVersion(cfg.SchemaVersion); err != nil {
		errs = append(errs, fmt.Errorf("schema_version %q is not valid semver: %w", cfg.SchemaVersion, err))
	} else if !SupportedSchema.Check(v) {
		errs = append(errs, fmt.Errorf("schema_version %q is not supported by this build (expects %s)", cfg.SchemaVersion, SupportedSchema.String()))
	}

	if cfg.WorkspaceRoot == "" {
		errs = append(errs, fmt.Errorf("workspace_root is required"))
	}
	if cfg.RepoRef == "" {
		errs = append(errs, fmt.Errorf("repo_ref is required"))
	} else if !strings.Contains(cfg.RepoRef, "/") {
		errs = append(errs, fmt.Errorf("repo_ref %q must be of the form owner/name", cfg.RepoRef))
	}
	if cfg.MaxSlots < 1 {
		errs = append(errs, fmt.Errorf("max_slots must be >= 1"))
	}
	if len(cfg.AuthorizedApprovers) == 0 {
		errs = append(errs, fmt.Errorf("authorized_approvers must not be empty"))
	}
	if cfg.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command is required"))
	}
	if cfg.BasePorts.Frontend <= 0 || cfg.BasePorts.Backend <= 0 {
		errs = append(errs, fmt.Errorf("base_ports.frontend and base_ports.backend must be positive"))
	}
	if cfg.BasePorts.Frontend == cfg.BasePorts.Backend {
		errs = append(errs, fmt.Errorf("base_ports.frontend and base_ports.backend must differ"))
	}

	errs = append(errs, ValidateGates(cfg.Gates)...)

	return errs
}

// ValidateGates checks that all gates have non-empty names and run
// commands, and that gate names are unique.
func ValidateGates(gates []Gate) []error {
	var errs []error
	names := make(map[string]bool)
	for i, g := range gates {
		if g.Name == "" {
			errs = append(errs, fmt.Errorf("gates[%d]: name is required", i))
		} else if names[g.Name] {
			errs = append(errs, fmt.Errorf("gates[%d]: duplicate name %q", i, g.Name))
		} else {
			names[g.Name] = true
		}
		if g.Run == "" {
			errs = append(errs, fmt.Errorf("gates[%d]: run is required", i))
		}
	}
	return errs
}
