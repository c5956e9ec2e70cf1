package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/qaforge/internal/qaf"
	"github.com/ppiankov/qaforge/internal/runner"
)

// DefaultPath is the settings file read when --config is not given.
const DefaultPath = ".qaforge.yml"

// Settings holds persistent CLI defaults loaded from a config file.
type Settings struct {
	MaxRuntime  time.Duration `yaml:"max_runtime"`
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"` // kill qacli after no stdout for this long
	LogDir      string        `yaml:"log_dir,omitempty"`      // stderr.log of each product run
	ReportDir   string        `yaml:"report_dir,omitempty"`   // JSON run reports
	HistoryDB   string        `yaml:"history_db,omitempty"`   // sqlite file; empty disables history

	// ProductLimits caps concurrent invocations per executable name,
	// e.g. {qacli: 2} for two license seats.
	ProductLimits map[string]int `yaml:"product_limits,omitempty"`

	Installations map[string]*qaf.Installation `yaml:"installations"`
	Servers       map[string]*qaf.Server       `yaml:"servers,omitempty"`

	// Job is the QA Framework setup run by `qaforge run`.
	Job qaf.Setup `yaml:"job"`

	// Remote dispatches invocations to an agent instead of running locally.
	Remote *RemoteConfig `yaml:"remote,omitempty"`

	// Agent configures `qaforge agent`.
	Agent *AgentConfig `yaml:"agent,omitempty"`

	// Watch configures `qaforge run --watch`.
	Watch *WatchConfig `yaml:"watch,omitempty"`
}

// RemoteConfig points the controller at an agent.
type RemoteConfig struct {
	URL string `yaml:"url"`
	Dir string `yaml:"dir,omitempty"` // workspace dir relative to the agent root
}

// AgentConfig controls the agent server.
type AgentConfig struct {
	Listen          string   `yaml:"listen,omitempty"` // default ":7420"
	WorkspaceRoot   string   `yaml:"workspace_root"`
	AllowedProducts []string `yaml:"allowed_products,omitempty"`
}

// WatchConfig controls re-running the job on source changes.
type WatchConfig struct {
	Debounce   time.Duration `yaml:"debounce,omitempty"`
	Extensions []string      `yaml:"extensions,omitempty"` // e.g. [".c", ".h"]
	Exclude    []string      `yaml:"exclude,omitempty"`    // directory names to skip
}

// LoadSettings reads a YAML config file into Settings.
// If the file does not exist, it returns zero-value Settings and nil error.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for name, inst := range s.Installations {
		if inst == nil {
			return nil, fmt.Errorf("installation %q is empty", name)
		}
		inst.Name = name
	}
	for name, srv := range s.Servers {
		if srv == nil {
			return nil, fmt.Errorf("server %q is empty", name)
		}
		srv.Name = name
		srv.Password = ResolveSecret(srv.Password)
		if err := qaf.ValidateServer(*srv); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

// Installation returns the named installation.
func (s *Settings) Installation(name string) (qaf.Installation, error) {
	inst, ok := s.Installations[name]
	if !ok || inst == nil {
		return qaf.Installation{}, fmt.Errorf("unknown installation %q (configured: %s)", name, strings.Join(s.InstallationNames(), ", "))
	}
	return *inst, nil
}

// InstallationNames lists configured installations in sorted order.
func (s *Settings) InstallationNames() []string {
	names := make([]string, 0, len(s.Installations))
	for name := range s.Installations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerMap returns the configured QA Verify servers by name.
func (s *Settings) ServerMap() map[string]qaf.Server {
	out := make(map[string]qaf.Server, len(s.Servers))
	for name, srv := range s.Servers {
		out[name] = *srv
	}
	return out
}

// AgentListen returns the agent listen address with its default applied.
func (s *Settings) AgentListen() string {
	if s.Agent != nil && s.Agent.Listen != "" {
		return s.Agent.Listen
	}
	return ":7420"
}

// RunnerOptions returns the local process runner options these settings imply.
func (s *Settings) RunnerOptions() []runner.Option {
	var opts []runner.Option
	if s.LogDir != "" {
		opts = append(opts, runner.WithLogDir(s.LogDir))
	}
	if s.IdleTimeout > 0 {
		opts = append(opts, runner.WithIdleTimeout(s.IdleTimeout))
	}
	return opts
}

// ResolveSecret expands "env:VAR_NAME" to the variable's value.
// Other values are returned unchanged.
func ResolveSecret(v string) string {
	if name, ok := strings.CutPrefix(v, "env:"); ok {
		return os.Getenv(name)
	}
	return v
}

// ReportPath returns where a run's JSON report goes, or "" when disabled.
func (s *Settings) ReportPath(runID string) string {
	if s.ReportDir == "" {
		return ""
	}
	return filepath.Join(s.ReportDir, "qaforge-"+runID+".json")
}
