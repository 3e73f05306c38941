// Package config defines the gantry pipeline schema and its loader.
// A pipeline lives in .gantry.yml at the workspace root and describes a
// runtime matrix, ordered step lists, background services, an optional
// coverage block, and an optional conditional deploy block.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the pipeline file gantry looks for when --config is not given.
const DefaultFile = ".gantry.yml"

// Pipeline is the root of the pipeline schema.
type Pipeline struct {
	// Language is a free-form label for the runtime family (e.g. "go",
	// "python"). Informational only; steps decide what actually runs.
	Language string `yaml:"language,omitempty"`

	// Matrix expands into one job per runtime/env combination.
	Matrix Matrix `yaml:"matrix,omitempty"`

	// Env holds global KEY=VALUE pairs applied to every job.
	Env []string `yaml:"env,omitempty"`

	// Step lists, in execution order. Install, BeforeScript and Script
	// failures fail the job; After* failures are logged only.
	Install      []string `yaml:"install,omitempty"`
	BeforeScript []string `yaml:"before_script,omitempty"`
	Script       []string `yaml:"script"`
	AfterSuccess []string `yaml:"after_success,omitempty"`
	AfterFailure []string `yaml:"after_failure,omitempty"`
	AfterScript  []string `yaml:"after_script,omitempty"`

	// Services are background processes started before the script stage
	// and stopped when the job finishes.
	Services []Service `yaml:"services,omitempty"`

	// Coverage configures cover-profile parsing and upload (runs in
	// after_success position when set).
	Coverage *Coverage `yaml:"coverage,omitempty"`

	// Deploy configures the conditional deploy stage.
	Deploy *Deploy `yaml:"deploy,omitempty"`

	// Defaults tune execution behavior.
	Defaults Defaults `yaml:"defaults,omitempty"`
}

// Matrix describes job expansion. Runtimes and EnvSets form a cross
// product; an empty matrix yields a single implicit job.
type Matrix struct {
	// Runtimes are opaque version strings (e.g. "3.12", "1.24") exported
	// to each job as RUNTIME_VERSION.
	Runtimes []string `yaml:"runtimes,omitempty"`

	// EnvSets are alternative env-var groups; each group is one matrix axis
	// entry ("FOO=1 BAR=2" style strings, space separated).
	EnvSets []string `yaml:"env_sets,omitempty"`

	// AllowFailures lists runtimes whose job failures do not fail the build.
	AllowFailures []string `yaml:"allow_failures,omitempty"`
}

// Service is a background process required by the script stage, such as
// the application server behavior tests run against. Each matrix job
// starts its own copy of every service; with max_parallel > 1, give each
// runtime a distinct log_file and port (via matrix env) so concurrent
// jobs do not share them.
type Service struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
	Dir     string `yaml:"dir,omitempty"`

	// LogFile receives the service's combined output. Defaults to
	// .gantry/<name>.log under the workspace.
	LogFile string `yaml:"log_file,omitempty"`

	// ReadyTCP is a host:port the service must accept connections on
	// before the job proceeds. Empty means no readiness probe.
	ReadyTCP string `yaml:"ready_tcp,omitempty"`

	// ReadyTimeout bounds the readiness probe. Zero means 30s.
	ReadyTimeout time.Duration `yaml:"ready_timeout,omitempty"`
}

// Coverage configures the coverage report stage.
type Coverage struct {
	// Profile is the cover-profile path produced by the script stage.
	Profile string `yaml:"profile"`

	// ServiceURL is the report endpoint. Empty disables upload (the
	// profile is still parsed and summarized).
	ServiceURL string `yaml:"service_url,omitempty"`

	// TokenEnv names the env var holding the upload token.
	TokenEnv string `yaml:"token_env,omitempty"`

	// Flags are free-form labels attached to the report.
	Flags []string `yaml:"flags,omitempty"`
}

// Deploy configures the deploy stage.
type Deploy struct {
	// Provider selects the registered deploy provider (e.g. "index").
	Provider string `yaml:"provider"`

	// On gates the deploy; an unsatisfied condition skips, not fails.
	On DeployCondition `yaml:"on,omitempty"`

	// Username identifies the deploy account.
	Username string `yaml:"username,omitempty"`

	// Password is the credential. Either a plaintext value or a Secret
	// with a `secure:` ciphertext.
	Password Secret `yaml:"password,omitempty"`

	// Settings are provider-specific keys (e.g. index URL, artifact glob).
	Settings map[string]string `yaml:"settings,omitempty"`
}

// DeployCondition gates the deploy stage.
type DeployCondition struct {
	// Tags requires a non-empty tag in the build context.
	Tags bool `yaml:"tags,omitempty"`

	// Runtime restricts deploy to the job with this runtime version,
	// so a matrix build deploys exactly once.
	Runtime string `yaml:"runtime,omitempty"`

	// Branch restricts deploy to builds of this branch.
	Branch string `yaml:"branch,omitempty"`

	// Condition is an env comparison of the form "$VAR = value".
	Condition string `yaml:"condition,omitempty"`
}

// Secret is a credential value that is either plaintext or an encrypted
// `secure:` payload (base64 AES-256-GCM, key from GANTRY_KEY).
type Secret struct {
	Plain  string `yaml:"-"`
	Secure string `yaml:"-"`
}

// UnmarshalYAML accepts either a bare scalar (plaintext) or a
// {secure: <base64>} mapping.
func (s *Secret) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		s.Plain = value.Value
		return nil
	case yaml.MappingNode:
		var wrapped struct {
			Secure string `yaml:"secure"`
		}
		if err := value.Decode(&wrapped); err != nil {
			return err
		}
		if wrapped.Secure == "" {
			return fmt.Errorf("secret mapping must have a non-empty 'secure' key")
		}
		s.Secure = wrapped.Secure
		return nil
	default:
		return fmt.Errorf("secret must be a string or a {secure: ...} mapping")
	}
}

// MarshalYAML round-trips the secret without leaking which form it is in
// beyond what the file already contained.
func (s Secret) MarshalYAML() (interface{}, error) {
	if s.Secure != "" {
		return map[string]string{"secure": s.Secure}, nil
	}
	return s.Plain, nil
}

// IsZero reports whether no credential was provided.
func (s Secret) IsZero() bool {
	return s.Plain == "" && s.Secure == ""
}

// Defaults tune pipeline execution.
type Defaults struct {
	// StepTimeout bounds each step. Zero means 10 minutes.
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`

	// MaxParallel caps concurrently running matrix jobs. Zero means 2.
	MaxParallel int `yaml:"max_parallel,omitempty"`

	// Shell is the interpreter steps run under. Empty means "/bin/sh".
	Shell string `yaml:"shell,omitempty"`

	// MaxOutputBytes caps captured output per step. Zero means 4MB.
	MaxOutputBytes int64 `yaml:"max_output_bytes,omitempty"`
}

// StepTimeoutOrDefault returns the effective step timeout.
func (d Defaults) StepTimeoutOrDefault() time.Duration {
	if d.StepTimeout == 0 {
		return 10 * time.Minute
	}
	return d.StepTimeout
}

// MaxParallelOrDefault returns the effective parallel job cap.
func (d Defaults) MaxParallelOrDefault() int {
	if d.MaxParallel <= 0 {
		return 2
	}
	return d.MaxParallel
}

// ShellOrDefault returns the effective step interpreter.
func (d Defaults) ShellOrDefault() string {
	if d.Shell == "" {
		return "/bin/sh"
	}
	return d.Shell
}

// MaxOutputOrDefault returns the effective output cap.
func (d Defaults) MaxOutputOrDefault() int64 {
	if d.MaxOutputBytes <= 0 {
		return 4 * 1024 * 1024
	}
	return d.MaxOutputBytes
}

// DefaultPipeline returns a minimal valid pipeline.
func DefaultPipeline() *Pipeline {
	return &Pipeline{
		Language: "go",
		Script:   []string{"go test ./..."},
	}
}

// Load reads and validates a pipeline file, applying GANTRY_* env overrides.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}

	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", path, err)
	}

	p.applyEnvOverrides()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the pipeline to disk.
func (p *Pipeline) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pipeline: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write pipeline %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets the environment tweak execution knobs without
// editing the pipeline file.
func (p *Pipeline) applyEnvOverrides() {
	if v := os.Getenv("GANTRY_SHELL"); v != "" {
		p.Defaults.Shell = v
	}
	if v := os.Getenv("GANTRY_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.Defaults.StepTimeout = d
		}
	}
	if v := os.Getenv("GANTRY_MAX_PARALLEL"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			p.Defaults.MaxParallel = n
		}
	}
}

// ProviderKnown reports whether a deploy provider name is registered.
// The deploy package installs the real check against its registry; nil
// accepts any name.
var ProviderKnown func(name string) bool

// Validate checks structural invariants of the pipeline.
func (p *Pipeline) Validate() error {
	if len(p.Script) == 0 {
		return fmt.Errorf("script: at least one step required")
	}

	for _, e := range append(append([]string{}, p.Env...), p.Matrix.EnvSets...) {
		for _, pair := range strings.Fields(e) {
			if !strings.Contains(pair, "=") {
				return fmt.Errorf("env entry %q: expected KEY=VALUE", pair)
			}
		}
	}

	seen := map[string]bool{}
	for i, svc := range p.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name required", i)
		}
		if svc.Command == "" {
			return fmt.Errorf("service %q: command required", svc.Name)
		}
		if seen[svc.Name] {
			return fmt.Errorf("service %q: duplicate name", svc.Name)
		}
		seen[svc.Name] = true
	}

	for _, af := range p.Matrix.AllowFailures {
		if !containsString(p.Matrix.Runtimes, af) {
			return fmt.Errorf("allow_failures runtime %q not in matrix runtimes", af)
		}
	}

	if p.Coverage != nil && p.Coverage.Profile == "" {
		return fmt.Errorf("coverage: profile required")
	}

	if p.Deploy != nil {
		if p.Deploy.Provider == "" {
			return fmt.Errorf("deploy: provider required")
		}
		if ProviderKnown != nil && !ProviderKnown(p.Deploy.Provider) {
			return fmt.Errorf("deploy: unknown provider %q", p.Deploy.Provider)
		}
		if p.Deploy.On.Runtime != "" && len(p.Matrix.Runtimes) > 0 &&
			!containsString(p.Matrix.Runtimes, p.Deploy.On.Runtime) {
			return fmt.Errorf("deploy: on.runtime %q not in matrix runtimes", p.Deploy.On.Runtime)
		}
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
