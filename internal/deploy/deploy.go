// Package deploy implements the conditional deploy stage: provider
// registry, deploy-condition evaluation, and credential resolution for
// `secure:` encrypted values.
package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gantry/internal/config"
	"gantry/internal/logging"
)

// BuildContext carries the facts conditions are evaluated against and
// the workspace the build produced its artifacts in.
type BuildContext struct {
	Tag     string
	Branch  string
	Runtime string
	Env     map[string]string

	// Workspace is the build's root directory. Providers resolve
	// relative artifact paths against it and run commands inside it.
	Workspace string
}

func init() {
	config.ProviderKnown = func(name string) bool {
		_, ok := Lookup(name)
		return ok
	}
}

// Request is a fully resolved deploy: provider settings plus decrypted
// credentials.
type Request struct {
	Username string
	Password string
	Settings map[string]string
	Context  BuildContext
}

// Provider performs the actual upload/publish for one provider name.
type Provider interface {
	// Name returns the provider name used in pipeline files.
	Name() string

	// Deploy publishes the artifact described by the request.
	Deploy(ctx context.Context, req Request) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Provider{}
)

// Register adds a provider. Later registrations replace earlier ones,
// which lets tests install fakes.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = p
}

// Lookup returns a registered provider.
func Lookup(name string) (Provider, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShouldDeploy evaluates the deploy condition against the build context.
// The second return value explains a negative decision.
func ShouldDeploy(on config.DeployCondition, bctx BuildContext) (bool, string) {
	if on.Tags && bctx.Tag == "" {
		return false, "not a tagged build"
	}
	if on.Runtime != "" && on.Runtime != bctx.Runtime {
		return false, fmt.Sprintf("runtime %q does not match required %q", bctx.Runtime, on.Runtime)
	}
	if on.Branch != "" && on.Branch != bctx.Branch {
		return false, fmt.Sprintf("branch %q does not match required %q", bctx.Branch, on.Branch)
	}
	if on.Condition != "" {
		ok, err := evalCondition(on.Condition, bctx.Env)
		if err != nil {
			return false, err.Error()
		}
		if !ok {
			return false, fmt.Sprintf("condition %q not satisfied", on.Condition)
		}
	}
	return true, ""
}

// evalCondition evaluates "$VAR = value" / "$VAR != value" expressions.
func evalCondition(expr string, env map[string]string) (bool, error) {
	var op string
	switch {
	case strings.Contains(expr, "!="):
		op = "!="
	case strings.Contains(expr, "="):
		op = "="
	default:
		return false, fmt.Errorf("condition %q: expected $VAR = value", expr)
	}

	parts := strings.SplitN(expr, op, 2)
	left := strings.TrimSpace(parts[0])
	right := strings.TrimSpace(parts[1])

	if !strings.HasPrefix(left, "$") {
		return false, fmt.Errorf("condition %q: left side must be an env reference", expr)
	}
	val := env[strings.TrimPrefix(left, "$")]

	if op == "!=" {
		return val != right, nil
	}
	return val == right, nil
}

// Run resolves credentials and executes the configured provider when the
// deploy condition holds. A false condition is a skip, not an error.
func Run(ctx context.Context, d *config.Deploy, bctx BuildContext) error {
	log := logging.Get(logging.CategoryDeploy)

	ok, reason := ShouldDeploy(d.On, bctx)
	if !ok {
		log.Info("deploy skipped: %s", reason)
		return nil
	}

	provider, found := Lookup(d.Provider)
	if !found {
		return fmt.Errorf("deploy: provider %q not registered", d.Provider)
	}

	password, err := ResolveSecret(d.Password)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	req := Request{
		Username: d.Username,
		Password: password,
		Settings: d.Settings,
		Context:  bctx,
	}

	log.Info("deploying via %q (tag=%q runtime=%q)", d.Provider, bctx.Tag, bctx.Runtime)
	if err := provider.Deploy(ctx, req); err != nil {
		return fmt.Errorf("deploy via %q: %w", d.Provider, err)
	}
	log.Info("deploy via %q succeeded", d.Provider)
	return nil
}
