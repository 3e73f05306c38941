// Package pipeline plans and executes builds: matrix expansion into jobs,
// ordered stage execution with Travis-style failure semantics, parallel
// job scheduling, and the post-build coverage and deploy stages.
package pipeline

import (
	"fmt"
	"strings"

	"gantry/internal/config"

	"github.com/google/uuid"
)

// RuntimeEnvVar is exported to every job with its matrix runtime version.
const RuntimeEnvVar = "RUNTIME_VERSION"

// Job is one planned unit of work: a runtime/env-set combination.
type Job struct {
	ID           string
	Name         string
	Runtime      string
	Env          []string
	AllowFailure bool
}

// Plan expands the pipeline matrix into jobs. An empty matrix yields one
// implicit job. Env precedence, lowest to highest: pipeline env, runtime
// var, matrix env set.
func Plan(p *config.Pipeline) []Job {
	runtimes := p.Matrix.Runtimes
	if len(runtimes) == 0 {
		runtimes = []string{""}
	}
	envSets := p.Matrix.EnvSets
	if len(envSets) == 0 {
		envSets = []string{""}
	}

	allowed := map[string]bool{}
	for _, r := range p.Matrix.AllowFailures {
		allowed[r] = true
	}

	var jobs []Job
	for _, runtime := range runtimes {
		for _, envSet := range envSets {
			env := append([]string{}, p.Env...)
			if runtime != "" {
				env = append(env, RuntimeEnvVar+"="+runtime)
			}
			if envSet != "" {
				env = append(env, strings.Fields(envSet)...)
			}

			jobs = append(jobs, Job{
				ID:           uuid.NewString(),
				Name:         jobName(runtime, envSet),
				Runtime:      runtime,
				Env:          env,
				AllowFailure: allowed[runtime],
			})
		}
	}
	return jobs
}

func jobName(runtime, envSet string) string {
	switch {
	case runtime == "" && envSet == "":
		return "default"
	case envSet == "":
		return runtime
	case runtime == "":
		return envSet
	default:
		return fmt.Sprintf("%s/%s", runtime, envSet)
	}
}

// EnvMap converts KEY=VALUE pairs into a map; later pairs win.
func EnvMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}
