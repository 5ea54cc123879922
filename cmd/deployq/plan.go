package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/VsevolodSauta/jobqueue"
	"gopkg.in/yaml.v3"
)

// Plan is a list of jobs loaded from YAML.
//
//	jobs:
//	  - id: 1
//	    queue: db
//	    run: ./migrate.sh
//	  - id: 2
//	    queue: web
//	    command: [make, deploy]
//	    dir: ./web
//	    env: [STAGE=prod]
type Plan struct {
	Jobs []PlanJob `yaml:"jobs"`
}

// PlanJob is one command of a plan. Exactly one of Run (a shell line) and
// Command (an argv) must be set. An empty Queue means the default queue.
type PlanJob struct {
	ID      int64    `yaml:"id"`
	Queue   string   `yaml:"queue"`
	Run     string   `yaml:"run"`
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
}

// ParsePlan decodes and validates a plan.
func ParsePlan(data []byte) (*Plan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plan: payload is empty")
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("plan: decode: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// LoadPlanFile reads and validates the plan at path.
func LoadPlanFile(path string) (*Plan, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", path, err)
	}
	plan, err := ParsePlan(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// Validate checks job IDs and commands.
func (p *Plan) Validate() error {
	if len(p.Jobs) == 0 {
		return fmt.Errorf("plan: no jobs")
	}
	seen := make(map[int64]struct{}, len(p.Jobs))
	for i, job := range p.Jobs {
		if job.ID <= 0 {
			return fmt.Errorf("plan: job #%d: id must be positive, got %d", i+1, job.ID)
		}
		if _, dup := seen[job.ID]; dup {
			return fmt.Errorf("plan: job #%d: duplicate id %d", i+1, job.ID)
		}
		seen[job.ID] = struct{}{}

		hasRun := job.Run != ""
		hasCommand := len(job.Command) > 0
		if hasRun == hasCommand {
			return fmt.Errorf("plan: job %d: exactly one of run and command must be set", job.ID)
		}
	}
	return nil
}

// QueueKey returns the queue the job is enqueued on.
func (j PlanJob) QueueKey() jobqueue.QueueKey {
	if j.Queue == "" {
		return jobqueue.DefaultQueue
	}
	return jobqueue.QueueKey(j.Queue)
}

// Argv returns the argv of the job; Run lines go through sh -c.
func (j PlanJob) Argv() []string {
	if j.Run != "" {
		return []string{"sh", "-c", j.Run}
	}
	return j.Command
}

// Environ returns the process environment extended with Env, or nil to
// inherit the environment unchanged.
func (j PlanJob) Environ() []string {
	if len(j.Env) == 0 {
		return nil
	}
	return append(os.Environ(), j.Env...)
}
