package director

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options are used to configure a pipeline.
type Options struct {
	Name string    `json:"name" yaml:"name"`
	Jobs []JobSpec `json:"jobs" yaml:"jobs"`
}

// Pipeline is a validated directed acyclic graph of JobSpecs. Construction
// resolves dependency references, derives content-hash ids and rejects
// cycles, so an executor can schedule a Pipeline without re-validation.
type Pipeline struct {
	name       string
	jobs       []JobSpec
	jobsByID   map[string]JobSpec
	dependents map[string][]string
}

// New returns a new Pipeline configured with the given options.
//
// Jobs may reference their dependencies by name or by id. Ids are derived
// in dependency order from each job's content hash, so resubmitting a
// definition with identical content yields identical ids.
func New(opts Options) (*Pipeline, error) {
	if opts.Name == "" {
		return nil, NewValidationError("pipeline name required")
	}
	if len(opts.Jobs) == 0 {
		return nil, NewValidationError("pipeline %q: at least one job required", opts.Name)
	}

	for _, job := range opts.Jobs {
		if err := job.validate(); err != nil {
			return nil, err
		}
	}

	order, err := topoSort(opts.Name, opts.Jobs)
	if err != nil {
		return nil, err
	}

	resolved, err := resolveIDs(opts.Jobs, order)
	if err != nil {
		return nil, err
	}

	jobsByID := make(map[string]JobSpec, len(resolved))
	dependents := make(map[string][]string, len(resolved))
	for _, job := range resolved {
		if prior, exists := jobsByID[job.ID]; exists {
			if sameContent(prior, job) {
				return nil, NewValidationError("pipeline %q: duplicate job %q", opts.Name, job.DisplayName())
			}
			// Two different specs hashing to the same id is a fatal
			// integrity failure, not a validation problem.
			return nil, &IntegrityError{JobID: job.ID, Reason: "id collision with differing content"}
		}
		jobsByID[job.ID] = job
		for _, dep := range job.DependsOn {
			dependents[dep] = append(dependents[dep], job.ID)
		}
	}

	return &Pipeline{
		name:       opts.Name,
		jobs:       resolved,
		jobsByID:   jobsByID,
		dependents: dependents,
	}, nil
}

// LoadFile loads a pipeline definition from a YAML file.
func LoadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return LoadString(string(data))
}

// LoadString loads a pipeline definition from a YAML string.
func LoadString(data string) (*Pipeline, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline definition: %w", err)
	}
	return New(opts)
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Jobs returns the jobs in submission order with resolved ids.
func (p *Pipeline) Jobs() []JobSpec {
	jobs := make([]JobSpec, len(p.jobs))
	copy(jobs, p.jobs)
	return jobs
}

// Job returns a job by id.
func (p *Pipeline) Job(id string) (JobSpec, bool) {
	job, ok := p.jobsByID[id]
	return job, ok
}

// Dependents returns the ids of jobs that depend directly on the given id.
func (p *Pipeline) Dependents(id string) []string {
	return p.dependents[id]
}

// TransitiveDependents returns every job id downstream of the given id.
func (p *Pipeline) TransitiveDependents(id string) []string {
	seen := map[string]bool{}
	var out []string
	var walk func(string)
	walk = func(current string) {
		for _, dep := range p.dependents[current] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(id)
	return out
}

// refKey is the name a job can be referenced by before ids are resolved.
func refKey(job JobSpec) string {
	if job.Name != "" {
		return job.Name
	}
	return job.ID
}

// topoSort orders job indexes so every job follows its dependencies, using
// Kahn's algorithm. Submission order breaks ties for determinism. Unknown
// references and cycles are reported as validation errors.
func topoSort(pipelineName string, jobs []JobSpec) ([]int, error) {
	indexByRef := make(map[string]int, len(jobs))
	for i, job := range jobs {
		key := refKey(job)
		if key == "" {
			continue
		}
		if _, dup := indexByRef[key]; dup {
			return nil, NewValidationError("pipeline %q: duplicate job name %q", pipelineName, key)
		}
		indexByRef[key] = i
	}

	indegree := make([]int, len(jobs))
	edges := make(map[int][]int, len(jobs))
	for i, job := range jobs {
		for _, dep := range job.DependsOn {
			from, ok := indexByRef[dep]
			if !ok {
				return nil, NewValidationError("pipeline %q: job %q depends on unknown job %q",
					pipelineName, job.DisplayName(), dep)
			}
			edges[from] = append(edges[from], i)
			indegree[i]++
		}
	}

	var ready []int
	for i := range jobs {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(jobs))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dependent := range edges[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(jobs) {
		return nil, NewValidationError("pipeline %q: dependency cycle detected", pipelineName)
	}
	return order, nil
}

// resolveIDs derives each job's content-hash id in dependency order and
// rewrites name references to resolved ids. The returned slice preserves the
// original submission order.
func resolveIDs(jobs []JobSpec, order []int) ([]JobSpec, error) {
	resolved := make([]JobSpec, len(jobs))
	idByRef := make(map[string]string, len(jobs))

	for _, idx := range order {
		job := jobs[idx]
		deps := make([]string, len(job.DependsOn))
		for i, dep := range job.DependsOn {
			id, ok := idByRef[dep]
			if !ok {
				// Should be unreachable after topoSort.
				return nil, NewValidationError("job %q: unresolved dependency %q", job.DisplayName(), dep)
			}
			deps[i] = id
		}
		job.DependsOn = deps

		derived := job.Fingerprint()
		if job.ID != "" && job.ID != derived {
			return nil, &IntegrityError{JobID: job.ID, Reason: "declared id does not match content hash"}
		}
		job.ID = derived

		if key := refKey(jobs[idx]); key != "" {
			idByRef[key] = job.ID
		}
		idByRef[job.ID] = job.ID
		resolved[idx] = job
	}
	return resolved, nil
}

func sameContent(a, b JobSpec) bool {
	if a.Capability != b.Capability || len(a.Parameters) != len(b.Parameters) || len(a.DependsOn) != len(b.DependsOn) {
		return false
	}
	for k, v := range a.Parameters {
		if b.Parameters[k] != v {
			return false
		}
	}
	deps := make(map[string]bool, len(a.DependsOn))
	for _, dep := range a.DependsOn {
		deps[dep] = true
	}
	for _, dep := range b.DependsOn {
		if !deps[dep] {
			return false
		}
	}
	return true
}
