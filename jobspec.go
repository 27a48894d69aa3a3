package director

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// JobSpec is an immutable description of one unit of external generation
// work. Its ID is derived from the capability, the normalized parameters and
// the dependency ids, so an identical spec always hashes to the same id and
// a completed artifact can be reused across submissions.
type JobSpec struct {
	ID         string            `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Capability Capability        `json:"capability" yaml:"capability"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Fingerprint computes the deterministic content hash that identifies this
// spec. Parameters are normalized (trimmed keys, sorted) and dependency ids
// are sorted, so field ordering in a definition file never changes the id.
func (j JobSpec) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "capability\x00%s\x00", j.Capability)

	keys := make([]string, 0, len(j.Parameters))
	for key := range j.Parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(h, "param\x00%s\x00%s\x00", strings.TrimSpace(key), j.Parameters[key])
	}

	deps := make([]string, len(j.DependsOn))
	copy(deps, j.DependsOn)
	sort.Strings(deps)
	for _, dep := range deps {
		fmt.Fprintf(h, "dep\x00%s\x00", dep)
	}

	return hex.EncodeToString(h.Sum(nil))[:32]
}

// WithID returns a copy of the spec with the derived id filled in.
func (j JobSpec) WithID() JobSpec {
	j.ID = j.Fingerprint()
	return j
}

// DisplayName returns the job's human-facing name, falling back to the
// capability and a short id prefix.
func (j JobSpec) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	id := j.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s", j.Capability, id)
}

func (j JobSpec) validate() error {
	if !j.Capability.Valid() {
		return NewValidationError("job %q: unknown capability %q", j.DisplayName(), string(j.Capability))
	}
	for key := range j.Parameters {
		if strings.TrimSpace(key) == "" {
			return NewValidationError("job %q: empty parameter key", j.DisplayName())
		}
	}
	seen := make(map[string]struct{}, len(j.DependsOn))
	for _, dep := range j.DependsOn {
		if dep == "" {
			return NewValidationError("job %q: empty dependency reference", j.DisplayName())
		}
		if _, dup := seen[dep]; dup {
			return NewValidationError("job %q: duplicate dependency %q", j.DisplayName(), dep)
		}
		seen[dep] = struct{}{}
	}
	return nil
}
