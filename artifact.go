package director

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Artifact is the durable output of a succeeded job. Downstream jobs
// reference artifacts by job id; the payload itself is never copied.
type Artifact struct {
	JobID       string    `json:"job_id"`
	Location    string    `json:"location"`
	MediaType   string    `json:"media_type,omitempty"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	ProducedAt  time.Time `json:"produced_at"`
}

// ArtifactStore is a content-addressed record of job outputs on disk. Every
// job gets a deterministic directory derived from its id, which makes
// re-execution idempotent: if a crash loses the checkpoint write, the next
// attempt finds the committed artifact and records a cache hit instead of
// invoking the tool again.
type ArtifactStore struct {
	dir string
}

const artifactMetaFile = "artifact.json"

// NewArtifactStore creates a store rooted at the given directory.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact store directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// JobDir returns the deterministic output directory for a job id. Tools are
// expected to write their output beneath this path.
func (s *ArtifactStore) JobDir(jobID string) string {
	return filepath.Join(s.dir, jobID)
}

// EnsureJobDir creates and returns the output directory for a job id.
func (s *ArtifactStore) EnsureJobDir(jobID string) (string, error) {
	dir := s.JobDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}

// Commit records the payload at location as the artifact for jobID. The
// payload is hashed and the metadata record is written with a rename so a
// half-written record is never observed.
func (s *ArtifactStore) Commit(jobID, location, mediaType string) (*Artifact, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact payload: %w", err)
	}
	hash, err := hashFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact payload: %w", err)
	}

	artifact := &Artifact{
		JobID:       jobID,
		Location:    location,
		MediaType:   mediaType,
		ContentHash: hash,
		SizeBytes:   info.Size(),
		ProducedAt:  time.Now().UTC(),
	}

	if _, err := s.EnsureJobDir(jobID); err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(filepath.Join(s.JobDir(jobID), artifactMetaFile), artifact); err != nil {
		return nil, fmt.Errorf("failed to write artifact record: %w", err)
	}
	return artifact, nil
}

// Get returns the committed artifact record for a job id without
// re-validating the payload.
func (s *ArtifactStore) Get(jobID string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(s.JobDir(jobID), artifactMetaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact record: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, &IntegrityError{JobID: jobID, Reason: "malformed artifact record"}
	}
	return &artifact, nil
}

// Probe checks whether a valid artifact already exists for a job id. The
// payload is re-hashed against the committed record; a mismatch is an
// integrity failure rather than a cache miss so silent corruption cannot be
// served to dependents.
func (s *ArtifactStore) Probe(jobID string) (*Artifact, error) {
	artifact, err := s.Get(jobID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(artifact.Location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to stat artifact payload: %w", err)
	}
	if info.Size() != artifact.SizeBytes {
		return nil, &IntegrityError{JobID: jobID, Reason: "artifact payload size mismatch"}
	}
	hash, err := hashFile(artifact.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact payload: %w", err)
	}
	if hash != artifact.ContentHash {
		return nil, &IntegrityError{JobID: jobID, Reason: "artifact payload hash mismatch"}
	}
	return artifact, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
