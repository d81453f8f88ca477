package run

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"detectpd/domain/core"
)

// Fingerprint identifies everything that determines a run's outputs: the
// input data, the configuration, the seed and the code version.
type Fingerprint struct {
	DatasetHash core.Hash `json:"dataset_hash"`
	ConfigHash  core.Hash `json:"config_hash"`
	Seed        int64     `json:"seed"`
	CodeVersion string    `json:"code_version"`
	Fingerprint core.Hash `json:"fingerprint"` // Hash of all above
}

// NewFingerprint creates a fingerprint from determinism parameters
func NewFingerprint(datasetHash, configHash core.Hash, seed int64, codeVersion string) Fingerprint {
	return Fingerprint{
		DatasetHash: datasetHash,
		ConfigHash:  configHash,
		Seed:        seed,
		CodeVersion: codeVersion,
		Fingerprint: computeFingerprint(datasetHash, configHash, seed, codeVersion),
	}
}

func computeFingerprint(datasetHash, configHash core.Hash, seed int64, codeVersion string) core.Hash {
	data := fmt.Sprintf("dataset:%s|config:%s|seed:%d|code:%s", datasetHash, configHash, seed, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

// Status is the lifecycle state of a tracked run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Manifest describes one pipeline execution. It is written before any stage
// output so a run can be matched to its inputs.
type Manifest struct {
	RunID          core.RunID     `json:"run_id"`
	RunName        string         `json:"run_name"`
	ExperimentName string         `json:"experiment_name"`
	Fingerprint    Fingerprint    `json:"fingerprint"`
	Rows           int            `json:"rows"`
	Targets        []string       `json:"targets"`
	CreatedAt      core.Timestamp `json:"created_at"`
}

// NewManifest stamps a fresh run id and creation time. The run name is
// rendered from template by replacing {timestamp} and {run_id}.
func NewManifest(experiment, template string, fp Fingerprint, rows int, targets []string) *Manifest {
	id := core.NewRunID()
	now := core.Now()
	return &Manifest{
		RunID:          id,
		RunName:        RenderRunName(template, id, now),
		ExperimentName: experiment,
		Fingerprint:    fp,
		Rows:           rows,
		Targets:        append([]string(nil), targets...),
		CreatedAt:      now,
	}
}

// RenderRunName expands the {timestamp} and {run_id} placeholders.
func RenderRunName(template string, id core.RunID, at core.Timestamp) string {
	if template == "" {
		template = "run-{run_id}"
	}
	r := strings.NewReplacer(
		"{timestamp}", at.Time().Format("20060102-150405"),
		"{run_id}", id.String(),
	)
	return r.Replace(template)
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return core.NewInvalidInputError("run_manifest", "run_id cannot be empty")
	}
	if m.ExperimentName == "" {
		return core.NewInvalidInputError("run_manifest", "experiment_name cannot be empty")
	}
	if m.Fingerprint.DatasetHash.IsEmpty() {
		return core.NewInvalidInputError("run_manifest", "dataset_hash cannot be empty")
	}
	if m.Fingerprint.ConfigHash.IsEmpty() {
		return core.NewInvalidInputError("run_manifest", "config_hash cannot be empty")
	}
	return nil
}
