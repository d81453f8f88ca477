package run

import (
	"strings"
	"testing"
	"time"

	"detectpd/domain/core"
)

func TestFingerprint_Deterministic(t *testing.T) {
	// Same inputs produce identical fingerprints
	fp1 := NewFingerprint(core.Hash("data"), core.Hash("cfg"), 42, "1.0.0")
	fp2 := NewFingerprint(core.Hash("data"), core.Hash("cfg"), 42, "1.0.0")

	if fp1.Fingerprint != fp2.Fingerprint {
		t.Errorf("Fingerprints not identical: %s vs %s", fp1.Fingerprint, fp2.Fingerprint)
	}
	if fp1.Seed != 42 {
		t.Errorf("Seed mismatch: %d", fp1.Seed)
	}
}

func TestFingerprint_Unique(t *testing.T) {
	base := NewFingerprint(core.Hash("data"), core.Hash("cfg"), 42, "1.0.0")

	testCases := []struct {
		name string
		fp   Fingerprint
	}{
		{"dataset", NewFingerprint(core.Hash("other"), core.Hash("cfg"), 42, "1.0.0")},
		{"config", NewFingerprint(core.Hash("data"), core.Hash("other"), 42, "1.0.0")},
		{"seed", NewFingerprint(core.Hash("data"), core.Hash("cfg"), 43, "1.0.0")},
		{"code", NewFingerprint(core.Hash("data"), core.Hash("cfg"), 42, "1.0.1")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.fp.Fingerprint == base.Fingerprint {
				t.Errorf("changing %s did not change the fingerprint", tc.name)
			}
		})
	}
}

func TestNewManifest(t *testing.T) {
	fp := NewFingerprint(core.Hash("data"), core.Hash("cfg"), 42, "dev")
	m := NewManifest("DETECT_PD_Pipeline", "detect-pd-{run_id}", fp, 120, []string{"ktv", "pet"})

	if err := m.Validate(); err != nil {
		t.Fatalf("manifest should validate: %v", err)
	}
	if !strings.HasPrefix(m.RunName, "detect-pd-") || !strings.HasSuffix(m.RunName, m.RunID.String()) {
		t.Errorf("unexpected run name %q", m.RunName)
	}
	if _, err := core.ParseRunID(m.RunID.String()); err != nil {
		t.Errorf("run id is not a uuid: %v", err)
	}

	m.ExperimentName = ""
	if err := m.Validate(); err == nil {
		t.Error("expected validation error for empty experiment name")
	}
}

func TestRenderRunName(t *testing.T) {
	at := core.NewTimestamp(time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC))
	got := RenderRunName("detect-pd-{timestamp}", core.RunID("abc"), at)
	if got != "detect-pd-20240305-143000" {
		t.Errorf("got %q", got)
	}
	if got := RenderRunName("", core.RunID("abc"), at); got != "run-abc" {
		t.Errorf("got %q", got)
	}
}
