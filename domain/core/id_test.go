package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != numIDs {
		t.Errorf("Expected %d unique IDs, got %d", numIDs, len(ids))
	}
}

func TestParseRunID(t *testing.T) {
	tests := []struct {
		input    string
		hasError bool
	}{
		{NewRunID().String(), false},
		{"", true},
		{"   ", true},
		{"not-a-uuid", true},
	}

	for _, tt := range tests {
		_, err := ParseRunID(tt.input)
		if tt.hasError && err == nil {
			t.Errorf("ParseRunID(%q) expected error", tt.input)
		}
		if !tt.hasError && err != nil {
			t.Errorf("ParseRunID(%q) unexpected error: %v", tt.input, err)
		}
	}
}

func TestErrorPredicates(t *testing.T) {
	if !IsDataError(NewMissingColumnError("ktv")) {
		t.Error("missing column should be a data error")
	}
	if !IsConfigurationError(NewUnknownTargetError("urea")) {
		t.Error("unknown target should be a configuration error")
	}
	if IsDataError(NewConfigurationError("split.test_size", "must be in (0, 1)")) {
		t.Error("configuration error classified as data error")
	}
}

func TestHashOfIsOrderIndependentForKeys(t *testing.T) {
	a := HashOf(map[string]string{"a": "1", "b": "2"})
	b := HashOf(map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Errorf("hash differs for equal maps: %s vs %s", a, b)
	}
	if HashStrings([]string{"x", "y"}) == HashStrings([]string{"y", "x"}) {
		t.Error("HashStrings should be order sensitive")
	}
}
