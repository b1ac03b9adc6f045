package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOptionsFallback(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := LoadOptions(tc.path)
			if err != nil {
				t.Fatalf("LoadOptions: %v", err)
			}
			if len(opts.GetQueries()) == 0 {
				t.Error("fallback options carry no collection queries")
			}
			if !opts.GetExpandGroups() {
				t.Error("group expansion not enabled by default")
			}
			if opts.GetIncludeGroupFindings() {
				t.Error("group findings included by default")
			}
			if len(opts.GetLowPrivPatterns()) == 0 || len(opts.GetStandardOwners()) == 0 {
				t.Error("fallback options carry no classification patterns")
			}
		})
	}
}

func TestLoadOptionsPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("analysis:\n  include_group_findings: true\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}

	if !opts.GetIncludeGroupFindings() {
		t.Error("file setting not applied")
	}
	// Everything the file does not mention keeps its default.
	if len(opts.GetQueries()) == 0 {
		t.Error("partial config wiped the default queries")
	}
}

func TestSaveOptionsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	opts := FallbackOptions()
	opts.SetExpandGroups(false)
	opts.SetIncludeGroupFindings(true)
	opts.SetSnapshotWritePath("/tmp/audit.snap")

	if err := opts.SaveOptions(path); err != nil {
		t.Fatalf("SaveOptions: %v", err)
	}

	loaded, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}

	if loaded.GetExpandGroups() {
		t.Error("ExpandGroups not round-tripped")
	}
	if !loaded.GetIncludeGroupFindings() {
		t.Error("IncludeGroupFindings not round-tripped")
	}
	if got := loaded.GetSnapshotWritePath(); got != "/tmp/audit.snap" {
		t.Errorf("SnapshotWritePath = %q, want /tmp/audit.snap", got)
	}
	if len(loaded.GetQueries()) != len(opts.GetQueries()) {
		t.Errorf("queries lost in round trip: %d -> %d", len(opts.GetQueries()), len(loaded.GetQueries()))
	}
}

func TestFallbackQueriesRequestNormalizationAttributes(t *testing.T) {
	opts := FallbackOptions()

	for _, q := range opts.GetQueries() {
		found := false
		for _, attr := range q.Attributes {
			if attr == "objectClass" {
				found = true
			}
		}
		if !found {
			t.Errorf("query %q does not request objectClass; normalization depends on it", q.Name)
		}
	}
}
