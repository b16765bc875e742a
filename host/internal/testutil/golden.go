// Package testutil provides shared test infrastructure for the VM host.
// It consolidates golden script cases, boot-image helpers, and exit-hook
// recorders used across host/ and its subpackages.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

// GoldenScripts represents the structure of testdata/goldenscripts.json.
type GoldenScripts struct {
	Tests []GoldenScriptCase `json:"tests"`
}

// GoldenScriptCase is one end-to-end run: every script is booted as its own
// instance, in order, so the first script gets identifier 1.
type GoldenScriptCase struct {
	Name     string   `json:"name"`
	Scripts  []string `json:"scripts"`   // YAML sources
	Output   []string `json:"output"`    // printed lines, compared as a multiset
	ExitCode int      `json:"exit_code"` // code passed to the exit hook
}

// LoadGoldenScripts loads the golden cases from the testdata directory.
// The path is resolved relative to this source file: host/internal/testutil/ → testdata/.
func LoadGoldenScripts(t *testing.T) *GoldenScripts {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", "goldenscripts.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read golden scripts: %v", err)
	}

	var golden GoldenScripts
	if err := json.Unmarshal(data, &golden); err != nil {
		t.Fatalf("Failed to parse golden scripts: %v", err)
	}
	return &golden
}

// AssertSameLines compares printed output with the expected lines,
// ignoring order. Output from different instances interleaves freely.
func AssertSameLines(t *testing.T, name string, want []string, got string) {
	t.Helper()
	gotLines := splitLines(got)
	wantLines := append([]string(nil), want...)
	sort.Strings(gotLines)
	sort.Strings(wantLines)
	if strings.Join(gotLines, "\n") != strings.Join(wantLines, "\n") {
		t.Errorf("%s: output mismatch\n got: %q\nwant: %q", name, gotLines, wantLines)
	}
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}
