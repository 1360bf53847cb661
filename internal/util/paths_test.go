package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStem(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"task", "task"},
		{"minhas_vantagens_human", "minhas_vantagens_human"},
		{"gsm8k", "gsm8k"},
		{"MMLU-Pro", "MMLU-Pro"},
		{"mmlu.high_school_physics", "mmlu.high_school_physics"},
		{"arc easy", "arc_easy"},
		{"leaderboard/bbh", "leaderboard_bbh"},
		{"..", "unnamed"},
		{"", "unnamed"},
	}
	for _, tt := range tests {
		if got := FileStem(tt.input); got != tt.expected {
			t.Errorf("FileStem(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestCheckpointDirName(t *testing.T) {
	a := CheckpointDirName("/cortex/models/run-1/step-100")
	b := CheckpointDirName("/cortex/models/run-2/step-100")
	if a == b {
		t.Errorf("expected distinct names for distinct checkpoints, got %q twice", a)
	}
	if !strings.HasPrefix(a, "step_100-") {
		t.Errorf("expected checkpoint base name prefix, got %q", a)
	}
	if a != CheckpointDirName("/cortex/models/run-1/step-100/") {
		t.Error("trailing slash should not change the name")
	}
	if c := CheckpointDirName("/models/GlobalStep-2000"); !strings.HasPrefix(c, "global_step_2000-") {
		t.Errorf("expected snake cased base name, got %q", c)
	}
	if strings.ContainsRune(a, os.PathSeparator) {
		t.Errorf("name must not contain a path separator: %q", a)
	}
}

func TestCreateUnique(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "summary")

	var names []string
	for i := 0; i < 3; i++ {
		f, err := CreateUnique(dir, "task", ".csv")
		if err != nil {
			t.Fatalf("CreateUnique: %v", err)
		}
		names = append(names, filepath.Base(f.Name()))
		f.Close()
	}

	want := []string{"task.csv", "task_1.csv", "task_2.csv"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("file %d = %q, want %q", i, names[i], want[i])
		}
	}
}
