package build

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func writeAt(t *testing.T, path string, data string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestNeedsRebuild(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	tests := []struct {
		name     string
		artifact *time.Time // nil means absent
		sources  []time.Time
		want     bool
	}{
		{"artifact absent", nil, []time.Time{base}, true},
		{"artifact absent no sources", nil, nil, true},
		{"artifact newer", ptr(base.Add(time.Minute)), []time.Time{base, base.Add(time.Second)}, false},
		{"one source newer", ptr(base), []time.Time{base.Add(-time.Minute), base.Add(time.Second)}, true},
		{"equal mtimes", ptr(base), []time.Time{base}, false},
		{"no sources", ptr(base), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			artifact := filepath.Join(dir, "app.so")
			if tt.artifact != nil {
				writeAt(t, artifact, "so", *tt.artifact)
			}
			var sources []string
			for i, mt := range tt.sources {
				src := filepath.Join(dir, "src", string(rune('a'+i))+".c")
				if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
					t.Fatal(err)
				}
				writeAt(t, src, "int x;", mt)
				sources = append(sources, src)
			}

			if got := NeedsRebuild(artifact, sources); got != tt.want {
				t.Errorf("NeedsRebuild() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsRebuildSkipsMissingSource(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "app.so")
	writeAt(t, artifact, "so", time.Now())

	if NeedsRebuild(artifact, []string{filepath.Join(dir, "gone.c")}) {
		t.Error("missing source should not force a rebuild")
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestTriggerBuildSuccess(t *testing.T) {
	calls := 0
	trig := &Trigger{
		Artifact: "app.so",
		Builder: BuilderFunc(func(context.Context) error {
			calls++
			return nil
		}),
	}
	if err := trig.Build(context.Background()); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("builder called %d times, want 1", calls)
	}
}

func TestTriggerBuildFailureLeavesArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "app.so")
	src := filepath.Join(dir, "main.c")
	now := time.Now().Truncate(time.Second)
	writeAt(t, artifact, "old code", now.Add(-time.Minute))
	writeAt(t, src, "int main;", now)

	cause := errors.New("cc: exit status 1")
	trig := &Trigger{
		Artifact: artifact,
		Sources:  []string{src},
		Builder:  BuilderFunc(func(context.Context) error { return cause }),
	}

	before := trig.NeedsRebuild(context.Background())
	err := trig.Build(context.Background())

	var berr *BuildError
	if !errors.As(err, &berr) {
		t.Fatalf("Build() error = %v, want *BuildError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("BuildError does not wrap the builder error")
	}

	data, rerr := os.ReadFile(artifact)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if string(data) != "old code" {
		t.Errorf("artifact content = %q, want %q", data, "old code")
	}
	if after := trig.NeedsRebuild(context.Background()); after != before {
		t.Errorf("NeedsRebuild changed from %v to %v after failed build", before, after)
	}
}

func TestTriggerWithoutBuilder(t *testing.T) {
	trig := &Trigger{Artifact: "app.so"}
	var berr *BuildError
	if err := trig.Build(context.Background()); !errors.As(err, &berr) {
		t.Errorf("Build() error = %v, want *BuildError", err)
	}
}

func TestCommandBuild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	var stdout bytes.Buffer
	cmd := &Command{
		Args:   []string{"sh", "-c", "echo built > app.so && echo ok"},
		Dir:    dir,
		Stdout: &stdout,
	}
	if err := cmd.Build(context.Background()); err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "app.so")); err != nil {
		t.Errorf("artifact not produced: %v", err)
	}
	if stdout.String() != "ok\n" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "ok\n")
	}
}

func TestCommandBuildFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	var stderr bytes.Buffer
	cmd := &Command{Args: []string{"sh", "-c", "exit 3"}, Stderr: &stderr}
	if err := cmd.Build(context.Background()); err == nil {
		t.Error("Build() should fail for non-zero exit")
	}
}

func TestCommandBuildEmpty(t *testing.T) {
	if err := (&Command{}).Build(context.Background()); err == nil {
		t.Error("Build() should fail for an empty command")
	}
}
