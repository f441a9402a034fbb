// Package build decides when the loadable artifact is stale and runs the
// external command that rebuilds it.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"strings"
)

// BuildError means the external build invocation failed.
type BuildError struct {
	Artifact string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %v", e.Artifact, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder produces the artifact.
type Builder interface {
	Build(ctx context.Context) error
}

// BuilderFunc adapts a plain function to Builder.
type BuilderFunc func(ctx context.Context) error

func (f BuilderFunc) Build(ctx context.Context) error { return f(ctx) }

// NeedsRebuild reports whether artifact is missing or older than any of
// sources. Only modification times are compared. A source that cannot be
// statted is logged and skipped.
func NeedsRebuild(artifact string, sources []string) bool {
	out, err := os.Stat(artifact)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("build: stat %s: %v", artifact, err)
		}
		return true
	}
	for _, src := range sources {
		in, err := os.Stat(src)
		if err != nil {
			log.Printf("build: stat source %s: %v, skipping", src, err)
			continue
		}
		if in.ModTime().After(out.ModTime()) {
			return true
		}
	}
	return false
}

// Command runs an external program to build the artifact.
type Command struct {
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// Build runs the command and waits for it. There is no timeout beyond ctx.
func (c *Command) Build(ctx context.Context) error {
	if len(c.Args) == 0 {
		return fmt.Errorf("empty build command")
	}
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	log.Printf("build: running %s", strings.Join(c.Args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Args[0], err)
	}
	return nil
}

// Trigger ties an artifact to the sources it is built from and the
// Builder that produces it. Relative paths are resolved against the
// process working directory, not Command.Dir.
type Trigger struct {
	Artifact string
	Sources  []string
	Builder  Builder
}

func (t *Trigger) NeedsRebuild(context.Context) bool {
	return NeedsRebuild(t.Artifact, t.Sources)
}

// Build invokes the builder. A failure is logged and returned as a
// *BuildError; the previous artifact is left as it was.
func (t *Trigger) Build(ctx context.Context) error {
	if t.Builder == nil {
		return &BuildError{Artifact: t.Artifact, Err: errors.New("no builder configured")}
	}
	if err := t.Builder.Build(ctx); err != nil {
		berr := &BuildError{Artifact: t.Artifact, Err: err}
		log.Printf("build: %v", berr)
		return berr
	}
	log.Printf("build: built '%s'", t.Artifact)
	return nil
}
