// Package supervisor runs a loadable unit and swaps its code in place when
// the artifact on disk changes, keeping the application's context alive
// across the swap.
//
// The loop is single threaded: build check, change check, update, and an
// optional reload all happen in sequence. While the change detector waits
// for a write to settle, the application's Update is not called.
package supervisor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Stemt/hexcaster/internal/detector"
	"github.com/Stemt/hexcaster/internal/loader"
)

// ChangeDetector reports a settled modification of the artifact.
type ChangeDetector interface {
	CheckChanged(path string) bool
}

// Rebuilder is the optional build collaborator.
type Rebuilder interface {
	NeedsRebuild(ctx context.Context) bool
	Build(ctx context.Context) error
}

type Options struct {
	Artifact string
	// Args is handed to the application's Init as is.
	Args   []string
	Loader loader.Loader
	// Detector defaults to a detector with the default quiet period.
	Detector ChangeDetector
	// Rebuilder may be nil to run without rebuilding.
	Rebuilder Rebuilder
	Observers []Observer
}

// Supervisor owns the single live Handle and threads the application
// context through it.
type Supervisor struct {
	artifact  string
	args      []string
	loader    loader.Loader
	detector  ChangeDetector
	rebuilder Rebuilder
	observers []Observer

	state  State
	handle loader.Handle
	app    loader.AppContext

	loads   int
	unloads int
}

func New(opts Options) (*Supervisor, error) {
	if opts.Artifact == "" {
		return nil, errors.New("supervisor: artifact path is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("supervisor: loader is required")
	}
	det := opts.Detector
	if det == nil {
		det = detector.New(0, 0)
	}
	return &Supervisor{
		artifact:  opts.Artifact,
		args:      opts.Args,
		loader:    opts.Loader,
		detector:  det,
		rebuilder: opts.Rebuilder,
		observers: opts.Observers,
		state:     Unloaded,
	}, nil
}

func (s *Supervisor) State() State { return s.state }

// Counts returns the number of completed loads and unloads. Their
// difference is always 0 or 1.
func (s *Supervisor) Counts() (loads, unloads int) {
	return s.loads, s.unloads
}

// Run loads the artifact, initializes the application and updates it until
// Update returns false. It returns a *loader.LoadError when the first load
// or a reload fails; in both cases no Handle is left to run.
//
// ctx is only passed to the build collaborator. Termination is decided by
// the application alone.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.state != Unloaded {
		return errors.New("supervisor: already run")
	}

	s.rebuild(ctx)
	// establishes the baseline; an initial load is never a change
	s.detector.CheckChanged(s.artifact)

	if err := s.load(); err != nil {
		log.Printf("supervisor: failed to load '%s': %v", s.artifact, err)
		s.state = Terminated
		s.emit(EventLoadFailed, err)
		return err
	}
	log.Printf("supervisor: successfully loaded '%s'", s.artifact)
	s.app = s.handle.Init(s.args)
	s.state = Loaded
	s.emit(EventLoaded, nil)

	for s.handle.Update(s.app) {
		s.rebuild(ctx)
		if s.detector.CheckChanged(s.artifact) {
			if err := s.reload(); err != nil {
				return err
			}
		}
	}

	s.terminate()
	return nil
}

func (s *Supervisor) rebuild(ctx context.Context) {
	if s.rebuilder == nil || !s.rebuilder.NeedsRebuild(ctx) {
		return
	}
	if err := s.rebuilder.Build(ctx); err != nil {
		s.emit(EventBuildFailed, err)
		return
	}
	s.emit(EventBuilt, nil)
}

func (s *Supervisor) reload() error {
	s.state = Reloading
	s.emit(EventReloadStarted, nil)
	log.Printf("supervisor: attempting to reload '%s'", s.artifact)

	s.handle.PreReload(s.app)
	s.unload()
	if err := s.load(); err != nil {
		log.Printf("supervisor: reload failed: %v", err)
		s.state = Terminated
		s.emit(EventLoadFailed, err)
		return err
	}
	s.handle.PostReload(s.app)

	s.state = Loaded
	log.Printf("supervisor: successfully reloaded '%s'", s.artifact)
	s.emit(EventReloaded, nil)
	return nil
}

func (s *Supervisor) terminate() {
	s.state = Terminated
	s.handle.Destroy(s.app)
	s.app = nil
	s.unload()
	s.emit(EventTerminated, nil)
}

func (s *Supervisor) load() error {
	h, err := s.loader.Load(s.artifact)
	if err != nil {
		return err
	}
	s.handle = h
	s.loads++
	return nil
}

// unload gives up the current Handle. Even if the loader reports an error
// the Handle is never called again.
func (s *Supervisor) unload() {
	h := s.handle
	s.handle = nil
	s.unloads++
	if err := s.loader.Unload(h); err != nil {
		log.Printf("supervisor: %v", err)
	}
}

func (s *Supervisor) emit(kind EventKind, err error) {
	if len(s.observers) == 0 {
		return
	}
	ev := Event{
		Kind:     kind,
		State:    s.state,
		Artifact: s.artifact,
		Loads:    s.loads,
		Unloads:  s.unloads,
		Time:     time.Now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	for _, o := range s.observers {
		o.Notify(ev)
	}
}
