package loader

import (
	"errors"
	"fmt"
	"io/fs"
)

// Static is a Loader over in-process Lifecycle values. Each path maps to a
// factory consulted on every Load, so a test can swap in "new code" between
// loads or make a load fail.
type Static struct {
	units map[string]func() (Lifecycle, error)
	live  map[string]*staticHandle

	loads   int
	unloads int
}

func NewStatic() *Static {
	return &Static{
		units: make(map[string]func() (Lifecycle, error)),
		live:  make(map[string]*staticHandle),
	}
}

// Register makes path load app.
func (s *Static) Register(path string, app Lifecycle) {
	s.units[path] = func() (Lifecycle, error) { return app, nil }
}

// RegisterFunc makes path load whatever fn returns. A non-nil error fails
// the load; errors that are not already a *LoadError are reported as a
// failed open.
func (s *Static) RegisterFunc(path string, fn func() (Lifecycle, error)) {
	s.units[path] = fn
}

// Remove makes later loads of path fail as if the file were missing.
func (s *Static) Remove(path string) {
	delete(s.units, path)
}

func (s *Static) Load(path string) (Handle, error) {
	if _, ok := s.live[path]; ok {
		return nil, &LoadError{Path: path, Step: StepDuplicate}
	}
	fn, ok := s.units[path]
	if !ok {
		return nil, &LoadError{Path: path, Step: StepOpen, Err: fs.ErrNotExist}
	}
	app, err := fn()
	if err != nil {
		var lerr *LoadError
		if errors.As(err, &lerr) {
			return nil, err
		}
		return nil, &LoadError{Path: path, Step: StepOpen, Err: err}
	}
	h := &staticHandle{path: path, app: app}
	s.live[path] = h
	s.loads++
	return h, nil
}

func (s *Static) Unload(h Handle) error {
	sh, ok := h.(*staticHandle)
	if !ok || sh == nil {
		return fmt.Errorf("loader: unload: %T was not loaded by this loader", h)
	}
	if sh.closed {
		return nil
	}
	if s.live[sh.path] != sh {
		return fmt.Errorf("loader: unload: %s is not live", sh.path)
	}
	sh.closed = true
	delete(s.live, sh.path)
	s.unloads++
	return nil
}

// Counts returns the number of completed loads and unloads.
func (s *Static) Counts() (loads, unloads int) {
	return s.loads, s.unloads
}

// Live returns the number of handles currently loaded.
func (s *Static) Live() int {
	return len(s.live)
}

type staticHandle struct {
	path   string
	app    Lifecycle
	closed bool
}

func (h *staticHandle) Path() string { return h.path }

func (h *staticHandle) Init(args []string) AppContext {
	if h.closed {
		closedPanic("Init", h.path)
	}
	return h.app.Init(args)
}

func (h *staticHandle) Update(ctx AppContext) bool {
	if h.closed {
		closedPanic("Update", h.path)
	}
	return h.app.Update(ctx)
}

func (h *staticHandle) PreReload(ctx AppContext) {
	if h.closed {
		closedPanic("PreReload", h.path)
	}
	h.app.PreReload(ctx)
}

func (h *staticHandle) PostReload(ctx AppContext) {
	if h.closed {
		closedPanic("PostReload", h.path)
	}
	h.app.PostReload(ctx)
}

func (h *staticHandle) Destroy(ctx AppContext) {
	if h.closed {
		closedPanic("Destroy", h.path)
	}
	h.app.Destroy(ctx)
}
