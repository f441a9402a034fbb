// Package loader opens a built artifact, resolves its five lifecycle entry
// points and releases it again.
//
// Two loaders are provided. Native opens shared libraries through the
// system dynamic linker. Static hands out in-process Lifecycle values and
// is used to drive the supervisor without any real dynamic loading.
package loader

import (
	"fmt"
)

// AppContext is the application's own state. It is created by Init and
// passed back unchanged to every later call; the loader never looks inside.
type AppContext any

// Lifecycle is the contract every loadable unit implements.
type Lifecycle interface {
	Init(args []string) AppContext
	Update(ctx AppContext) bool
	PreReload(ctx AppContext)
	PostReload(ctx AppContext)
	Destroy(ctx AppContext)
}

// Handle is a loaded artifact. None of its Lifecycle methods may be called
// after the Handle has been passed to Unload.
type Handle interface {
	Lifecycle
	Path() string
}

// Loader loads and unloads artifacts. A Loader refuses to hold two live
// Handles for the same artifact.
type Loader interface {
	Load(path string) (Handle, error)
	Unload(h Handle) error
}

// Step names the part of a load that failed.
type Step string

const (
	StepOpen        Step = "open"
	StepSymbol      Step = "symbol"
	StepDuplicate   Step = "duplicate"
	StepUnsupported Step = "unsupported"
)

// LoadError describes why an artifact could not be loaded.
type LoadError struct {
	Path   string
	Step   Step
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	switch e.Step {
	case StepSymbol:
		return fmt.Sprintf("load %s: missing entry point %q: %v", e.Path, e.Symbol, e.Err)
	case StepDuplicate:
		return fmt.Sprintf("load %s: already loaded", e.Path)
	default:
		return fmt.Sprintf("load %s: %s: %v", e.Path, e.Step, e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

const DefaultSymbolPrefix = "nhl_"

// Symbols holds the exported names of the five entry points.
type Symbols struct {
	Init       string
	Update     string
	PreReload  string
	PostReload string
	Destroy    string
}

// SymbolsWithPrefix returns <prefix>init, <prefix>update, <prefix>pre_reload,
// <prefix>post_reload and <prefix>destroy.
func SymbolsWithPrefix(prefix string) Symbols {
	return Symbols{
		Init:       prefix + "init",
		Update:     prefix + "update",
		PreReload:  prefix + "pre_reload",
		PostReload: prefix + "post_reload",
		Destroy:    prefix + "destroy",
	}
}

// Names returns the entry point names in resolution order.
func (s Symbols) Names() []string {
	return []string{s.Init, s.Update, s.PreReload, s.PostReload, s.Destroy}
}

func closedPanic(entry, path string) {
	panic(fmt.Sprintf("loader: %s called through unloaded handle for %s", entry, path))
}
