//go:build darwin || linux

package loader

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// cContext is the opaque pointer returned by a native init entry point.
type cContext uintptr

// Native loads shared libraries with dlopen and resolves entry points with
// dlsym. It is not safe for concurrent use.
type Native struct {
	symbols   Symbols
	live      map[string]*nativeHandle
	preloaded map[string]uintptr
	argv      []*cArgs
}

// NewNative returns a loader resolving the given entry point names.
func NewNative(symbols Symbols) *Native {
	return &Native{
		symbols:   symbols,
		live:      make(map[string]*nativeHandle),
		preloaded: make(map[string]uintptr),
	}
}

// Preload opens a library with global symbol visibility so that artifacts
// loaded later can link against it. Preloaded libraries stay open until
// Close.
func (n *Native) Preload(path string) error {
	if _, ok := n.preloaded[path]; ok {
		return nil
	}
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return &LoadError{Path: path, Step: StepOpen, Err: err}
	}
	n.preloaded[path] = lib
	log.Printf("loader: preloaded '%s'", path)
	return nil
}

// Load opens path and resolves all five entry points. On failure nothing
// stays open.
func (n *Native) Load(path string) (Handle, error) {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	if _, ok := n.live[key]; ok {
		return nil, &LoadError{Path: path, Step: StepDuplicate}
	}

	log.Printf("loader: attempting to load '%s'", path)
	lib, err := purego.Dlopen(key, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, &LoadError{Path: path, Step: StepOpen, Err: err}
	}

	syms := make(map[string]uintptr, 5)
	for _, name := range n.symbols.Names() {
		addr, err := purego.Dlsym(lib, name)
		if err != nil {
			if cerr := purego.Dlclose(lib); cerr != nil {
				log.Printf("loader: close '%s' after failed load: %v", path, cerr)
			}
			return nil, &LoadError{Path: path, Step: StepSymbol, Symbol: name, Err: err}
		}
		syms[name] = addr
	}

	h := &nativeHandle{path: path, key: key, lib: lib, owner: n}
	purego.RegisterFunc(&h.init, syms[n.symbols.Init])
	purego.RegisterFunc(&h.update, syms[n.symbols.Update])
	purego.RegisterFunc(&h.preReload, syms[n.symbols.PreReload])
	purego.RegisterFunc(&h.postReload, syms[n.symbols.PostReload])
	purego.RegisterFunc(&h.destroy, syms[n.symbols.Destroy])
	n.live[key] = h
	return h, nil
}

// Unload closes the library behind h. Every entry point of h is invalid
// afterwards.
func (n *Native) Unload(h Handle) error {
	nh, ok := h.(*nativeHandle)
	if !ok || nh == nil || nh.owner != n {
		return fmt.Errorf("loader: unload: %T was not loaded by this loader", h)
	}
	if nh.closed {
		return nil
	}
	log.Printf("loader: unloading '%s'", nh.path)
	nh.closed = true
	nh.init, nh.update, nh.preReload, nh.postReload, nh.destroy = nil, nil, nil, nil, nil
	delete(n.live, nh.key)
	if err := purego.Dlclose(nh.lib); err != nil {
		return fmt.Errorf("loader: unload %s: %w", nh.path, err)
	}
	return nil
}

// Close releases preloaded libraries and the argument vectors handed to
// init. It must only be called once no Handle is live.
func (n *Native) Close() error {
	var first error
	for path, lib := range n.preloaded {
		if err := purego.Dlclose(lib); err != nil && first == nil {
			first = fmt.Errorf("loader: close %s: %w", path, err)
		}
		delete(n.preloaded, path)
	}
	for _, a := range n.argv {
		a.release()
	}
	n.argv = nil
	return first
}

type nativeHandle struct {
	path   string
	key    string
	lib    uintptr
	owner  *Native
	closed bool

	init       func(argc int32, argv unsafe.Pointer) uintptr
	update     func(ctx uintptr) bool
	preReload  func(ctx uintptr)
	postReload func(ctx uintptr)
	destroy    func(ctx uintptr)
}

func (h *nativeHandle) Path() string { return h.path }

func (h *nativeHandle) Init(args []string) AppContext {
	if h.closed {
		closedPanic("Init", h.path)
	}
	argv := newCArgs(args)
	h.owner.argv = append(h.owner.argv, argv)
	return cContext(h.init(int32(len(args)), argv.pointer()))
}

func (h *nativeHandle) Update(ctx AppContext) bool {
	if h.closed {
		closedPanic("Update", h.path)
	}
	return h.update(h.raw(ctx))
}

func (h *nativeHandle) PreReload(ctx AppContext) {
	if h.closed {
		closedPanic("PreReload", h.path)
	}
	h.preReload(h.raw(ctx))
}

func (h *nativeHandle) PostReload(ctx AppContext) {
	if h.closed {
		closedPanic("PostReload", h.path)
	}
	h.postReload(h.raw(ctx))
}

func (h *nativeHandle) Destroy(ctx AppContext) {
	if h.closed {
		closedPanic("Destroy", h.path)
	}
	h.destroy(h.raw(ctx))
}

func (h *nativeHandle) raw(ctx AppContext) uintptr {
	c, ok := ctx.(cContext)
	if !ok {
		panic(fmt.Sprintf("loader: %s: context %T did not come from a native init", h.path, ctx))
	}
	return uintptr(c)
}

// cArgs is a NULL-terminated char** built from Go strings. Its memory is
// pinned so the application may keep argv past init.
type cArgs struct {
	pinner runtime.Pinner
	ptrs   []*byte
}

func newCArgs(args []string) *cArgs {
	a := &cArgs{ptrs: make([]*byte, len(args)+1)}
	for i, s := range args {
		b := append([]byte(s), 0)
		a.pinner.Pin(&b[0])
		a.ptrs[i] = &b[0]
	}
	a.pinner.Pin(&a.ptrs[0])
	return a
}

func (a *cArgs) pointer() unsafe.Pointer {
	return unsafe.Pointer(&a.ptrs[0])
}

func (a *cArgs) release() {
	a.pinner.Unpin()
}
