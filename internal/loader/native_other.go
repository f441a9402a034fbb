//go:build !darwin && !linux

package loader

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("dynamic loading is not supported on " + runtime.GOOS)

// Native is unavailable on this platform; every Load fails.
type Native struct{}

func NewNative(Symbols) *Native { return &Native{} }

func (n *Native) Preload(path string) error {
	return &LoadError{Path: path, Step: StepUnsupported, Err: errUnsupported}
}

func (n *Native) Load(path string) (Handle, error) {
	return nil, &LoadError{Path: path, Step: StepUnsupported, Err: errUnsupported}
}

func (n *Native) Unload(Handle) error { return errUnsupported }

func (n *Native) Close() error { return nil }
