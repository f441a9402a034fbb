// Package procstat samples the supervisor's own memory use so repeated
// reloads that fail to release old code show up in the log.
package procstat

import (
	"fmt"
	"log"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Stemt/hexcaster/internal/supervisor"
)

type Sample struct {
	RSS uint64
	VMS uint64
}

// Sampler reads memory figures for one process.
type Sampler interface {
	Sample() (Sample, error)
}

type processSampler struct {
	proc *process.Process
}

// NewSampler returns a Sampler for pid.
func NewSampler(pid int) (Sampler, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("procstat: process %d: %w", pid, err)
	}
	return &processSampler{proc: p}, nil
}

func (s *processSampler) Sample() (Sample, error) {
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("procstat: memory info: %w", err)
	}
	return Sample{RSS: mem.RSS, VMS: mem.VMS}, nil
}

// Reporter logs resident memory after the first load and after every
// reload, with the growth since the first load.
type Reporter struct {
	sampler  Sampler
	baseline *Sample
	reloads  int
	logf     func(format string, args ...any)
}

func NewReporter(sampler Sampler) *Reporter {
	return &Reporter{sampler: sampler, logf: log.Printf}
}

// NewSelfReporter reports on the current process.
func NewSelfReporter() (*Reporter, error) {
	s, err := NewSampler(os.Getpid())
	if err != nil {
		return nil, err
	}
	return NewReporter(s), nil
}

func (r *Reporter) Notify(ev supervisor.Event) {
	switch ev.Kind {
	case supervisor.EventLoaded, supervisor.EventReloaded:
	default:
		return
	}
	cur, err := r.sampler.Sample()
	if err != nil {
		r.logf("procstat: %v", err)
		return
	}
	if r.baseline == nil {
		r.baseline = &cur
		r.logf("procstat: rss %s after first load", formatBytes(cur.RSS))
		return
	}
	r.reloads++
	delta := int64(cur.RSS) - int64(r.baseline.RSS)
	r.logf("procstat: rss %s after reload %d (%s since first load)", formatBytes(cur.RSS), r.reloads, formatDelta(delta))
}

// Growth returns the RSS change between the first load and the latest
// sample, or 0 before the first load.
func (r *Reporter) Growth() (int64, error) {
	if r.baseline == nil {
		return 0, nil
	}
	cur, err := r.sampler.Sample()
	if err != nil {
		return 0, err
	}
	return int64(cur.RSS) - int64(r.baseline.RSS), nil
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

func formatDelta(d int64) string {
	if d < 0 {
		return "-" + formatBytes(uint64(-d))
	}
	return "+" + formatBytes(uint64(d))
}
