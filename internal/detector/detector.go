package detector

import (
	"fmt"
	"log"
	"os"
	"time"
)

const (
	DefaultQuietPeriod  = 10 * time.Millisecond
	DefaultPollInterval = time.Millisecond
)

// StatError means the artifact's modification time could not be read.
type StatError struct {
	Path string
	Err  error
}

func (e *StatError) Error() string {
	return fmt.Sprintf("stat %s: %v", e.Path, e.Err)
}

func (e *StatError) Unwrap() error { return e.Err }

// Detector reports when an artifact has been rewritten and the write has
// settled. Each Detector owns its own baseline.
type Detector struct {
	quiet time.Duration
	poll  time.Duration

	stat  func(path string) (time.Time, error)
	now   func() time.Time
	sleep func(time.Duration)

	baseline time.Time
	primed   bool
}

// New returns a Detector using the given quiet period and poll interval.
// Zero values fall back to the defaults.
func New(quiet, poll time.Duration) *Detector {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Detector{
		quiet: quiet,
		poll:  poll,
		stat:  modTime,
		now:   time.Now,
		sleep: time.Sleep,
	}
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, &StatError{Path: path, Err: err}
	}
	return info.ModTime(), nil
}

// Baseline returns the last confirmed-stable modification time and whether
// one has been recorded yet.
func (d *Detector) Baseline() (time.Time, bool) {
	return d.baseline, d.primed
}

// CheckChanged reports whether path was modified since the last stable
// modification it saw. The first successful call only records a baseline.
//
// When a newer modification time is seen, CheckChanged blocks until the
// file has gone unmodified for longer than the quiet period. There is no
// upper bound on that wait.
func (d *Detector) CheckChanged(path string) bool {
	current, err := d.stat(path)
	if err != nil {
		log.Printf("detector: %v, ignoring", err)
		return false
	}
	if !d.primed {
		d.baseline = current
		d.primed = true
		return false
	}
	if !current.After(d.baseline) {
		return false
	}

	log.Printf("detector: change detected on '%s', waiting for writes to settle", path)
	for {
		latest, err := d.stat(path)
		if err != nil {
			log.Printf("detector: %v, ignoring", err)
			return false
		}
		if d.now().Sub(latest) > d.quiet {
			d.baseline = latest
			return true
		}
		d.sleep(d.poll)
	}
}
