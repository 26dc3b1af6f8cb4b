// Package autorun re-runs processing when a session's input, options or
// credentials change after a first successful run. At most one request is
// in flight per runner; changes arriving meanwhile collapse into a single
// pending slot that only remembers the latest snapshot.
package autorun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"waorganizer/internal/domain"

	log "github.com/sirupsen/logrus"
)

var ErrBusy = errors.New("a request is already in flight")

// Snapshot is everything a run depends on.
type Snapshot struct {
	Input    string                   `json:"input"`
	Options  domain.ProcessingOptions `json:"options"`
	Settings domain.Settings          `json:"settings"`
}

func Signature(s Snapshot) string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RunFunc performs one run and reports its outcome to the user.
type RunFunc func(ctx context.Context, trigger domain.Trigger, snap Snapshot, signature string) error

type Runner struct {
	ctx context.Context
	run RunFunc
	wg  sync.WaitGroup

	mu           sync.Mutex
	inFlight     bool
	pending      *Snapshot
	lastSig      string
	failedSig    string
	hasProcessed bool
	// generation is bumped by Reset so a run that was in flight does not
	// restore state the user just cleared.
	generation uint64
}

// New returns a runner whose background runs use ctx.
func New(ctx context.Context, run RunFunc) *Runner {
	return &Runner{ctx: ctx, run: run}
}

// Busy reports whether a request is outstanding.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// RunManual runs snap synchronously with the manual trigger.
func (r *Runner) RunManual(ctx context.Context, snap Snapshot) error {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return ErrBusy
	}
	r.inFlight = true
	gen := r.generation
	r.mu.Unlock()

	sig := Signature(snap)
	err := r.run(ctx, domain.TriggerManual, snap, sig)
	r.finish(gen, sig, err)
	return err
}

// Changed is called after every edit to input, options or settings.
func (r *Runner) Changed(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Pending snapshots are judged when the current run finishes, since that
	// run may be the first success.
	if r.inFlight {
		r.pending = &snap
		return
	}
	if !r.eligibleLocked(snap) {
		return
	}
	r.startLocked(snap)
}

// Reset forgets everything, as "clear all" does.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	r.lastSig = ""
	r.failedSig = ""
	r.hasProcessed = false
	r.generation++
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) eligibleLocked(snap Snapshot) bool {
	if !r.hasProcessed {
		return false
	}
	if strings.TrimSpace(snap.Input) == "" || strings.TrimSpace(snap.Settings.APIKey) == "" || strings.TrimSpace(snap.Settings.Endpoint) == "" {
		return false
	}
	sig := Signature(snap)
	return sig != r.lastSig && sig != r.failedSig
}

func (r *Runner) startLocked(snap Snapshot) {
	r.inFlight = true
	gen := r.generation
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sig := Signature(snap)
		err := r.run(r.ctx, domain.TriggerAuto, snap, sig)
		if err != nil {
			log.Printf("autorun auto run failed signature=%.12s: %v", sig, err)
		}
		r.finish(gen, sig, err)
	}()
}

func (r *Runner) finish(gen uint64, sig string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
	if gen == r.generation {
		if err == nil {
			r.lastSig = sig
			r.failedSig = ""
			r.hasProcessed = true
		} else {
			r.failedSig = sig
		}
	}

	next := r.pending
	r.pending = nil
	if next != nil && r.ctx.Err() == nil && r.eligibleLocked(*next) {
		r.startLocked(*next)
	}
}
