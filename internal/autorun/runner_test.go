package autorun

import (
	"context"
	"errors"
	"sync"
	"testing"

	"waorganizer/internal/domain"
)

type call struct {
	trigger domain.Trigger
	input   string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
	gate  chan struct{}
}

func (rec *recorder) run(_ context.Context, trigger domain.Trigger, snap Snapshot, _ string) error {
	if rec.gate != nil && trigger == domain.TriggerAuto {
		<-rec.gate
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, call{trigger: trigger, input: snap.Input})
	if rec.fail[snap.Input] {
		return errors.New("provider down")
	}
	return nil
}

func (rec *recorder) snapshot() []call {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]call(nil), rec.calls...)
}

func snap(input string) Snapshot {
	return Snapshot{
		Input:    input,
		Options:  domain.DefaultOptions(),
		Settings: domain.Settings{APIKey: "k", Endpoint: "https://example.test"},
	}
}

func TestSignatureChangesWithEveryField(t *testing.T) {
	base := snap("Ali")
	withOpts := base
	withOpts.Options.MergeDuplicates = true
	withKey := base
	withKey.Settings.APIKey = "other"

	sigs := map[string]bool{Signature(base): true, Signature(withOpts): true, Signature(withKey): true}
	if len(sigs) != 3 {
		t.Fatalf("expected distinct signatures, got %d", len(sigs))
	}
	if Signature(base) != Signature(snap("Ali")) {
		t.Fatal("signature should be stable")
	}
}

func TestNoAutoRunBeforeFirstSuccess(t *testing.T) {
	rec := &recorder{}
	r := New(context.Background(), rec.run)

	r.Changed(snap("Ali"))
	r.Wait()
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no runs before first manual success, got %+v", calls)
	}
}

func TestManualBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := New(context.Background(), func(ctx context.Context, trigger domain.Trigger, s Snapshot, sig string) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- r.RunManual(context.Background(), snap("Ali")) }()
	<-started

	if !r.Busy() {
		t.Fatal("runner should report busy")
	}
	if err := r.RunManual(context.Background(), snap("Sara")); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if r.Busy() {
		t.Fatal("runner should be idle")
	}
}

func TestChangedCoalescesToLatest(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	r := New(context.Background(), rec.run)

	if err := r.RunManual(context.Background(), snap("v1")); err != nil {
		t.Fatalf("RunManual failed: %v", err)
	}

	r.Changed(snap("v2"))
	r.Changed(snap("v3"))
	r.Changed(snap("v4"))
	close(rec.gate)
	r.Wait()

	calls := rec.snapshot()
	want := []call{
		{domain.TriggerManual, "v1"},
		{domain.TriggerAuto, "v2"},
		{domain.TriggerAuto, "v4"},
	}
	if len(calls) != len(want) {
		t.Fatalf("unexpected calls %+v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestChangedIgnoresSameSignatureAndIncompleteSnapshots(t *testing.T) {
	rec := &recorder{}
	r := New(context.Background(), rec.run)
	if err := r.RunManual(context.Background(), snap("Ali")); err != nil {
		t.Fatalf("RunManual failed: %v", err)
	}

	r.Changed(snap("Ali"))
	r.Changed(snap("   "))
	noKey := snap("Sara")
	noKey.Settings.APIKey = ""
	r.Changed(noKey)
	noEndpoint := snap("Sara")
	noEndpoint.Settings.Endpoint = ""
	r.Changed(noEndpoint)
	r.Wait()

	if calls := rec.snapshot(); len(calls) != 1 {
		t.Fatalf("expected only the manual run, got %+v", calls)
	}
}

func TestFailedSignatureIsNotRetriedAutomatically(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"bad": true}}
	r := New(context.Background(), rec.run)
	if err := r.RunManual(context.Background(), snap("good")); err != nil {
		t.Fatalf("RunManual failed: %v", err)
	}

	r.Changed(snap("bad"))
	r.Wait()
	r.Changed(snap("bad"))
	r.Wait()
	if calls := rec.snapshot(); len(calls) != 2 {
		t.Fatalf("failed snapshot should run once, got %+v", calls)
	}

	if err := r.RunManual(context.Background(), snap("bad")); err == nil {
		t.Fatal("manual retry should still reach the provider and fail")
	}
	r.Changed(snap("better"))
	r.Wait()
	calls := rec.snapshot()
	if len(calls) != 4 || calls[3] != (call{domain.TriggerAuto, "better"}) {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestResetStopsAutoRuns(t *testing.T) {
	rec := &recorder{}
	r := New(context.Background(), rec.run)
	if err := r.RunManual(context.Background(), snap("Ali")); err != nil {
		t.Fatalf("RunManual failed: %v", err)
	}
	r.Reset()
	r.Changed(snap("Sara"))
	r.Wait()
	if calls := rec.snapshot(); len(calls) != 1 {
		t.Fatalf("expected no auto run after reset, got %+v", calls)
	}
}

func TestResetDuringFlightDiscardsOutcome(t *testing.T) {
	rec := &recorder{gate: make(chan struct{})}
	r := New(context.Background(), rec.run)
	if err := r.RunManual(context.Background(), snap("v1")); err != nil {
		t.Fatalf("RunManual failed: %v", err)
	}
	r.Changed(snap("v2"))
	r.Changed(snap("v3"))
	r.Reset()
	close(rec.gate)
	r.Wait()

	r.Changed(snap("v5"))
	r.Wait()
	calls := rec.snapshot()
	if len(calls) != 2 || calls[1].input != "v2" {
		t.Fatalf("pending work should be dropped by reset, got %+v", calls)
	}
}

func TestChangeDuringFirstManualRunIsReplayed(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	r := New(context.Background(), func(ctx context.Context, trigger domain.Trigger, s Snapshot, sig string) error {
		if trigger == domain.TriggerManual {
			close(started)
			<-release
		}
		return rec.run(ctx, trigger, s, sig)
	})

	done := make(chan error, 1)
	go func() { done <- r.RunManual(context.Background(), snap("v1")) }()
	<-started
	r.Changed(snap("v2"))
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("RunManual failed: %v", err)
	}
	r.Wait()

	calls := rec.snapshot()
	if len(calls) != 2 || calls[1] != (call{domain.TriggerAuto, "v2"}) {
		t.Fatalf("expected the edit made during the first run to be replayed, got %+v", calls)
	}
}
