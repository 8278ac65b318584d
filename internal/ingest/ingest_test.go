// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tomtom215/rinexpipe/internal/layout"
	"github.com/tomtom215/rinexpipe/internal/procctl"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/stations"
)

// fakeProcess exits on SIGTERM or SIGKILL.
type fakeProcess struct {
	pid  int
	mu   sync.Mutex
	sigs []unix.Signal
	once sync.Once
	done chan struct{}
}

func (f *fakeProcess) Signal(sig unix.Signal) error {
	f.mu.Lock()
	f.sigs = append(f.sigs, sig)
	f.mu.Unlock()
	if sig == unix.SIGTERM || sig == unix.SIGKILL {
		f.exit()
	}
	return nil
}

func (f *fakeProcess) Done() <-chan struct{} { return f.done }
func (f *fakeProcess) Pid() int              { return f.pid }
func (f *fakeProcess) exit()                 { f.once.Do(func() { close(f.done) }) }

func (f *fakeProcess) signals() []unix.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]unix.Signal(nil), f.sigs...)
}

type fakeSpawner struct {
	mu      sync.Mutex
	next    int
	spawned map[string][]*fakeProcess
	fail    map[string]bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawned: make(map[string][]*fakeProcess), fail: make(map[string]bool)}
}

func (f *fakeSpawner) Spawn(src stations.Source) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[src.ID] {
		return nil, errors.New("spawn refused")
	}
	f.next++
	p := &fakeProcess{pid: 1000 + f.next, done: make(chan struct{})}
	f.spawned[src.ID] = append(f.spawned[src.ID], p)
	return p, nil
}

func (f *fakeSpawner) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned[id])
}

func (f *fakeSpawner) last(id string) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	ps := f.spawned[id]
	return ps[len(ps)-1]
}

func set(ids ...string) stations.DesiredSet {
	d := make(stations.DesiredSet, len(ids))
	for _, id := range ids {
		d[id] = stations.Source{ID: id, OutputID: id + "00FRA"}
	}
	return d
}

var testPolicy = procctl.StopPolicy{TerminateWait: time.Second, KillWait: time.Second}

func TestReconcile_LiveSetMatchesDesired(t *testing.T) {
	tests := []struct {
		name   string
		d1, d2 []string
	}{
		{"grow", []string{"A"}, []string{"A", "B", "C"}},
		{"shrink", []string{"A", "B", "C"}, []string{"B"}},
		{"disjoint", []string{"A", "B"}, []string{"C", "D"}},
		{"empty", []string{"A", "B"}, nil},
		{"from empty", nil, []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(newFakeSpawner(), testPolicy)
			st := NewState()
			r.Reconcile(st, set(tt.d1...))
			r.Reconcile(st, set(tt.d2...))

			want := append([]string{}, tt.d2...)
			sort.Strings(want)
			if got := st.Live(); !reflect.DeepEqual(got, want) && !(len(got) == 0 && len(want) == 0) {
				t.Errorf("Live() = %v, want %v", got, want)
			}
		})
	}
}

func TestStart_Idempotent(t *testing.T) {
	sp := newFakeSpawner()
	r := NewReconciler(sp, testPolicy)
	st := NewState()
	src := stations.Source{ID: "A", OutputID: "A00FRA"}

	first, err := r.Start(st, src)
	if err != nil || !first {
		t.Fatalf("first Start() = %v, %v", first, err)
	}
	second, err := r.Start(st, src)
	if err != nil || second {
		t.Fatalf("second Start() = %v, %v", second, err)
	}
	if sp.count("A") != 1 {
		t.Errorf("spawned %d processes, want 1", sp.count("A"))
	}

	stopped, _ := r.StopIDs(st, "A")
	again, _ := r.StopIDs(st, "A")
	if len(stopped) != 1 || len(again) != 0 {
		t.Errorf("StopIDs() = %v then %v", stopped, again)
	}
}

func TestReconcile_RemovedSourceIsTerminated(t *testing.T) {
	sp := newFakeSpawner()
	r := NewReconciler(sp, testPolicy)
	st := NewState()

	r.Reconcile(st, set("A", "B"))
	b := sp.last("B")

	res := r.Reconcile(st, set("A"))
	if !reflect.DeepEqual(res.Stopped, []string{"B"}) {
		t.Errorf("Stopped = %v", res.Stopped)
	}
	if !reflect.DeepEqual(st.Live(), []string{"A"}) {
		t.Errorf("Live() = %v", st.Live())
	}
	select {
	case <-b.Done():
	default:
		t.Error("B not terminated")
	}
	if sigs := b.signals(); len(sigs) != 1 || sigs[0] != unix.SIGTERM {
		t.Errorf("B received %v, want a single SIGTERM", sigs)
	}
	if len(sp.last("A").signals()) != 0 {
		t.Error("A should not be signalled")
	}
}

func TestReconcile_ChangedSourceRestarts(t *testing.T) {
	sp := newFakeSpawner()
	r := NewReconciler(sp, testPolicy)
	st := NewState()

	r.Reconcile(st, set("A"))
	old := sp.last("A")

	moved := set("A")
	moved["A"] = stations.Source{ID: "A", OutputID: "A01FRA"}
	res := r.Reconcile(st, moved)

	if !reflect.DeepEqual(res.Stopped, []string{"A"}) || !reflect.DeepEqual(res.Started, []string{"A"}) {
		t.Errorf("result = %+v", res)
	}
	select {
	case <-old.Done():
	default:
		t.Error("old worker still running")
	}
	if h, _ := st.Handle("A"); h.Source.OutputID != "A01FRA" || sp.count("A") != 2 {
		t.Errorf("handle = %+v, spawns = %d", h.Source, sp.count("A"))
	}
}

func TestReconcile_ExitedAndFailedWorkers(t *testing.T) {
	sp := newFakeSpawner()
	sp.fail["C"] = true
	r := NewReconciler(sp, testPolicy)
	st := NewState()

	res := r.Reconcile(st, set("A", "C"))
	if !reflect.DeepEqual(res.Failed, []string{"C"}) {
		t.Errorf("Failed = %v", res.Failed)
	}

	sp.last("A").exit()
	sp.mu.Lock()
	sp.fail["C"] = false
	sp.mu.Unlock()

	res = r.Reconcile(st, set("A", "C"))
	if !reflect.DeepEqual(res.Exited, []string{"A"}) || !reflect.DeepEqual(res.Started, []string{"A", "C"}) {
		t.Errorf("second pass = %+v", res)
	}
	if sp.count("A") != 2 {
		t.Errorf("A spawned %d times, want 2", sp.count("A"))
	}
}

func TestReconcile_RealProcessStopsWithinGrace(t *testing.T) {
	sp := ProcessSpawner{Executable: "/bin/sh", BaseArgs: []string{"-c", "exec sleep 30", "sh"}}
	if got := sp.Args("B"); !reflect.DeepEqual(got, []string{"-c", "exec sleep 30", "sh", "worker", "B"}) {
		t.Fatalf("Args() = %v", got)
	}

	r := NewReconciler(sp, procctl.StopPolicy{TerminateWait: 2 * time.Second, KillWait: time.Second})
	st := NewState()
	r.Reconcile(st, set("A", "B"))
	h, _ := st.Handle("B")
	proc := h.Process

	started := time.Now()
	res := r.Reconcile(st, set("A"))
	if !reflect.DeepEqual(res.Stopped, []string{"B"}) {
		t.Errorf("Stopped = %v, abandoned = %v", res.Stopped, res.Abandoned)
	}
	if time.Since(started) > 3*time.Second {
		t.Errorf("stop took %s", time.Since(started))
	}
	select {
	case <-proc.Done():
	default:
		t.Error("B still running")
	}

	stopped, _ := r.StopAll(st)
	if !reflect.DeepEqual(stopped, []string{"A"}) || st.Len() != 0 {
		t.Errorf("StopAll() = %v, live %v", stopped, st.Live())
	}
}

func TestStopIDs_KillsWorkerChildren(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "client.pid")
	// The worker dies on SIGTERM while its client ignores it.
	sp := ProcessSpawner{Executable: "/bin/sh", BaseArgs: []string{
		"-c", `(trap "" INT TERM; exec sleep 30) & echo $! > "$0"; wait`, pidFile,
	}}
	if spec := sp.Spec("B"); spec.ParentDeathSignal != unix.SIGTERM {
		t.Errorf("worker ParentDeathSignal = %v, want SIGTERM", spec.ParentDeathSignal)
	}

	r := NewReconciler(sp, procctl.StopPolicy{TerminateWait: 2 * time.Second, KillWait: time.Second})
	st := NewState()
	r.Reconcile(st, set("B"))
	client := waitPidFile(t, pidFile)

	stopped, abandoned := r.StopIDs(st, "B")
	if !reflect.DeepEqual(stopped, []string{"B"}) || len(abandoned) != 0 {
		t.Fatalf("StopIDs() = %v, abandoned %v", stopped, abandoned)
	}
	waitGone(t, client)
}

func waitPidFile(t *testing.T, path string) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no pid written to %s", path)
	return 0
}

// waitGone fails unless pid exits within five seconds. A zombie counts as
// gone: a container's pid 1 may never reap it.
func waitGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return
		}
		stat := string(data)
		if i := strings.LastIndexByte(stat, ')'); i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z' {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("pid %d still running", pid)
}

func writeList(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func liveIDs(s *Supervisor) []string {
	var ids []string
	for _, w := range s.Workers() {
		ids = append(ids, w.ID)
	}
	return ids
}

func TestSupervisor_Serve(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "stations.list")
	writeList(t, list, "# test list\nA A00FRA\nB B00FRA\n")

	sp := newFakeSpawner()
	cfg := Config{
		PollInterval:      time.Hour,
		SignatureInterval: 20 * time.Millisecond,
		StationsList:      list,
		StaleThreshold:    time.Hour,
		StateDir:          state.Dir(dir),
		Layout:            layout.Layout{RawRoot: filepath.Join(dir, "raw"), RawSuffix: "RTCM3", RawExt: "rtcm3"},
		Stop:              testPolicy,
	}
	s := New(cfg, sp)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	waitFor(t, "startup reconcile", func() bool { return reflect.DeepEqual(liveIDs(s), []string{"A", "B"}) })
	waitFor(t, "heartbeat", func() bool {
		_, err := state.ReadHeartbeat(cfg.StateDir.HeartbeatPath(state.Supervisor))
		return err == nil
	})

	// The signature poll picks up the edit well before the hourly interval.
	writeList(t, list, "A A00FRA\n")
	waitFor(t, "signature reconcile", func() bool { return reflect.DeepEqual(liveIDs(s), []string{"A"}) })

	// An unreadable list keeps the current workers.
	if err := os.Remove(list); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := liveIDs(s); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("workers after list removal = %v", got)
	}

	a := sp.last("A")
	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
	select {
	case <-a.Done():
	default:
		t.Error("shutdown left A running")
	}
	if len(s.Workers()) != 0 {
		t.Errorf("Workers() after shutdown = %v", s.Workers())
	}
}

func TestSupervisor_SecondInstanceLocked(t *testing.T) {
	dir := state.Dir(t.TempDir())
	lock, err := state.AcquireLock(dir.LockPath(state.Supervisor))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lock.Release() }()

	s := New(Config{PollInterval: time.Second, SignatureInterval: time.Second, StateDir: dir}, newFakeSpawner())
	if err := s.Serve(context.Background()); !errors.Is(err, state.ErrLocked) {
		t.Errorf("Serve() = %v, want ErrLocked", err)
	}
}

func TestObserveFreshness(t *testing.T) {
	dir := t.TempDir()
	l := layout.Layout{RawRoot: dir, RawSuffix: "RTCM3", RawExt: "rtcm3"}
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

	s := New(Config{StaleThreshold: 5 * time.Minute, Layout: l, Stop: testPolicy}, newFakeSpawner())
	if _, err := s.reconciler.Start(s.st, stations.Source{ID: "A"}); err != nil {
		t.Fatal(err)
	}
	h, _ := s.st.Handle("A")
	h.Started = now.Add(-time.Hour)

	raw := filepath.Join(l.RawDir("A", now), l.RawName("A", now.Add(-10*time.Minute)))
	if err := os.MkdirAll(filepath.Dir(raw), 0o755); err != nil {
		t.Fatal(err)
	}
	writeList(t, raw, "rtcm")
	mtime := now.Add(-10 * time.Minute)
	if err := os.Chtimes(raw, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	s.observeFreshness(now)
	if !h.LastFresh.Equal(mtime) || !h.LastWarn.Equal(now) {
		t.Fatalf("handle = %+v", h)
	}
	s.observeFreshness(now.Add(time.Minute))
	if !h.LastWarn.Equal(now) {
		t.Errorf("warned again within the window: %v", h.LastWarn)
	}
	s.observeFreshness(now.Add(5 * time.Minute))
	if !h.LastWarn.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("expected a new warning after the window, LastWarn = %v", h.LastWarn)
	}
}
