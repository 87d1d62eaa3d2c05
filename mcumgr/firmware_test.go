package mcumgr

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/moffa90/go-mcumgr/image"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transfer"
	"github.com/moffa90/go-mcumgr/transport/sim"
)

// upgradeRecord collects the callbacks of one firmware upgrade.
type upgradeRecord struct {
	mu        sync.Mutex
	states    []UpgradeState
	progress  []uint64
	err       error
	finished  int
	cancelled int
	failed    int
	done      chan struct{}

	// onProgress runs after each progress callback is recorded
	onProgress func(sent uint64)
}

func newUpgradeRecord() *upgradeRecord {
	return &upgradeRecord{done: make(chan struct{})}
}

func (r *upgradeRecord) observer() UpgradeObserver {
	return UpgradeObserverFuncs{
		ObserverFuncs: transfer.ObserverFuncs{
			OnProgress: func(sent, _ uint64, _ time.Time) {
				r.mu.Lock()
				r.progress = append(r.progress, sent)
				hook := r.onProgress
				r.mu.Unlock()
				if hook != nil {
					hook(sent)
				}
			},
			OnFailed: func(err error) {
				r.mu.Lock()
				r.err = err
				r.failed++
				r.mu.Unlock()
				close(r.done)
			},
			OnCancelled: func() {
				r.mu.Lock()
				r.cancelled++
				r.mu.Unlock()
				close(r.done)
			},
			OnFinished: func() {
				r.mu.Lock()
				r.finished++
				r.mu.Unlock()
				close(r.done)
			},
		},
		OnStateChanged: func(_, to UpgradeState) {
			r.mu.Lock()
			r.states = append(r.states, to)
			r.mu.Unlock()
		},
	}
}

func (r *upgradeRecord) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade did not complete")
	}
}

func (r *upgradeRecord) progressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.progress)
}

// firmware returns an image payload large enough to take several chunks.
func firmware(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

// runningImage returns slot 0 of dev.
func runningImage(t *testing.T, dev *sim.Device) protocol.ImageSlot {
	t.Helper()
	state, err := NewImageManager(dev).List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(state.Images) == 0 {
		t.Fatal("device reports no image slots")
	}
	return state.Images[0]
}

func TestFirmwareUpgradeModes(t *testing.T) {
	tests := []struct {
		mode          UpgradeMode
		wantStates    []UpgradeState
		wantConfirmed bool
	}{
		{
			mode:          ModeTestAndConfirm,
			wantStates:    []UpgradeState{UpgradeValidate, UpgradeUpload, UpgradeTest, UpgradeReset, UpgradeConfirm, UpgradeSuccess},
			wantConfirmed: true,
		},
		{
			mode:          ModeTestOnly,
			wantStates:    []UpgradeState{UpgradeValidate, UpgradeUpload, UpgradeTest, UpgradeReset, UpgradeSuccess},
			wantConfirmed: false,
		},
		{
			mode:          ModeConfirmOnly,
			wantStates:    []UpgradeState{UpgradeValidate, UpgradeUpload, UpgradeConfirm, UpgradeReset, UpgradeSuccess},
			wantConfirmed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			dev := sim.New(sim.WithLogger(zaptest.NewLogger(t)))
			dfu := NewFirmwareUpgradeManager(dev, WithLogger(zaptest.NewLogger(t)), WithMtu(128))
			data := firmware(1000)

			rec := newUpgradeRecord()
			if err := dfu.Start(ctx, data, tt.mode, rec.observer()); err != nil {
				t.Fatalf("Start() error: %v", err)
			}
			rec.wait(t)

			if rec.finished != 1 || rec.failed != 0 || rec.cancelled != 0 {
				t.Fatalf("finished/failed/cancelled = %d/%d/%d, want 1/0/0 (err %v)",
					rec.finished, rec.failed, rec.cancelled, rec.err)
			}
			if diff := cmp.Diff(tt.wantStates, rec.states); diff != "" {
				t.Errorf("states mismatch (-want +got):\n%s", diff)
			}
			if n := len(rec.progress); n == 0 || rec.progress[n-1] != uint64(len(data)) {
				t.Errorf("progress = %v, want to end at %d", rec.progress, len(data))
			}
			if got := dfu.State(); got != UpgradeSuccess {
				t.Errorf("State() = %v, want success", got)
			}

			running := runningImage(t, dev)
			if !bytes.Equal(running.Hash, image.Hash(data)) || !running.Active {
				t.Fatalf("running image = %+v, want the upgraded image", running)
			}
			if running.Confirmed != tt.wantConfirmed {
				t.Errorf("running image confirmed = %v, want %v", running.Confirmed, tt.wantConfirmed)
			}
		})
	}
}

func TestFirmwareUpgradeAlreadyInstalled(t *testing.T) {
	dev := sim.New(sim.WithLogger(zaptest.NewLogger(t)))
	dfu := NewFirmwareUpgradeManager(dev, WithLogger(zaptest.NewLogger(t)))
	data := firmware(300)

	first := newUpgradeRecord()
	if err := dfu.Start(ctx, data, ModeTestAndConfirm, first.observer()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	first.wait(t)

	again := newUpgradeRecord()
	if err := dfu.Start(ctx, data, ModeTestAndConfirm, again.observer()); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	again.wait(t)

	want := []UpgradeState{UpgradeValidate, UpgradeSuccess}
	if diff := cmp.Diff(want, again.states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
	if again.finished != 1 || len(again.progress) != 0 {
		t.Errorf("finished = %d, progress = %v; want 1 and no upload", again.finished, again.progress)
	}
}

func TestFirmwareUpgradeStartErrors(t *testing.T) {
	dev := sim.New(sim.WithLatency(20 * time.Millisecond))
	dfu := NewFirmwareUpgradeManager(dev, WithLogger(zaptest.NewLogger(t)))

	if err := dfu.Start(ctx, nil, ModeTestOnly, nil); !errors.Is(err, image.ErrEmptyImage) {
		t.Errorf("Start(empty) error = %v, want ErrEmptyImage", err)
	}
	if err := dfu.Start(ctx, firmware(10), UpgradeMode(9), nil); err == nil {
		t.Error("Start(unknown mode) succeeded")
	}

	rec := newUpgradeRecord()
	if err := dfu.Start(ctx, firmware(10), ModeTestOnly, rec.observer()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := dfu.Start(ctx, firmware(10), ModeTestOnly, nil); !errors.Is(err, ErrUpgradeInProgress) {
		t.Errorf("concurrent Start() error = %v, want ErrUpgradeInProgress", err)
	}
	rec.wait(t)
}

func TestFirmwareUpgradePauseDuringUpload(t *testing.T) {
	dev := sim.New(sim.WithLatency(2*time.Millisecond), sim.WithLogger(zaptest.NewLogger(t)))
	dfu := NewFirmwareUpgradeManager(dev, WithLogger(zaptest.NewLogger(t)), WithMtu(128))
	data := firmware(2000)

	paused := make(chan struct{})
	var once sync.Once
	rec := newUpgradeRecord()
	rec.onProgress = func(uint64) {
		once.Do(func() {
			dfu.Pause()
			close(paused)
		})
	}
	if err := dfu.Start(ctx, data, ModeTestAndConfirm, rec.observer()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-paused:
	case <-time.After(5 * time.Second):
		t.Fatal("upload made no progress")
	}
	// Let the chunk in flight at the time of the pause land.
	time.Sleep(50 * time.Millisecond)
	before := rec.progressCount()
	time.Sleep(50 * time.Millisecond)
	if got := rec.progressCount(); got != before {
		t.Errorf("progress advanced while paused: %d -> %d", before, got)
	}
	if !dfu.Paused() || dfu.State() != UpgradeUpload {
		t.Errorf("Paused() = %v, State() = %v; want paused upload", dfu.Paused(), dfu.State())
	}
	if got := dfu.Image().UploadState(); got != transfer.StatePaused {
		t.Errorf("uploader state = %v, want paused", got)
	}

	dfu.Resume()
	rec.wait(t)
	if rec.finished != 1 {
		t.Fatalf("upgrade did not finish: %v", rec.err)
	}
	if running := runningImage(t, dev); !bytes.Equal(running.Hash, image.Hash(data)) || !running.Confirmed {
		t.Errorf("running image = %+v, want the upgraded image confirmed", running)
	}
}

func TestFirmwareUpgradeCancelDuringUpload(t *testing.T) {
	tests := []struct {
		name  string
		pause bool
	}{
		{name: "transferring"},
		{name: "paused", pause: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := sim.New(sim.WithLatency(2*time.Millisecond), sim.WithLogger(zaptest.NewLogger(t)))
			dfu := NewFirmwareUpgradeManager(dev, WithLogger(zaptest.NewLogger(t)), WithMtu(128))
			data := firmware(2000)
			boot := runningImage(t, dev)

			var once sync.Once
			rec := newUpgradeRecord()
			rec.onProgress = func(uint64) {
				once.Do(func() {
					if tt.pause {
						dfu.Pause()
					}
					dfu.Cancel()
				})
			}
			if err := dfu.Start(ctx, data, ModeTestAndConfirm, rec.observer()); err != nil {
				t.Fatalf("Start() error: %v", err)
			}
			rec.wait(t)
			// A second terminal callback would panic on the closed channel.
			time.Sleep(20 * time.Millisecond)

			if rec.cancelled != 1 || rec.failed != 0 || rec.finished != 0 {
				t.Fatalf("cancelled/failed/finished = %d/%d/%d, want 1/0/0",
					rec.cancelled, rec.failed, rec.finished)
			}
			want := []UpgradeState{UpgradeValidate, UpgradeUpload}
			if diff := cmp.Diff(want, rec.states); diff != "" {
				t.Errorf("states mismatch (-want +got):\n%s", diff)
			}
			if got := dfu.State(); got != UpgradeNone {
				t.Errorf("State() = %v, want none", got)
			}
			if running := runningImage(t, dev); !bytes.Equal(running.Hash, boot.Hash) {
				t.Errorf("running image changed after cancel: %+v", running)
			}

			// The manager accepts a new upgrade afterwards.
			next := newUpgradeRecord()
			if err := dfu.Start(ctx, data, ModeTestOnly, next.observer()); err != nil {
				t.Fatalf("Start() after cancel error: %v", err)
			}
			next.wait(t)
			if next.finished != 1 {
				t.Errorf("upgrade after cancel did not finish: %v", next.err)
			}
		})
	}
}

// failImageState fails image state writes whose confirm flag equals confirm.
func failImageState(confirm bool) sim.Fault {
	return func(req sim.Request) (uint64, error) {
		h := req.Header
		if h.Op != protocol.OpWrite || h.Group != protocol.GroupImage || h.Command != protocol.CmdImageState {
			return 0, nil
		}
		got := false
		if v, ok := req.Payload.Get("confirm"); ok {
			got, _ = v.Bool()
		}
		if got == confirm {
			return uint64(protocol.RCBadState), nil
		}
		return 0, nil
	}
}

func TestFirmwareUpgradeStepFailures(t *testing.T) {
	tests := []struct {
		name       string
		mode       UpgradeMode
		fault      sim.Fault
		wantState  UpgradeState
		wantStates []UpgradeState
	}{
		{
			name:       "test rejected",
			mode:       ModeTestAndConfirm,
			fault:      failImageState(false),
			wantState:  UpgradeTest,
			wantStates: []UpgradeState{UpgradeValidate, UpgradeUpload, UpgradeTest},
		},
		{
			name:       "confirm after reset rejected",
			mode:       ModeTestAndConfirm,
			fault:      failImageState(true),
			wantState:  UpgradeConfirm,
			wantStates: []UpgradeState{UpgradeValidate, UpgradeUpload, UpgradeTest, UpgradeReset, UpgradeConfirm},
		},
		{
			name:       "confirm before reset rejected",
			mode:       ModeConfirmOnly,
			fault:      failImageState(true),
			wantState:  UpgradeConfirm,
			wantStates: []UpgradeState{UpgradeValidate, UpgradeUpload, UpgradeConfirm},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := sim.New(sim.WithFault(tt.fault), sim.WithLogger(zaptest.NewLogger(t)))
			dfu := NewFirmwareUpgradeManager(dev, WithLogger(zaptest.NewLogger(t)))

			rec := newUpgradeRecord()
			if err := dfu.Start(ctx, firmware(500), tt.mode, rec.observer()); err != nil {
				t.Fatalf("Start() error: %v", err)
			}
			rec.wait(t)

			if rec.failed != 1 || rec.finished != 0 || rec.cancelled != 0 {
				t.Fatalf("failed/finished/cancelled = %d/%d/%d, want 1/0/0",
					rec.failed, rec.finished, rec.cancelled)
			}
			var uerr *UpgradeError
			if !errors.As(rec.err, &uerr) {
				t.Fatalf("error = %T %v, want *UpgradeError", rec.err, rec.err)
			}
			if uerr.State != tt.wantState {
				t.Errorf("failed in %v, want %v", uerr.State, tt.wantState)
			}
			if !protocol.IsReturnCodeError(rec.err) {
				t.Errorf("error %v does not carry the return code", rec.err)
			}
			if diff := cmp.Diff(tt.wantStates, rec.states); diff != "" {
				t.Errorf("states mismatch (-want +got):\n%s", diff)
			}
			if got := dfu.State(); got != UpgradeNone {
				t.Errorf("State() = %v, want none", got)
			}
		})
	}
}

func TestParseUpgradeMode(t *testing.T) {
	for _, mode := range []UpgradeMode{ModeTestAndConfirm, ModeTestOnly, ModeConfirmOnly} {
		got, err := ParseUpgradeMode(mode.String())
		if err != nil || got != mode {
			t.Errorf("ParseUpgradeMode(%q) = %v, %v; want %v", mode.String(), got, err, mode)
		}
	}
	if _, err := ParseUpgradeMode("flash"); err == nil {
		t.Error("ParseUpgradeMode(flash) succeeded")
	}
}
