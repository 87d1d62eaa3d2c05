package mcumgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/image"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transfer"
	"github.com/moffa90/go-mcumgr/transport"
)

// UpgradeMode selects how a new image is activated.
type UpgradeMode int

const (
	// ModeTestAndConfirm tests the image, resets into it and confirms it
	// once it runs. A device that fails to boot the image reverts.
	ModeTestAndConfirm UpgradeMode = iota

	// ModeTestOnly tests the image and resets. The image runs once and the
	// device reverts on the next reset unless it is confirmed.
	ModeTestOnly

	// ModeConfirmOnly confirms the image before resetting into it.
	ModeConfirmOnly
)

var modeNames = map[UpgradeMode]string{
	ModeTestAndConfirm: "test-and-confirm",
	ModeTestOnly:       "test-only",
	ModeConfirmOnly:    "confirm-only",
}

func (m UpgradeMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("UpgradeMode(%d)", int(m))
}

// ParseUpgradeMode parses the name returned by UpgradeMode.String.
func ParseUpgradeMode(s string) (UpgradeMode, error) {
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown upgrade mode %q", s)
}

// UpgradeState is a step of a firmware upgrade.
type UpgradeState int

const (
	UpgradeNone UpgradeState = iota
	UpgradeValidate
	UpgradeUpload
	UpgradeTest
	UpgradeReset
	UpgradeConfirm
	UpgradeSuccess
)

func (s UpgradeState) String() string {
	switch s {
	case UpgradeNone:
		return "none"
	case UpgradeValidate:
		return "validate"
	case UpgradeUpload:
		return "upload"
	case UpgradeTest:
		return "test"
	case UpgradeReset:
		return "reset"
	case UpgradeConfirm:
		return "confirm"
	case UpgradeSuccess:
		return "success"
	default:
		return fmt.Sprintf("UpgradeState(%d)", int(s))
	}
}

// UpgradeObserver receives the upload progress and the state changes of a
// firmware upgrade. Exactly one of Failed, Cancelled or Finished is called
// per upgrade. Failed receives an *UpgradeError.
type UpgradeObserver interface {
	transfer.Observer
	StateChanged(from, to UpgradeState)
}

// UpgradeObserverFuncs adapts plain functions to UpgradeObserver. Nil
// fields are skipped.
type UpgradeObserverFuncs struct {
	transfer.ObserverFuncs
	OnStateChanged func(from, to UpgradeState)
}

func (f UpgradeObserverFuncs) StateChanged(from, to UpgradeState) {
	if f.OnStateChanged != nil {
		f.OnStateChanged(from, to)
	}
}

// FirmwareUpgradeManager uploads an image and walks the device through
// testing, resetting and confirming it.
//
// Only one upgrade runs at a time. Pause, Resume and Cancel are safe to call
// from any goroutine, including from observer callbacks.
type FirmwareUpgradeManager struct {
	image  *ImageManager
	os     *DefaultManager
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	state     UpgradeState
	running   bool
	uploading bool
	cancelled bool
	cancel    context.CancelFunc
	resumed   chan struct{} // non-nil while paused
}

// NewFirmwareUpgradeManager creates an upgrade manager that talks to the
// image and default groups over t.
//
// Example:
//
//	dfu := mcumgr.NewFirmwareUpgradeManager(t, mcumgr.WithResetDelay(5*time.Second))
//	err := dfu.Start(ctx, img.Data, mcumgr.ModeTestAndConfirm, mcumgr.UpgradeObserverFuncs{
//	    OnStateChanged: func(from, to mcumgr.UpgradeState) { fmt.Println(from, "->", to) },
//	})
func NewFirmwareUpgradeManager(t transport.Transport, opts ...Option) *FirmwareUpgradeManager {
	img := NewImageManager(t, opts...)
	return &FirmwareUpgradeManager{
		image:  img,
		os:     NewDefaultManager(t, opts...),
		config: img.config,
		logger: img.config.Logger.With(zap.String("component", "dfu")),
	}
}

// Image returns the image manager the upgrade uploads through.
func (m *FirmwareUpgradeManager) Image() *ImageManager {
	return m.image
}

// Start begins upgrading the device to data in the background. It returns
// ErrUpgradeInProgress while another upgrade runs. Cancelling ctx cancels
// the upgrade.
func (m *FirmwareUpgradeManager) Start(ctx context.Context, data []byte, mode UpgradeMode, obs UpgradeObserver) error {
	if len(data) == 0 {
		return image.ErrEmptyImage
	}
	if _, ok := modeNames[mode]; !ok {
		return fmt.Errorf("unknown upgrade mode %d", int(mode))
	}
	if obs == nil {
		obs = UpgradeObserverFuncs{}
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrUpgradeInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancelled = false
	m.cancel = cancel
	m.resumed = nil
	m.state = UpgradeNone
	m.mu.Unlock()

	m.logger.Info("firmware upgrade started",
		zap.Stringer("mode", mode),
		zap.Int("size", len(data)))

	u := &upgrade{
		m:    m,
		ctx:  ctx,
		data: data,
		hash: image.Hash(data),
		mode: mode,
		obs:  obs,
	}
	go u.run(cancel)
	return nil
}

// Pause holds the upgrade. An upload in progress stops after its in-flight
// chunk; otherwise the upgrade waits before its next step.
func (m *FirmwareUpgradeManager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.resumed != nil {
		return
	}
	m.resumed = make(chan struct{})
	if m.uploading {
		m.image.PauseUpload()
	}
	m.logger.Debug("firmware upgrade paused", zap.Stringer("state", m.state))
}

// Resume continues a paused upgrade.
func (m *FirmwareUpgradeManager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumed == nil {
		return
	}
	close(m.resumed)
	m.resumed = nil
	if m.uploading {
		m.image.ResumeUpload()
	}
	m.logger.Debug("firmware upgrade resumed", zap.Stringer("state", m.state))
}

// Cancel stops the upgrade. The observer's Cancelled is called once the
// current step has wound down. Cancel is a no-op when no upgrade runs.
func (m *FirmwareUpgradeManager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.cancelled {
		return
	}
	m.cancelled = true
	m.cancel()
}

// State returns the current step, UpgradeSuccess after a completed upgrade
// or UpgradeNone.
func (m *FirmwareUpgradeManager) State() UpgradeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Paused reports whether the upgrade is paused.
func (m *FirmwareUpgradeManager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumed != nil
}

// upgrade is one run of the state machine.
type upgrade struct {
	m    *FirmwareUpgradeManager
	ctx  context.Context
	data []byte
	hash []byte
	mode UpgradeMode
	obs  UpgradeObserver

	// booted is set once the device has been reset into the new image
	booted bool
}

type step func() (UpgradeState, error)

func (u *upgrade) run(cancel context.CancelFunc) {
	defer cancel()

	steps := map[UpgradeState]step{
		UpgradeValidate: u.validate,
		UpgradeUpload:   u.upload,
		UpgradeTest:     u.test,
		UpgradeReset:    u.reset,
		UpgradeConfirm:  u.confirm,
	}

	state := UpgradeValidate
	for state != UpgradeSuccess {
		if err := u.gate(); err != nil {
			u.end(state, err)
			return
		}
		u.enter(state)
		next, err := steps[state]()
		if err == nil {
			err = u.ctx.Err()
		}
		if err != nil {
			u.end(state, err)
			return
		}
		state = next
	}

	u.enter(UpgradeSuccess)
	u.m.mu.Lock()
	u.m.running = false
	u.m.resumed = nil
	u.m.mu.Unlock()
	u.m.logger.Info("firmware upgrade finished", zap.Stringer("mode", u.mode))
	u.obs.Finished()
}

// gate blocks while the upgrade is paused.
func (u *upgrade) gate() error {
	u.m.mu.Lock()
	resumed := u.m.resumed
	u.m.mu.Unlock()
	if resumed == nil {
		return u.ctx.Err()
	}
	select {
	case <-resumed:
		return u.ctx.Err()
	case <-u.ctx.Done():
		return u.ctx.Err()
	}
}

func (u *upgrade) enter(to UpgradeState) {
	u.m.mu.Lock()
	from := u.m.state
	u.m.state = to
	u.m.mu.Unlock()

	u.m.logger.Debug("firmware upgrade state",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	u.obs.StateChanged(from, to)
}

func (u *upgrade) end(state UpgradeState, err error) {
	u.m.mu.Lock()
	cancelled := u.m.cancelled
	u.m.running = false
	u.m.resumed = nil
	u.m.state = UpgradeNone
	u.m.mu.Unlock()

	if cancelled || errors.Is(u.ctx.Err(), context.Canceled) {
		u.m.logger.Info("firmware upgrade cancelled", zap.Stringer("state", state))
		u.obs.Cancelled()
		return
	}
	u.m.logger.Warn("firmware upgrade failed", zap.Stringer("state", state), zap.Error(err))
	u.obs.Failed(&UpgradeError{State: state, Err: err})
}

// find returns the slot holding the upgrade image.
func (u *upgrade) find(resp *protocol.ImageStateResponse) (protocol.ImageSlot, bool) {
	for _, s := range resp.Images {
		if bytes.Equal(s.Hash, u.hash) {
			return s, true
		}
	}
	return protocol.ImageSlot{}, false
}

// validate reads the slots and skips the steps the device has already done.
func (u *upgrade) validate() (UpgradeState, error) {
	resp, err := u.m.image.List(u.ctx)
	if err != nil {
		return 0, err
	}
	s, ok := u.find(resp)
	switch {
	case !ok:
		return UpgradeUpload, nil
	case s.Active && (s.Confirmed || u.mode == ModeTestOnly):
		return UpgradeSuccess, nil
	case s.Active:
		u.booted = true
		return UpgradeConfirm, nil
	case s.Pending && (s.Permanent || u.mode != ModeConfirmOnly):
		return UpgradeReset, nil
	default:
		return u.afterUpload(), nil
	}
}

func (u *upgrade) afterUpload() UpgradeState {
	if u.mode == ModeConfirmOnly {
		return UpgradeConfirm
	}
	return UpgradeTest
}

func (u *upgrade) upload() (UpgradeState, error) {
	result := make(chan error, 1)
	fwd := transfer.ObserverFuncs{
		OnProgress:  u.obs.ProgressChanged,
		OnFailed:    func(err error) { result <- err },
		OnCancelled: func() { result <- context.Canceled },
		OnFinished:  func() { result <- nil },
	}
	if !u.m.image.Upload(u.data, fwd) {
		return 0, fmt.Errorf("image upload: %w", ErrUpgradeInProgress)
	}

	u.m.mu.Lock()
	u.m.uploading = true
	if u.m.resumed != nil {
		u.m.image.PauseUpload()
	}
	u.m.mu.Unlock()
	defer func() {
		u.m.mu.Lock()
		u.m.uploading = false
		u.m.mu.Unlock()
	}()

	select {
	case err := <-result:
		if err != nil {
			return 0, err
		}
	case <-u.ctx.Done():
		u.m.image.CancelUpload(nil)
		<-result
		return 0, u.ctx.Err()
	}
	return u.afterUpload(), nil
}

func (u *upgrade) test() (UpgradeState, error) {
	resp, err := u.m.image.Test(u.ctx, u.hash)
	if err != nil {
		return 0, err
	}
	if s, ok := u.find(resp); !ok || !s.Pending {
		return 0, fmt.Errorf("image %x not pending after test: %w", u.hash, ErrImageState)
	}
	return UpgradeReset, nil
}

func (u *upgrade) confirm() (UpgradeState, error) {
	resp, err := u.m.image.Confirm(u.ctx, u.hash)
	if err != nil {
		return 0, err
	}
	s, ok := u.find(resp)
	if u.booted {
		if !ok || !s.Active || !s.Confirmed {
			return 0, fmt.Errorf("image %x not running confirmed: %w", u.hash, ErrImageState)
		}
		return UpgradeSuccess, nil
	}
	if !ok || !(s.Confirmed || s.Permanent) {
		return 0, fmt.Errorf("image %x not confirmed: %w", u.hash, ErrImageState)
	}
	return UpgradeReset, nil
}

func (u *upgrade) reset() (UpgradeState, error) {
	if err := u.m.os.Reset(u.ctx); err != nil {
		return 0, err
	}
	u.booted = true

	if d := u.m.config.ResetDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-u.ctx.Done():
			return 0, u.ctx.Err()
		}
	}
	if u.mode == ModeTestAndConfirm {
		return UpgradeConfirm, nil
	}
	return UpgradeSuccess, nil
}
