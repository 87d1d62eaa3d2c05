package mcumgr

import (
	"context"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transfer"
	"github.com/moffa90/go-mcumgr/transport"
)

// ImageManager reads image state and uploads firmware images.
type ImageManager struct {
	*Manager
	uploader *transfer.Uploader
}

// NewImageManager creates a manager for the image group.
func NewImageManager(t transport.Transport, opts ...Option) *ImageManager {
	m := &ImageManager{Manager: New(protocol.GroupImage, t, opts...)}
	m.uploader = transfer.New(m.Manager, transfer.ImageTarget(), m.config.uploaderOptions()...)
	return m
}

// List reads the state of the image slots.
func (m *ImageManager) List(ctx context.Context) (*protocol.ImageStateResponse, error) {
	resp, err := m.call(ctx, "image list", protocol.OpRead, protocol.CmdImageState, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseImageStateResponse(resp), nil
}

// Test marks the image with hash to be booted once on the next reset.
func (m *ImageManager) Test(ctx context.Context, hash []byte) (*protocol.ImageStateResponse, error) {
	return m.setState(ctx, "image test", hash, false)
}

// Confirm makes the image with hash permanent. A nil hash confirms the image
// currently running.
func (m *ImageManager) Confirm(ctx context.Context, hash []byte) (*protocol.ImageStateResponse, error) {
	return m.setState(ctx, "image confirm", hash, true)
}

func (m *ImageManager) setState(ctx context.Context, operation string, hash []byte, confirm bool) (*protocol.ImageStateResponse, error) {
	payload := map[string]cbor.Value{"confirm": cbor.Bool(confirm)}
	if hash != nil {
		payload["hash"] = cbor.Bytes(hash)
	}
	resp, err := m.call(ctx, operation, protocol.OpWrite, protocol.CmdImageState, payload)
	if err != nil {
		return nil, err
	}
	return protocol.ParseImageStateResponse(resp), nil
}

// Erase erases the secondary image slot.
func (m *ImageManager) Erase(ctx context.Context) error {
	_, err := m.call(ctx, "image erase", protocol.OpWrite, protocol.CmdImageErase, nil)
	return err
}

// Upload starts uploading data to the secondary slot. It returns false if an
// upload is already in progress. Progress and the outcome are reported to obs.
func (m *ImageManager) Upload(data []byte, obs transfer.Observer) bool {
	return m.uploader.Start("", data, obs)
}

// PauseUpload pauses the current upload.
func (m *ImageManager) PauseUpload() { m.uploader.Pause() }

// ResumeUpload resumes a paused upload.
func (m *ImageManager) ResumeUpload() { m.uploader.Resume() }

// CancelUpload cancels the current upload; a non-nil err is reported as a
// failure.
func (m *ImageManager) CancelUpload(err error) { m.uploader.Cancel(err) }

// UploadState returns the state of the image uploader.
func (m *ImageManager) UploadState() transfer.State { return m.uploader.State() }
