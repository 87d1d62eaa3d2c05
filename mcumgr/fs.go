package mcumgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transfer"
	"github.com/moffa90/go-mcumgr/transport"
)

// DownloadProgress is called after each downloaded chunk.
type DownloadProgress func(received, total uint64)

// FileSystemManager uploads and downloads files on the device's file system.
type FileSystemManager struct {
	*Manager
	uploader *transfer.Uploader
}

// NewFileSystemManager creates a manager for the file system group.
func NewFileSystemManager(t transport.Transport, opts ...Option) *FileSystemManager {
	m := &FileSystemManager{Manager: New(protocol.GroupFS, t, opts...)}
	m.uploader = transfer.New(m.Manager, transfer.FileTarget(), m.config.uploaderOptions()...)
	return m
}

// Upload starts writing data to the file name. It returns false if an upload
// is already in progress. Progress and the outcome are reported to obs.
//
// Example:
//
//	ok := fs.Upload("/lfs/settings.bin", data, transfer.ObserverFuncs{
//	    OnProgress: func(sent, total uint64, _ time.Time) { ... },
//	    OnFinished: func() { close(done) },
//	})
func (m *FileSystemManager) Upload(name string, data []byte, obs transfer.Observer) bool {
	return m.uploader.Start(name, data, obs)
}

// PauseUpload pauses the current upload.
func (m *FileSystemManager) PauseUpload() { m.uploader.Pause() }

// ResumeUpload resumes a paused upload.
func (m *FileSystemManager) ResumeUpload() { m.uploader.Resume() }

// CancelUpload cancels the current upload; a non-nil err is reported as a
// failure.
func (m *FileSystemManager) CancelUpload(err error) { m.uploader.Cancel(err) }

// UploadState returns the state of the file uploader.
func (m *FileSystemManager) UploadState() transfer.State { return m.uploader.State() }

// Download reads the file name chunk by chunk until the length reported with
// the first chunk has been received. progress may be nil.
func (m *FileSystemManager) Download(ctx context.Context, name string, progress DownloadProgress) ([]byte, error) {
	var (
		data  []byte
		total uint64
		off   uint64
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := m.call(ctx, "file download", protocol.OpRead, protocol.CmdFile, map[string]cbor.Value{
			"name": cbor.Text(name),
			"off":  cbor.Uint(off),
		})
		if err != nil {
			return nil, err
		}
		chunk := protocol.ParseFileDownloadResponse(resp)

		if chunk.Off == nil {
			return nil, &DownloadError{Name: name, Offset: off, Reason: "missing offset"}
		}
		if *chunk.Off != off {
			return nil, &DownloadError{Name: name, Offset: off, Reason: "unexpected offset"}
		}
		if off == 0 {
			if chunk.Len == nil {
				return nil, &DownloadError{Name: name, Offset: off, Reason: "missing length"}
			}
			total = *chunk.Len
			data = make([]byte, 0, total)
		}
		if uint64(len(chunk.Data)) > total-off {
			return nil, &DownloadError{Name: name, Offset: off, Reason: "chunk beyond file length"}
		}

		data = append(data, chunk.Data...)
		off += uint64(len(chunk.Data))
		if progress != nil {
			progress(off, total)
		}
		if off == total {
			m.logger.Info("download finished", zap.String("name", name), zap.Uint64("size", total))
			return data, nil
		}
		if len(chunk.Data) == 0 {
			return nil, &DownloadError{Name: name, Offset: off, Reason: "empty chunk"}
		}
	}
}
