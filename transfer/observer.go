package transfer

import "time"

// Observer receives the progress and outcome of an upload.
//
// Callbacks run on the goroutine that delivered the device reply, never with
// the uploader's lock held, so an observer may call Pause, Resume or Cancel.
// Exactly one of Failed, Cancelled or Finished is called per upload, except
// for an upload cancelled while a chunk is in flight and replaced by a new
// upload before the reply arrives: that upload receives none.
// Implementations should return quickly to avoid stalling the transfer.
type Observer interface {
	// ProgressChanged reports that the device acknowledged sent of total bytes.
	ProgressChanged(sent, total uint64, timestamp time.Time)

	// Failed reports that the upload stopped with err.
	Failed(err error)

	// Cancelled reports that the upload was cancelled.
	Cancelled()

	// Finished reports that every byte was acknowledged.
	Finished()
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
//
// Example:
//
//	up.Start("a.txt", data, transfer.ObserverFuncs{
//	    OnProgress: func(sent, total uint64, _ time.Time) {
//	        fmt.Printf("%d/%d\n", sent, total)
//	    },
//	    OnFinished: func() { close(done) },
//	})
type ObserverFuncs struct {
	OnProgress  func(sent, total uint64, timestamp time.Time)
	OnFailed    func(err error)
	OnCancelled func()
	OnFinished  func()
}

func (f ObserverFuncs) ProgressChanged(sent, total uint64, timestamp time.Time) {
	if f.OnProgress != nil {
		f.OnProgress(sent, total, timestamp)
	}
}

func (f ObserverFuncs) Failed(err error) {
	if f.OnFailed != nil {
		f.OnFailed(err)
	}
}

func (f ObserverFuncs) Cancelled() {
	if f.OnCancelled != nil {
		f.OnCancelled()
	}
}

func (f ObserverFuncs) Finished() {
	if f.OnFinished != nil {
		f.OnFinished()
	}
}
