package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/moffa90/go-mcumgr/mcumgr"
	"github.com/moffa90/go-mcumgr/transfer"
)

const barWidth = 30

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed).SprintFunc()
	dimColor  = color.New(color.Faint).SprintFunc()
)

// progress renders upload progress and waits for the outcome of an upload
// or upgrade. On a terminal it redraws one line; otherwise it prints a line
// per 10%.
type progress struct {
	w     io.Writer
	what  string
	tty   bool
	start time.Time

	mu   sync.Mutex
	last int
	done chan error
}

func newProgress(w io.Writer, what string) *progress {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &progress{w: w, what: what, tty: tty, start: time.Now(), last: -1, done: make(chan error, 1)}
}

// observer returns the upload observer feeding this display.
func (p *progress) observer() transfer.ObserverFuncs {
	return transfer.ObserverFuncs{
		OnProgress:  p.update,
		OnFailed:    func(err error) { p.done <- err },
		OnCancelled: func() { p.done <- fmt.Errorf("%s cancelled", p.what) },
		OnFinished:  func() { p.done <- nil },
	}
}

// upgradeObserver adds a line per firmware upgrade step to observer.
func (p *progress) upgradeObserver() mcumgr.UpgradeObserver {
	return mcumgr.UpgradeObserverFuncs{
		ObserverFuncs:  p.observer(),
		OnStateChanged: p.state,
	}
}

func (p *progress) state(from, to mcumgr.UpgradeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && from == mcumgr.UpgradeUpload {
		fmt.Fprintln(p.w)
	}
	fmt.Fprintf(p.w, "%s %s\n", dimColor("state:"), to)
}

func (p *progress) update(sent, total uint64, ts time.Time) {
	pct := 100
	if total > 0 {
		pct = int(sent * 100 / total)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty {
		filled := pct * barWidth / 100
		bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
		fmt.Fprintf(p.w, "\r[%s] %3d%% %d/%d bytes %s", bar, pct, sent, total,
			dimColor(rate(sent, ts.Sub(p.start))))
		return
	}
	if step := pct / 10; step > p.last {
		p.last = step
		fmt.Fprintf(p.w, "%3d%% %d/%d bytes\n", pct, sent, total)
	}
}

// wait blocks until the upload ends and prints the result.
func (p *progress) wait() error {
	err := <-p.done
	if p.tty {
		fmt.Fprintln(p.w)
	}
	if err != nil {
		fmt.Fprintln(p.w, failColor(p.what+" failed:"), err)
		return err
	}
	fmt.Fprintln(p.w, okColor(p.what+" complete"), dimColor(time.Since(p.start).Round(time.Millisecond)))
	return nil
}

func rate(sent uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f KiB/s", float64(sent)/1024/elapsed.Seconds())
}
