package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"

	"github.com/eloisaabril01/emailscrap/internal/progress"
)

// CLIReporter prints progress lines for a run to a terminal.
type CLIReporter struct {
	tracker *progress.Tracker
	out     io.Writer
}

// NewCLIReporter returns a reporter writing to stdout.
func NewCLIReporter(t *progress.Tracker) *CLIReporter {
	return &CLIReporter{tracker: t, out: os.Stdout}
}

// Watch prints every status change until the run reaches a terminal phase or ctx ends.
// The state current when ctx ends is still printed.
func (r *CLIReporter) Watch(ctx context.Context) {
	var lastStatus string
	lastCurrent := -1
	for {
		changed := r.tracker.Changed()
		st := r.tracker.Snapshot()
		if st.Status != lastStatus || st.Current != lastCurrent {
			r.print(st, st.Current != lastCurrent && lastCurrent >= 0)
			lastStatus, lastCurrent = st.Status, st.Current
		}
		if st.Phase.Terminal() || ctx.Err() != nil {
			return
		}
		select {
		case <-changed:
		case <-ctx.Done():
		}
	}
}

func (r *CLIReporter) print(st progress.State, advanced bool) {
	var line string
	switch {
	case st.Phase == progress.PhaseCompleted:
		line = pterm.Success.Sprint(st.Status)
	case st.Phase == progress.PhaseCancelled:
		line = pterm.Warning.Sprint(st.Status)
	case st.Phase == progress.PhaseFailed:
		line = pterm.Error.Sprint(st.Status)
	case advanced:
		line = fmt.Sprintf("✅ %s %s", pterm.Green(fmt.Sprintf("%d/%d", st.Current, st.Target)), st.Status)
	case st.Phase == progress.PhaseIdle:
		return
	default:
		line = fmt.Sprintf("🔄 %s: %s", pterm.LightCyan(string(st.Phase)), st.Status)
	}
	_, _ = fmt.Fprintln(r.out, line)
}
