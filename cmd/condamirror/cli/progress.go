package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// progressMode returns the configured progress mode: "auto", "tty", or "plain".
func progressMode() string {
	mode := viper.GetString("progress")
	switch mode {
	case "auto", "tty", "plain":
		return mode
	default:
		return "auto"
	}
}

// shouldShowProgress returns true if progress bars should be displayed.
func shouldShowProgress() bool {
	mode := progressMode()

	// Plain mode disables progress
	if mode == "plain" {
		return false
	}

	// TTY mode forces progress regardless of terminal detection
	if mode == "tty" {
		return true
	}

	// Auto mode: show progress only if connected to a TTY
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// charmProgress wraps the charmbracelet progress bar for task-count-based
// operations (one task = one package upload, channel-index publish, or
// archive download).
type charmProgress struct {
	bar         progress.Model
	description string
	total       int
}

// newCharmProgress creates a new charmbracelet progress bar.
func newCharmProgress(total int, description string) *charmProgress {
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &charmProgress{
		bar:         bar,
		description: description,
		total:       total,
	}
}

// render outputs the progress bar to stderr.
func (p *charmProgress) render(completed int) {
	var percent float64
	if p.total > 0 {
		percent = float64(completed) / float64(p.total)
	}

	fmt.Fprintf(os.Stderr, "\r\033[K%s %s %d/%d",
		p.description,
		p.bar.ViewAs(percent),
		completed,
		p.total,
	)
}

// finish completes the progress bar display.
func (p *charmProgress) finish() {
	fmt.Fprintln(os.Stderr)
}

// newTaskProgress wires a tasks.RunContext.OnTaskDone-shaped callback to a
// determinate progress bar, labelled for the direction the run is in
// (uploading during mirror/push-cache, downloading during pull-cache).
// Returns a no-op callback and finish func when progress should not be shown.
func newTaskProgress(description string) (callback func(completed, total int), finish func()) {
	if !shouldShowProgress() {
		return func(int, int) {}, func() {}
	}

	var bar *charmProgress
	var once sync.Once

	callback = func(completed, total int) {
		once.Do(func() {
			bar = newCharmProgress(total, description)
		})
		if bar != nil {
			bar.render(completed)
		}
	}

	finish = func() {
		if bar != nil {
			bar.finish()
		}
	}

	return callback, finish
}
