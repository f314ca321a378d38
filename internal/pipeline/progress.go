package pipeline

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

// ProgressSink receives progress events. It is called synchronously from
// the sync goroutine.
type ProgressSink func(types.Progress)

const maxTitleLen = 40

// tracker estimates remaining time for one counted stage
type tracker struct {
	stage string
	total int
	start time.Time
	now   func() time.Time
}

func newTracker(stage string, total int, now func() time.Time) *tracker {
	return &tracker{stage: stage, total: total, start: now(), now: now}
}

// step builds the event for the current'th item, labelled by title
func (t *tracker) step(current int, title string) types.Progress {
	elapsed := t.now().Sub(t.start)
	eta := estimateETA(current, t.total, elapsed)
	msg := fmt.Sprintf("%q (%s elapsed, ~%s remaining)", truncateTitle(title, maxTitleLen), formatDuration(elapsed), formatDuration(eta))
	return types.Counted(t.stage, msg, current, t.total)
}

// estimateETA extrapolates the observed rate over the remaining items
func estimateETA(current, total int, elapsed time.Duration) time.Duration {
	if current <= 0 || elapsed <= 0 || current >= total {
		return 0
	}
	perItem := elapsed / time.Duration(current)
	return perItem * time.Duration(total-current)
}

// formatDuration renders 42s, 3m07s or 2h05m
func formatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh%02dm", secs/3600, (secs%3600)/60)
	}
}

// truncateTitle shortens title to at most max runes, ending in "..."
func truncateTitle(title string, max int) string {
	if utf8.RuneCountInString(title) <= max {
		return title
	}
	r := []rune(title)
	return string(r[:max-3]) + "..."
}
