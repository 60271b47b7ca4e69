package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	pretty "github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/text"
)

var consoleColors = pretty.StyleColors{
	Message: text.Colors{text.FgWhite},
	Error:   text.Colors{text.FgRed},
	Percent: text.Colors{text.FgHiRed},
	Stats:   text.Colors{text.FgHiBlack},
	Time:    text.Colors{text.FgGreen},
	Tracker: text.Colors{text.FgYellow},
	Value:   text.Colors{text.FgCyan},
	Speed:   text.Colors{text.FgMagenta},
}

// Console renders events as a single terminal progress bar.
type Console struct {
	pw      pretty.Writer
	tracker *pretty.Tracker
	start   time.Time
	once    sync.Once
	mu      sync.Mutex
	last    Event
}

// NewConsole creates a console renderer writing to w.
func NewConsole(w io.Writer, title string) *Console {
	pw := pretty.NewWriter()
	pw.SetOutputWriter(w)
	pw.SetAutoStop(false)
	pw.SetMessageLength(48)
	pw.SetTrackerLength(30)
	pw.SetTrackerPosition(pretty.PositionRight)
	pw.SetUpdateFrequency(150 * time.Millisecond)
	pw.SetStyle(pretty.StyleDefault)
	pw.Style().Colors = consoleColors
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = true

	tracker := &pretty.Tracker{
		Message: title,
		Units:   pretty.UnitsDefault,
	}
	pw.AppendTracker(tracker)

	return &Console{pw: pw, tracker: tracker}
}

// Start begins rendering in the background.
func (c *Console) Start() {
	c.once.Do(func() {
		c.start = time.Now()
		go c.pw.Render()
	})
}

// Emit updates the bar from e.
func (c *Console) Emit(e Event) {
	c.mu.Lock()
	c.last = e
	c.mu.Unlock()

	if e.Total > 0 && c.tracker.Total != int64(e.Total) {
		c.tracker.UpdateTotal(int64(e.Total))
	}
	c.tracker.SetValue(int64(e.Processed))
	if e.Skipped {
		c.tracker.UpdateMessage("skipped " + e.Name)
		return
	}
	c.tracker.UpdateMessage(e.Name)
}

// Finish marks the bar done (or errored when ok is false) and stops rendering.
// It returns a one-line summary of the work seen.
func (c *Console) Finish(ok bool) string {
	if ok {
		c.tracker.MarkAsDone()
	} else {
		c.tracker.MarkAsErrored()
	}
	for c.pw.IsRenderInProgress() && c.pw.LengthActive() > 0 {
		time.Sleep(20 * time.Millisecond)
	}
	c.pw.Stop()

	c.mu.Lock()
	last := c.last
	c.mu.Unlock()

	var elapsed time.Duration
	if !c.start.IsZero() {
		elapsed = time.Since(c.start)
	}
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	rate := uint64(float64(last.Bytes) / elapsed.Seconds())
	return fmt.Sprintf("%d entries, %s in %.1f seconds (avg rate: %s)",
		last.Processed, FormatSize(uint64(last.Bytes)), elapsed.Seconds(), FormatRate(rate))
}
