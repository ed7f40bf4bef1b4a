package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// ProgressCallback defines the interface for progress reporting
type ProgressCallback interface {
	Start(total int)
	Update(title string, firstMsg string)
	Finish()
}

// ProgressReporter draws a progress bar while archives import
type ProgressReporter struct {
	writer    io.Writer
	total     int
	current   int
	startTime time.Time
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(w io.Writer) *ProgressReporter {
	return &ProgressReporter{writer: w, startTime: time.Now()}
}

// Start resets the bar for total archives
func (p *ProgressReporter) Start(total int) {
	p.total = total
	p.current = 0
	p.startTime = time.Now()
}

// Update advances the bar and shows the archive just imported
func (p *ProgressReporter) Update(title string, firstMsg string) {
	p.current++
	if p.total <= 0 {
		return
	}

	pct := float64(p.current) / float64(p.total) * 100

	// Draw progress bar (50 chars wide)
	barWidth := 50
	filled := int(float64(barWidth) * float64(p.current) / float64(p.total))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	displayText := runewidth.Truncate(title, 60, "...")

	// Calculate ETA
	var eta time.Duration
	if elapsed := time.Since(p.startTime); elapsed > 0 {
		rate := float64(p.current) / elapsed.Seconds()
		eta = time.Duration(float64(p.total-p.current)/rate) * time.Second
	}

	_, _ = fmt.Fprintf(p.writer, "\r[%s] %3.0f%% (%d/%d) ETA: %s | %s",
		bar, pct, p.current, p.total, eta.Round(time.Second), displayText)
}

// Finish completes the progress display
func (p *ProgressReporter) Finish() {
	elapsed := time.Since(p.startTime)
	_, _ = fmt.Fprintf(p.writer, "\nCompleted: Processed %d archives in %s\n", p.current, elapsed.Round(time.Millisecond))
}
