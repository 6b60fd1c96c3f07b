package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// writerIsTTY returns true if the given writer exposes an Fd() method
// (e.g. *os.File) and that fd is a terminal. Plain io.Writer values such as
// *bytes.Buffer are never terminals.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd())
	}
	return false
}

// ProgressBar displays a progress bar with percentage and description.
// Example: [=========>          ]  45% Copying template files
//
// The total may be unknown when the bar is created; Report sets it along
// with the current value, which suits callbacks of the form func(done, total).
type ProgressBar struct {
	total       int
	current     int
	description string
	width       int
	mu          sync.Mutex
	writer      io.Writer
}

// NewProgress creates a progress bar writing to stderr, so that tables on
// stdout stay machine-readable.
func NewProgress(total int, description string) *ProgressBar {
	return &ProgressBar{
		total:       total,
		description: description,
		width:       40,
		writer:      os.Stderr,
	}
}

// SetWriter sets the output writer (useful for testing).
func (p *ProgressBar) SetWriter(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// Report sets both the current value and the total and redraws the bar.
func (p *ProgressBar) Report(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(done, total)
}

// set clamps and renders. Must be called with lock held.
func (p *ProgressBar) set(current, total int) {
	p.total = total
	p.current = min(current, total)
	p.render()
}

// Finish completes the progress bar and moves to a new line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	alreadyDone := p.current == p.total
	p.current = p.total

	if writerIsTTY(p.writer) {
		// render() uses \r without a newline on a terminal.
		p.render()
		fmt.Fprintln(p.writer)
		return
	}
	// Non-TTY output only prints at completion; avoid a duplicate 100% line.
	if !alreadyDone {
		p.render()
	}
}

// render draws the progress bar (must be called with lock held).
func (p *ProgressBar) render() {
	percentage, filled := 0, 0
	if p.total > 0 {
		percentage = (p.current * 100) / p.total
		filled = (p.current * p.width) / p.total
	}

	var bar strings.Builder
	bar.WriteString("[")
	for i := 0; i < p.width; i++ {
		switch {
		case i < filled-1:
			bar.WriteString("=")
		case i == filled-1:
			bar.WriteString(">")
		default:
			bar.WriteString(" ")
		}
	}
	bar.WriteString("]")

	if writerIsTTY(p.writer) {
		fmt.Fprintf(p.writer, "\r%s %3d%% %s", bar.String(), percentage, p.description)
		return
	}
	if p.current == p.total {
		fmt.Fprintf(p.writer, "%s %3d%% %s\n", bar.String(), percentage, p.description)
	}
}

// Spinner displays an animated spinner with a message and elapsed or
// remaining time.
// Example: |  Capturing workspace (3s remaining)
type Spinner struct {
	message   string
	running   bool
	chars     []string
	mu        sync.Mutex
	writer    io.Writer
	ticker    *time.Ticker
	done      chan struct{}
	timeout   time.Duration
	startTime time.Time
	timing    bool
}

// NewSpinner creates a stopped spinner writing to stderr.
//
//	spinner := output.NewSpinner("Capturing workspace").WithTimeout(10 * time.Second)
//	spinner.Start()
//	defer spinner.Stop()
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		chars:   []string{"|", "/", "-", "\\"},
		writer:  os.Stderr,
		done:    make(chan struct{}),
	}
}

// WithTimeout shows "(Ns remaining)" when timeout > 0 and "(Ns elapsed)"
// otherwise. It must be called before Start.
func (s *Spinner) WithTimeout(timeout time.Duration) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	s.timing = true
	return s
}

// SetWriter sets the output writer (useful for testing).
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = w
}

// Start begins the spinner animation. On a non-TTY writer the message is
// printed once and no goroutine is started.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startTime = time.Now()

	if !writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "%s...\n", s.message)
		return
	}

	s.ticker = time.NewTicker(100 * time.Millisecond)
	go s.spin()
}

func (s *Spinner) spin() {
	idx := 0
	for {
		select {
		case <-s.ticker.C:
			s.mu.Lock()
			if !s.running {
				s.mu.Unlock()
				return
			}
			fmt.Fprintf(s.writer, "\r%s  %s", s.chars[idx], s.formatMessage())
			idx = (idx + 1) % len(s.chars)
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// formatMessage must be called with lock held.
func (s *Spinner) formatMessage() string {
	if !s.timing {
		return s.message
	}
	elapsed := time.Since(s.startTime)
	if s.timeout > 0 {
		remaining := max(s.timeout-elapsed, 0)
		return fmt.Sprintf("%s (%ds remaining)", s.message, int(remaining.Round(time.Second).Seconds()))
	}
	return fmt.Sprintf("%s (%ds elapsed)", s.message, int(elapsed.Round(time.Second).Seconds()))
}

// Stop stops the spinner animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.done)

	if writerIsTTY(s.writer) {
		fmt.Fprintf(s.writer, "\r%s\r", strings.Repeat(" ", len(s.formatMessage())+4))
	}
}

// UpdateMessage updates the spinner message while it's running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// StopWithMessage stops the spinner and prints a final line.
func (s *Spinner) StopWithMessage(message string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.writer, message)
}
