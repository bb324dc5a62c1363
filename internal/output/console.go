package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/emmett/crowdmeter/internal/meter"
)

const barWidth = 50

// ConsoleOutput renders the live meter to a terminal
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	errWriter     io.Writer
	showTimestamp bool
	lastPhase     meter.Phase
	styles        styles
}

type styles struct {
	quiet lipgloss.Style
	loud  lipgloss.Style
	clip  lipgloss.Style
	score lipgloss.Style
	hint  lipgloss.Style
	err   lipgloss.Style
}

// Styles are bound to the writer's renderer so redirected output stays plain
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		quiet: r.NewStyle().Foreground(lipgloss.Color("#5FAF5F")),
		loud:  r.NewStyle().Foreground(lipgloss.Color("#D7AF00")),
		clip:  r.NewStyle().Foreground(lipgloss.Color("#A40000")),
		score: r.NewStyle().Bold(true),
		hint:  r.NewStyle().Foreground(lipgloss.Color("#666666")),
		err:   r.NewStyle().Foreground(lipgloss.Color("#A40000")).Bold(true),
	}
}

func (s styles) level(level float64) lipgloss.Style {
	switch {
	case level >= 0.8:
		return s.clip
	case level >= 0.4:
		return s.loud
	default:
		return s.quiet
	}
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes info lines with a timestamp
	ShowTimestamp bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer

	// ErrWriter receives error lines (default: os.Stderr)
	ErrWriter io.Writer
}

// NewConsoleOutput creates a new console output handler
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}
	errWriter := config.ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}

	return &ConsoleOutput{
		writer:        writer,
		errWriter:     errWriter,
		showTimestamp: config.ShowTimestamp,
		lastPhase:     meter.PhaseIdle,
		styles:        newStyles(writer),
	}
}

// Render draws one meter state. Live phases overwrite the current line;
// a phase change finishes the line first.
func (c *ConsoleOutput) Render(st meter.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st.Phase != c.lastPhase && c.lastPhase.OwnsCapture() {
		fmt.Fprintln(c.writer)
	}
	c.lastPhase = st.Phase

	bar := c.styles.level(st.Level).Render(LevelBar(st.Level))
	switch st.Phase {
	case meter.PhaseMonitoring:
		fmt.Fprintf(c.writer, "\rLevel: %s  %s", bar, c.styles.hint.Render("[Enter] start"))
	case meter.PhaseCountdown:
		fmt.Fprintf(c.writer, "\rStarting in %d... %s", st.SecondsLeft, bar)
	case meter.PhaseRecording:
		fmt.Fprintf(c.writer, "\rRecording %4.1fs %s", st.Elapsed, bar)
	case meter.PhaseResults:
		fmt.Fprintln(c.writer, c.styles.score.Render(fmt.Sprintf("Crowd score: %d/10", st.Score)),
			fmt.Sprintf(" (energy %.3f, peak %.1f%%)", st.Energy, st.Peak*100))
		if st.SubmitError != "" {
			fmt.Fprintln(c.writer, c.styles.err.Render("Submit failed: "+st.SubmitError))
		}
		fmt.Fprintln(c.writer, c.styles.hint.Render("[s] submit  [a] again  [d <id>] device  [q] quit"))
	case meter.PhaseSubmitting:
		fmt.Fprintln(c.writer, "Submitting...")
	case meter.PhaseSubmitted:
		fmt.Fprintln(c.writer, "Submitted. "+c.styles.hint.Render("[q] quit"))
	case meter.PhasePermissionDenied:
		fmt.Fprintf(c.errWriter, "[ERROR] microphone access denied: %s\n", st.Reason)
	case meter.PhaseError:
		fmt.Fprintf(c.errWriter, "[ERROR] %s\n", st.Reason)
	}
}

// LevelBar draws level (0..1) as a fixed-width bar with a percentage
func LevelBar(level float64) string {
	n := int(level * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return fmt.Sprintf("[%-*s] %5.1f%%", barWidth, strings.Repeat("=", n), level*100)
}

// Info writes an informational message
func (c *ConsoleOutput) Info(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showTimestamp {
		fmt.Fprintf(c.writer, "[%s] %s\n", time.Now().Format("15:04:05"), msg)
		return
	}
	fmt.Fprintf(c.writer, "[INFO] %s\n", msg)
}

// Error writes an error message to the error writer
func (c *ConsoleOutput) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.errWriter, "[ERROR] %s\n", msg)
}
