package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/emmett/crowdmeter/internal/meter"
)

// Result is one finished measurement as written by a Formatter
type Result struct {
	meter.Measurement
	BandName  string    `json:"band_name,omitempty"`
	Submitted bool      `json:"submitted"`
	Timestamp time.Time `json:"timestamp"`
}

// Event represents a meter event such as a phase change
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Formatter writes measurement results for scripts and logs
type Formatter interface {
	// WriteResult writes a finished measurement
	WriteResult(result Result) error

	// WriteEvent writes a meter event
	WriteEvent(eventType, message string) error

	// Close flushes and releases the formatter
	Close() error
}

// NewFormatter returns the formatter for format ("json" or "text")
func NewFormatter(format string, w io.Writer) (Formatter, error) {
	switch format {
	case "json":
		return NewJSONFormatter(w), nil
	case "text", "":
		return NewPlainTextFormatter(w), nil
	}
	return nil, fmt.Errorf("unknown output format: %s", format)
}

// JSONFormatter writes one JSON document per result or event
type JSONFormatter struct {
	encoder *json.Encoder
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(writer io.Writer) *JSONFormatter {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return &JSONFormatter{encoder: encoder}
}

// WriteResult writes a measurement in JSON format
func (j *JSONFormatter) WriteResult(result Result) error {
	return j.encoder.Encode(result)
}

// WriteEvent writes a meter event
func (j *JSONFormatter) WriteEvent(eventType, message string) error {
	return j.encoder.Encode(Event{
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Close closes the formatter
func (j *JSONFormatter) Close() error {
	return nil
}

// PlainTextFormatter writes one line per result or event
type PlainTextFormatter struct {
	writer io.Writer
}

// NewPlainTextFormatter creates a new plain text formatter
func NewPlainTextFormatter(writer io.Writer) *PlainTextFormatter {
	return &PlainTextFormatter{writer: writer}
}

// WriteResult writes a measurement in plain text
func (p *PlainTextFormatter) WriteResult(result Result) error {
	band := result.BandID
	if result.BandName != "" {
		band = fmt.Sprintf("%s (%s)", result.BandName, result.BandID)
	}
	status := "not submitted"
	if result.Submitted {
		status = "submitted"
	}

	_, err := fmt.Fprintf(p.writer, "[%s] %s score=%d energy=%.4f peak=%.4f duration=%.2fs %s\n",
		result.Timestamp.Format("15:04:05"), band, result.CrowdScore,
		result.EnergyLevel, result.PeakVolume, result.RecordingDuration, status)
	return err
}

// WriteEvent writes a meter event
func (p *PlainTextFormatter) WriteEvent(eventType, message string) error {
	_, err := fmt.Fprintf(p.writer, "[%s] [%s] %s\n", time.Now().Format("15:04:05"), eventType, message)
	return err
}

// Close closes the formatter
func (p *PlainTextFormatter) Close() error {
	return nil
}
