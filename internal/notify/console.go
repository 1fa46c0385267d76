package notify

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
)

var separator = strings.Repeat("-", 50)

// ConsoleChannel prints alerts to the terminal, coloured by severity
type ConsoleChannel struct {
	out io.Writer
}

// NewConsoleChannel writes to out, or to color.Output when out is nil
func NewConsoleChannel(out io.Writer) *ConsoleChannel {
	if out == nil {
		out = color.Output
	}
	return &ConsoleChannel{out: out}
}

// Name returns the channel name
func (c *ConsoleChannel) Name() string {
	return "console"
}

// Send prints the subject and body
func (c *ConsoleChannel) Send(ctx context.Context, msg Message) error {
	headline := severityColor(msg.Record.Severity).SprintFunc()
	_, err := fmt.Fprintf(c.out, "\n%s\n%s\n%s\n%s\n", headline("[ALERT] "+msg.Subject), separator, msg.Body, separator)
	return err
}

func severityColor(s alert.Severity) *color.Color {
	switch s {
	case alert.SeverityHigh:
		return color.New(color.FgRed, color.Bold)
	case alert.SeverityMedium:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgCyan)
	}
}
