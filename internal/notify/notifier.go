package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/alert"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/logger"
)

// Message is a rendered alert ready for delivery
type Message struct {
	Subject string
	Body    string
	Record  alert.Record
}

// Channel delivers rendered alerts to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// DefaultSendTimeout bounds one delivery attempt on one channel
const DefaultSendTimeout = 15 * time.Second

type route struct {
	channel     Channel
	minSeverity alert.Severity
}

// Notifier fans alert records out to every enabled channel whose minimum
// severity the record meets.
type Notifier struct {
	logger    *logger.Logger
	templates *Templates
	routes    []route
	enabled   bool
	timeout   time.Duration
}

// New builds a notifier from configuration. Channels that cannot be set up
// are reported as an error; a broker that is merely unreachable is not.
func New(cfg config.NotifierConfig, log *logger.Logger) (*Notifier, error) {
	templates, err := NewTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}

	n := &Notifier{
		logger:    log,
		templates: templates,
		enabled:   cfg.Active(),
		timeout:   DefaultSendTimeout,
	}
	if !n.enabled {
		return n, nil
	}

	if cfg.Console.Enabled {
		n.AddChannel(NewConsoleChannel(nil), alert.Severity(cfg.Console.MinSeverity))
	}
	if cfg.File.Enabled {
		n.AddChannel(NewFileChannel(cfg.File.Path), alert.Severity(cfg.File.MinSeverity))
	}
	if cfg.Email.Enabled {
		n.AddChannel(NewEmailChannel(cfg.Email), alert.Severity(cfg.Email.MinSeverity))
	}
	if cfg.Webhook.Enabled {
		n.AddChannel(NewWebhookChannel(cfg.Webhook), alert.Severity(cfg.Webhook.MinSeverity))
	}
	if cfg.MQTT.Enabled {
		ch, err := NewMQTTChannel(cfg.MQTT, log)
		if err != nil {
			return nil, fmt.Errorf("failed to set up mqtt channel: %w", err)
		}
		n.AddChannel(ch, alert.Severity(cfg.MQTT.MinSeverity))
	}

	log.Info("Notifier initialized", "channels", n.ChannelNames())
	return n, nil
}

// AddChannel registers a channel receiving records of at least minSeverity
func (n *Notifier) AddChannel(ch Channel, minSeverity alert.Severity) {
	n.routes = append(n.routes, route{channel: ch, minSeverity: minSeverity})
}

// ChannelNames lists the registered channels in delivery order
func (n *Notifier) ChannelNames() []string {
	names := make([]string, 0, len(n.routes))
	for _, r := range n.routes {
		names = append(names, r.channel.Name())
	}
	return names
}

// SendAlert renders the record and delivers it. It reports whether at least
// one channel accepted it; channel failures are only logged.
func (n *Notifier) SendAlert(ctx context.Context, record alert.Record) bool {
	if !n.enabled {
		n.logger.Debug("Alert delivery disabled", "alert_id", record.ID)
		return false
	}

	subject, body := n.templates.Render(record)
	msg := Message{Subject: subject, Body: body, Record: record}

	delivered := false
	for _, r := range n.routes {
		if !record.Severity.AtLeast(r.minSeverity) {
			continue
		}
		if err := n.send(ctx, r.channel, msg); err != nil {
			n.logger.Error("Failed to deliver alert",
				"channel", r.channel.Name(),
				"alert_id", record.ID,
				"error", err,
			)
			continue
		}
		delivered = true
	}
	return delivered
}

// send gives one channel its own deadline so a stalled destination cannot
// hold up the others or the caller
func (n *Notifier) send(ctx context.Context, ch Channel, msg Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return ch.Send(sendCtx, msg)
}

// Close releases channels holding connections
func (n *Notifier) Close() error {
	var errs []error
	for _, r := range n.routes {
		if c, ok := r.channel.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.channel.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
