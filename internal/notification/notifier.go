// Package notification sends run summaries of the ingest, sync and reindex
// commands to shoutrrr service URLs (Slack, Discord, e-mail, ...).
package notification

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
)

// DefaultTimeout bounds one delivery to all configured services.
const DefaultTimeout = 10 * time.Second

// Summary describes a finished command run.
type Summary struct {
	Command  string // ingest, sync or reindex
	Provider string
	RunID    string
	Duration time.Duration
	// Counts are rendered in order as "name: value" lines.
	Counts []Count
	Err    error
}

// Count is one named figure of a Summary.
type Count struct {
	Name  string
	Value int
}

// Title returns the notification title.
func (s *Summary) Title() string {
	subject := "imageledger " + s.Command
	if s.Provider != "" {
		subject += " " + s.Provider
	}
	if s.Err != nil {
		return subject + " failed"
	}
	return subject + " finished"
}

// Message renders the summary body.
func (s *Summary) Message() string {
	var b strings.Builder
	if s.RunID != "" {
		fmt.Fprintf(&b, "run: %s\n", s.RunID)
	}
	for _, c := range s.Counts {
		fmt.Fprintf(&b, "%s: %d\n", c.Name, c.Value)
	}
	fmt.Fprintf(&b, "duration: %s", s.Duration.Round(time.Millisecond))
	if s.Err != nil {
		fmt.Fprintf(&b, "\nerror: %s", logger.RedactSensitiveData(s.Err.Error()))
	}
	return b.String()
}

// Sender delivers a message to every configured service and returns one
// error per failed service.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier sends summaries according to the notification settings.
type Notifier struct {
	sender    Sender
	onSuccess bool
	onFailure bool
	log       logger.Logger
}

// New builds a Notifier from settings. It returns nil, nil when
// notifications are disabled or no URL is configured.
func New(settings *conf.NotificationSettings, log logger.Logger) (*Notifier, error) {
	if settings == nil || !settings.Enabled || len(settings.URLs) == 0 {
		return nil, nil
	}

	sender, err := shoutrrr.CreateSender(slices.Clone(settings.URLs)...)
	if err != nil {
		// The service URLs carry tokens, keep them out of the message.
		return nil, errors.Newf("invalid notification URL: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender.Timeout = DefaultTimeout
	sender.SetLogger(stdlog.New(io.Discard, "", 0))

	return NewWithSender(sender, settings.OnSuccess, settings.OnFailure, log), nil
}

// NewWithSender builds a Notifier around an existing sender.
func NewWithSender(sender Sender, onSuccess, onFailure bool, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}
	return &Notifier{
		sender:    sender,
		onSuccess: onSuccess,
		onFailure: onFailure,
		log:       log.Module("notification"),
	}
}

// Notify sends s if the settings ask for its outcome. Delivery failures are
// logged and returned but never change the outcome of the run itself. A nil
// Notifier does nothing.
func (n *Notifier) Notify(ctx context.Context, s *Summary) error {
	if n == nil || s == nil {
		return nil
	}
	if (s.Err != nil && !n.onFailure) || (s.Err == nil && !n.onSuccess) {
		return nil
	}
	// A summary of a failed run is still sent after cancellation.
	if err := ctx.Err(); err != nil && s.Err == nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(s.Title())

	var sendErrs []error
	for _, err := range n.sender.Send(s.Message(), &params) {
		if err != nil {
			sendErrs = append(sendErrs, err)
		}
	}
	if len(sendErrs) == 0 {
		n.log.Debug("summary sent", logger.String("command", s.Command))
		return nil
	}

	err := errors.Newf("%s", logger.RedactSensitiveData(errors.Join(sendErrs...).Error())).
		Component("notification").
		Category(errors.CategoryNotification).
		Context("command", s.Command).
		Context("failed_services", len(sendErrs)).
		Build()
	n.log.Warn("failed to send summary",
		logger.String("command", s.Command),
		logger.Error(err))
	return err
}

var _ Sender = (*router.ServiceRouter)(nil)
