package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/sony/gobreaker"

	"github.com/BradenHooton/aegis/internal/metrics"
	"github.com/BradenHooton/aegis/internal/models"
)

// LogAlertHandler writes critical events to the error log
type LogAlertHandler struct {
	logger *slog.Logger
}

func NewLogAlertHandler(logger *slog.Logger) *LogAlertHandler {
	return &LogAlertHandler{logger: logger}
}

func (h *LogAlertHandler) HandleCriticalEvent(ctx context.Context, event *models.SecurityEvent) error {
	h.logger.ErrorContext(ctx, "critical security event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("user_id", event.UserID),
		slog.String("ip_address", event.IPAddress),
		slog.String("description", event.Description),
	)
	metrics.AlertsTotal.WithLabelValues("log", "sent").Inc()
	return nil
}

// SESClient is the part of the SES API used for alert mail
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailAlertHandler mails critical events through SES. Sends go through a circuit breaker so
// an SES outage does not stall every request that raises an alert.
type EmailAlertHandler struct {
	client     SESClient
	from       string
	recipients []string
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// EmailAlertConfig configures EmailAlertHandler. Zero breaker settings take defaults.
type EmailAlertConfig struct {
	From        string
	Recipients  []string
	MaxFailures uint32
	OpenTimeout time.Duration
}

func NewEmailAlertHandler(client SESClient, cfg EmailAlertConfig, logger *slog.Logger) *EmailAlertHandler {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	maxFailures := cfg.MaxFailures

	settings := gobreaker.Settings{
		Name:        "ses-alerts",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("alert circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &EmailAlertHandler{
		client:     client,
		from:       cfg.From,
		recipients: cfg.Recipients,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

// NewSESAlertHandler builds an EmailAlertHandler on the default AWS credential chain
func NewSESAlertHandler(ctx context.Context, region string, cfg EmailAlertConfig, logger *slog.Logger) (*EmailAlertHandler, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewEmailAlertHandler(ses.NewFromConfig(awsCfg), cfg, logger), nil
}

func (h *EmailAlertHandler) HandleCriticalEvent(ctx context.Context, event *models.SecurityEvent) error {
	if len(h.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[aegis] %s security event: %s", strings.ToUpper(string(event.Severity)), event.Type)
	input := &ses.SendEmailInput{
		Source: aws.String(h.from),
		Destination: &types.Destination{
			ToAddresses: h.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(alertBody(event)),
				},
			},
		},
	}

	_, err := h.breaker.Execute(func() (interface{}, error) {
		return h.client.SendEmail(ctx, input)
	})
	if err != nil {
		result := "failed"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "skipped"
		}
		metrics.AlertsTotal.WithLabelValues("email", result).Inc()
		return fmt.Errorf("send alert email: %w", err)
	}

	metrics.AlertsTotal.WithLabelValues("email", "sent").Inc()
	h.logger.InfoContext(ctx, "alert email sent",
		slog.String("event_id", event.ID),
		slog.Int("recipients", len(h.recipients)),
	)
	return nil
}

func alertBody(event *models.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:       %s\n", event.ID)
	fmt.Fprintf(&b, "Type:        %s\n", event.Type)
	fmt.Fprintf(&b, "Severity:    %s\n", event.Severity)
	fmt.Fprintf(&b, "User:        %s\n", event.UserID)
	fmt.Fprintf(&b, "IP address:  %s\n", event.IPAddress)
	fmt.Fprintf(&b, "User agent:  %s\n", event.UserAgent)
	fmt.Fprintf(&b, "Occurred at: %s\n\n", event.CreatedAt.UTC().Format(time.RFC3339))
	b.WriteString(event.Description)
	b.WriteString("\n")
	return b.String()
}

// MultiAlertHandler fans an event out to every handler and joins their errors
type MultiAlertHandler []AlertHandler

func (m MultiAlertHandler) HandleCriticalEvent(ctx context.Context, event *models.SecurityEvent) error {
	var errs []error
	for _, h := range m {
		if err := h.HandleCriticalEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
