package mail

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
)

// FailureCategory is a stable classification of transport failures used for
// user-facing diagnostics. Categories never escape the dispatch boundary as
// errors; they travel inside result values.
type FailureCategory string

const (
	FailureNone        FailureCategory = ""
	FailureTimeout     FailureCategory = "timeout"
	FailureUnreachable FailureCategory = "unreachable"
	FailureReset       FailureCategory = "reset"
	FailureOther       FailureCategory = "other"
)

var diagnostics = map[FailureCategory]string{
	FailureTimeout:     "the mail gateway timed out before accepting the message",
	FailureUnreachable: "the mail gateway could not be reached (connection refused or DNS failure)",
	FailureReset:       "the connection to the mail gateway was reset mid-send",
	FailureOther:       "the mail gateway reported an unexpected failure",
}

// Diagnostic returns the human-readable explanation for a category.
func (c FailureCategory) Diagnostic() string {
	return diagnostics[c]
}

// Classify maps a transport error to a stable failure category.
func Classify(err error) FailureCategory {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureUnreachable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return FailureReset
	}
	return FailureOther
}

// Sleeper abstracts backoff waits so retry behavior is testable without
// real delay.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy bounds the per-recipient retry state machine.
type RetryPolicy struct {
	// ConnectAttempts bounds handle establishment; waits between attempts
	// grow as ConnectBackoff * 2^(attempt-1).
	ConnectAttempts int
	ConnectBackoff  time.Duration
	// SendAttempts bounds sends on a live handle; waits between attempts
	// grow as SendBackoff * attempt.
	SendAttempts int
	SendBackoff  time.Duration
}

// PolicyFromConfig builds a policy from mail configuration, flooring
// attempt counts at one.
func PolicyFromConfig(cfg config.MailConfig) RetryPolicy {
	policy := RetryPolicy{
		ConnectAttempts: cfg.ConnectAttempts,
		ConnectBackoff:  cfg.ConnectBackoff(),
		SendAttempts:    cfg.SendAttempts,
		SendBackoff:     cfg.SendBackoff(),
	}
	if policy.ConnectAttempts < 1 {
		policy.ConnectAttempts = 1
	}
	if policy.SendAttempts < 1 {
		policy.SendAttempts = 1
	}
	return policy
}

// SendOutcome is the result of one per-recipient delivery attempt sequence.
type SendOutcome struct {
	Recipient string
	Success   bool
	Category  FailureCategory
	Detail    string
	Attempts  int
	Duration  time.Duration
}

// Transport performs one best-effort delivery to one recipient, absorbing
// gateway failures into SendOutcome values.
type Transport struct {
	gateway Gateway
	policy  RetryPolicy
	sleeper Sleeper
	logger  *zap.Logger
}

// NewTransport constructs a transport with wall-clock backoff waits.
func NewTransport(gateway Gateway, policy RetryPolicy, logger *zap.Logger) *Transport {
	return NewTransportWithSleeper(gateway, policy, realSleeper{}, logger)
}

// NewTransportWithSleeper allows injecting the backoff clock.
func NewTransportWithSleeper(gateway Gateway, policy RetryPolicy, sleeper Sleeper, logger *zap.Logger) *Transport {
	if policy.ConnectAttempts < 1 {
		policy.ConnectAttempts = 1
	}
	if policy.SendAttempts < 1 {
		policy.SendAttempts = 1
	}
	return &Transport{gateway: gateway, policy: policy, sleeper: sleeper, logger: logger}
}

// DeliverTo attempts delivery of one message to one recipient. It never
// returns an error: every failure mode ends up classified in the outcome.
func (t *Transport) DeliverTo(ctx context.Context, to, subject, body string) SendOutcome {
	start := time.Now()
	outcome := SendOutcome{Recipient: to}

	handle, connectAttempts, connectErr := t.connect(ctx)
	outcome.Attempts = connectAttempts
	if connectErr != nil {
		outcome.Category = Classify(connectErr)
		outcome.Detail = outcome.Category.Diagnostic()
		outcome.Duration = time.Since(start)
		t.logger.Warn("mail handle establishment failed",
			zap.String("recipient", to),
			zap.String("category", string(outcome.Category)),
			zap.Int("attempts", connectAttempts),
			zap.Error(connectErr))
		return outcome
	}
	defer handle.Close() //nolint:errcheck

	sendAttempts, sendErr := t.send(ctx, handle, Message{To: to, Subject: subject, Body: body})
	outcome.Attempts = sendAttempts
	outcome.Duration = time.Since(start)
	if sendErr != nil {
		outcome.Category = Classify(sendErr)
		outcome.Detail = outcome.Category.Diagnostic()
		t.logger.Warn("mail send failed",
			zap.String("recipient", to),
			zap.String("subject", subject),
			zap.String("category", string(outcome.Category)),
			zap.Int("attempts", sendAttempts),
			zap.Duration("duration", outcome.Duration),
			zap.Error(sendErr))
		return outcome
	}

	outcome.Success = true
	return outcome
}

// connect establishes a handle with exponential backoff between attempts:
// wait = ConnectBackoff * 2^(attempt-1) after failed attempt N.
func (t *Transport) connect(ctx context.Context) (Handle, int, error) {
	var lastErr error
	for attempt := 1; attempt <= t.policy.ConnectAttempts; attempt++ {
		handle, err := t.gateway.Connect(ctx)
		if err == nil {
			return handle, attempt, nil
		}
		lastErr = err
		if attempt < t.policy.ConnectAttempts {
			wait := t.policy.ConnectBackoff << (attempt - 1)
			if sleepErr := t.sleeper.Sleep(ctx, wait); sleepErr != nil {
				return nil, attempt, lastErr
			}
		}
	}
	return nil, t.policy.ConnectAttempts, lastErr
}

// send retries on a live handle with linear backoff: wait = SendBackoff *
// attempt after failed attempt N.
func (t *Transport) send(ctx context.Context, handle Handle, msg Message) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= t.policy.SendAttempts; attempt++ {
		err := handle.Send(ctx, msg)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if attempt < t.policy.SendAttempts {
			wait := t.policy.SendBackoff * time.Duration(attempt)
			if sleepErr := t.sleeper.Sleep(ctx, wait); sleepErr != nil {
				return attempt, lastErr
			}
		}
	}
	return t.policy.SendAttempts, lastErr
}
