package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CopySubjectPrefix marks derivative (CC) copies of a notification.
const CopySubjectPrefix = "[COPY] "

// Job is one conceptual notification: a primary recipient plus zero or more
// CC recipients who receive a derivative copy. Jobs are ephemeral and never
// survive a process restart.
type Job struct {
	Primary string
	CC      []string
	Subject string
	Body    string
}

// NewJob builds a job with the CC list deduplicated and the primary
// excluded. Recipient equality is an exact string match.
func NewJob(primary string, cc []string, subject, body string) Job {
	seen := map[string]struct{}{primary: {}}
	deduped := make([]string, 0, len(cc))
	for _, addr := range cc {
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		deduped = append(deduped, addr)
	}
	return Job{Primary: primary, CC: deduped, Subject: subject, Body: body}
}

// RecipientResult is one per-recipient outcome inside a dispatch.
type RecipientResult struct {
	Recipient string
	Copy      bool
	Success   bool
	Category  FailureCategory
	Detail    string
	Attempts  int
	Duration  time.Duration
}

// DispatchResult aggregates per-recipient outcomes. A dispatch counts as
// successful when at least one recipient was reached.
type DispatchResult struct {
	Recipients []RecipientResult
	Total      int
	Succeeded  int
	Failed     int
}

// Success reports whether at least one human was reached.
func (r DispatchResult) Success() bool {
	return r.Succeeded > 0
}

// Dispatcher fans one job out to its recipients, isolating every failure
// inside the aggregated result. It is safe to call from code paths that must
// not fail.
type Dispatcher struct {
	transport *Transport
	ccDelay   time.Duration
	sleeper   Sleeper
	logger    *zap.Logger
}

// NewDispatcher constructs a dispatcher with wall-clock inter-send delays.
func NewDispatcher(transport *Transport, ccDelay time.Duration, logger *zap.Logger) *Dispatcher {
	return NewDispatcherWithSleeper(transport, ccDelay, realSleeper{}, logger)
}

// NewDispatcherWithSleeper allows injecting the delay clock.
func NewDispatcherWithSleeper(transport *Transport, ccDelay time.Duration, sleeper Sleeper, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{transport: transport, ccDelay: ccDelay, sleeper: sleeper, logger: logger}
}

// Dispatch sends to the primary recipient first, then to each CC recipient
// with a fixed pause between sends so the gateway is not flooded. One
// recipient's failure never cancels another's send. Panics are converted
// into a failure record rather than propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (result DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic absorbed", zap.Any("panic", r), zap.String("primary", job.Primary))
			result.Recipients = append(result.Recipients, RecipientResult{
				Recipient: job.Primary,
				Category:  FailureOther,
				Detail:    fmt.Sprintf("dispatch aborted: %v", r),
			})
			result.tally()
		}
	}()

	result.Recipients = append(result.Recipients, d.deliver(ctx, job.Primary, job.Subject, job.Body, false))

	for _, cc := range job.CC {
		if cc == job.Primary {
			// exact string match, no normalization
			continue
		}
		_ = d.sleeper.Sleep(ctx, d.ccDelay)
		subject := CopySubjectPrefix + job.Subject
		body := annotateCopy(job.Body, job.Primary)
		result.Recipients = append(result.Recipients, d.deliver(ctx, cc, subject, body, true))
	}

	result.tally()
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, to, subject, body string, isCopy bool) RecipientResult {
	outcome := d.transport.DeliverTo(ctx, to, subject, body)
	return RecipientResult{
		Recipient: to,
		Copy:      isCopy,
		Success:   outcome.Success,
		Category:  outcome.Category,
		Detail:    outcome.Detail,
		Attempts:  outcome.Attempts,
		Duration:  outcome.Duration,
	}
}

func (r *DispatchResult) tally() {
	r.Total = len(r.Recipients)
	r.Succeeded = 0
	r.Failed = 0
	for _, recipient := range r.Recipients {
		if recipient.Success {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
}

func annotateCopy(body, primary string) string {
	return fmt.Sprintf("<p><em>This is a copy of a notification sent to %s.</em></p>%s", primary, body)
}
