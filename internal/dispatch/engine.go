// internal/dispatch/engine.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/model"
)

const (
	DefaultConcurrency = 5
	DefaultSendTimeout = 15 * time.Second
)

// ContentFunc renders the deliverable content for one recipient, with
// that recipient's own template data already overlaid on the defaults.
type ContentFunc func(r model.Recipient) Message

// Engine drives concurrent delivery through a bounded worker pool.
// Each recipient is an independent unit of work: one failure never
// aborts or rolls back any other recipient's delivery.
type Engine struct {
	Transport   Transport
	Concurrency int
	SendTimeout time.Duration
}

func NewEngine(transport Transport, concurrency int, sendTimeout time.Duration) *Engine {
	return &Engine{
		Transport:   transport,
		Concurrency: concurrency,
		SendTimeout: sendTimeout,
	}
}

// Dispatch delivers to every recipient and returns one terminal outcome
// per started unit, sorted by recipient email so re-reads of the same
// completed dispatch are deterministic.
//
// If ctx is canceled mid-dispatch, units already handed to the
// transport finish, queued units are not started, and the outcomes
// collected so far are returned together with the context error so the
// caller can still record a partial log.
func (e *Engine) Dispatch(ctx context.Context, recipients []model.Recipient, content ContentFunc) ([]model.RecipientOutcome, error) {
	if len(recipients) == 0 {
		return nil, appErrors.NewValidation("dispatch requires at least one recipient")
	}

	workers := e.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if workers > len(recipients) {
		workers = len(recipients)
	}
	timeout := e.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	jobs := make(chan model.Recipient)
	results := make(chan model.RecipientOutcome, len(recipients))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range jobs {
				results <- e.deliver(r, content, timeout)
			}
		}()
	}

	canceled := false
feed:
	for _, r := range recipients {
		select {
		case jobs <- r:
		case <-ctx.Done():
			canceled = true
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]model.RecipientOutcome, 0, len(recipients))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].Email < outcomes[j].Email
	})

	if canceled {
		return outcomes, ctx.Err()
	}
	return outcomes, nil
}

// deliver sends to one recipient. The unit context derives from
// Background, not the caller: an in-flight send is allowed to finish
// even after the dispatch is canceled.
func (e *Engine) deliver(r model.Recipient, content ContentFunc, timeout time.Duration) model.RecipientOutcome {
	sendCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out := model.RecipientOutcome{Email: r.Email, UserID: r.UserID}

	if err := e.Transport.Send(sendCtx, content(r)); err != nil {
		out.Status = model.StatusFailed
		out.ErrorMessage = deliveryMessage(err, timeout)
		return out
	}

	now := time.Now().UTC()
	out.Status = model.StatusSent
	out.SentAt = &now
	return out
}

func deliveryMessage(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("delivery timed out after %s", timeout)
	}
	return err.Error()
}
