package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
)

// Delivery statuses recorded on the ledger
const (
	StatusSent     = "sent"
	StatusTimeout  = "timeout"
	StatusDisabled = "disabled"
)

const (
	DefaultSendTimeout = 15 * time.Second
	DefaultWait        = 3 * time.Second
)

// ErrDispatcherClosed is reported for sends after Close
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher sends notifications on a detached task and waits a bounded
// time for the result. A send still running after the wait keeps going in
// the background until its own timeout.
type Dispatcher struct {
	notifier    Notifier
	sendTimeout time.Duration
	wait        time.Duration
	logger      *telemetry.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil notifier disables delivery.
func NewDispatcher(notifier Notifier, sendTimeout, wait time.Duration) *Dispatcher {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Dispatcher{
		notifier:    notifier,
		sendTimeout: sendTimeout,
		wait:        wait,
		logger:      telemetry.NewLogger("notify"),
	}
}

// Dispatch sends n and returns the delivery status: sent, timeout,
// disabled or "failed: <reason>".
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) string {
	if d.notifier == nil {
		return StatusDisabled
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return failed(ErrDispatcherClosed)
	}
	d.wg.Add(1)
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
		defer cancel()

		err := d.notifier.Notify(sendCtx, n)
		done <- err
		if err != nil {
			d.logger.LogNotificationFailure(sendCtx, n.Event, err)
		}
	}()

	timer := time.NewTimer(d.wait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return failed(err)
		}
		return StatusSent
	case <-timer.C:
		return StatusTimeout
	}
}

// Close stops new sends and waits for in-flight ones or ctx
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failed(err error) string {
	return "failed: " + err.Error()
}
