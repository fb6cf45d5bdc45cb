// Package notify delivers owner notifications. Delivery is best effort:
// failures are logged and never reach the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sendTimeout = 30 * time.Second

type Sender interface {
	Send(ctx context.Context, toEmail, subject, bodyHTML string) error
}

// Dispatcher sends in the background.
type Dispatcher struct {
	sender Sender
	log    *zap.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		log:    log.Named("notify"),
	}
}

func (d *Dispatcher) Notify(toEmail, subject, bodyHTML string) {
	if toEmail == "" {
		d.log.Debug("owner has no email, skipping notification", zap.String("subject", subject))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := d.sender.Send(ctx, toEmail, subject, bodyHTML); err != nil {
			d.log.Warn("notification failed", zap.String("to", toEmail), zap.String("subject", subject), zap.Error(err))
			return
		}
		d.log.Debug("notification sent", zap.String("to", toEmail), zap.String("subject", subject))
	}()
}

// Wait blocks until every pending notification finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type logSender struct {
	log *zap.Logger
}

// NewLogSender only logs; used while mail delivery is disabled.
func NewLogSender(log *zap.Logger) Sender {
	return &logSender{log: log}
}

func (s *logSender) Send(ctx context.Context, toEmail, subject, bodyHTML string) error {
	s.log.Info("notification", zap.String("to", toEmail), zap.String("subject", subject), zap.String("body", bodyHTML))
	return nil
}
