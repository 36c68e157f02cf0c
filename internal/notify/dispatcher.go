package notify

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Dispatcher fans notification deliveries out to a bounded worker pool so a
// slow transport cannot stall a signing request. Errors are logged and
// dropped.
type Dispatcher struct {
	pool    *ants.Pool
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
}

func NewDispatcher(sender Sender, workers int, logger *zap.Logger) (*Dispatcher, error) {
	pool, err := ants.NewPool(workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:    pool,
		sender:  sender,
		logger:  logger.With(zap.String("component", "notify_dispatcher")),
		timeout: 30 * time.Second,
	}, nil
}

func (d *Dispatcher) submit(name string, fn func(ctx context.Context) error) {
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Warn("Notification delivery failed",
				zap.String("kind", name),
				zap.Error(err))
		}
	})
	if err != nil {
		d.logger.Warn("Notification submit failed",
			zap.String("kind", name),
			zap.Error(err))
	}
}

func (d *Dispatcher) SendSigningRequest(_ context.Context, recipientEmail, recipientName, documentID, documentName, signingToken string) error {
	d.submit("signing_request", func(ctx context.Context) error {
		return d.sender.SendSigningRequest(ctx, recipientEmail, recipientName, documentID, documentName, signingToken)
	})
	return nil
}

func (d *Dispatcher) SendRejectionNotice(_ context.Context, ownerEmail, documentName, recipientEmail string) error {
	d.submit("rejection_notice", func(ctx context.Context) error {
		return d.sender.SendRejectionNotice(ctx, ownerEmail, documentName, recipientEmail)
	})
	return nil
}

func (d *Dispatcher) Release() {
	d.pool.Release()
}
