package realtime

import (
	"context"

	"go.uber.org/zap"
)

// Notifier is what services call after a committed write.
type Notifier interface {
	Publish(ctx context.Context, c Change) error
}

// Remote forwards changes to other service instances.
type Remote interface {
	PublishChange(ctx context.Context, c Change) error
}

// Fanout publishes to the local broker and then to the remote transport.
// Remote failures are logged and swallowed; the write they describe is
// already committed.
type Fanout struct {
	local      *Broker
	remote     Remote
	instanceID string
	logger     *zap.Logger
}

// NewFanout builds a Fanout. remote may be nil for a single-instance setup.
func NewFanout(local *Broker, remote Remote, instanceID string, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{local: local, remote: remote, instanceID: instanceID, logger: logger}
}

func (f *Fanout) Publish(ctx context.Context, c Change) error {
	if err := f.local.Publish(ctx, c); err != nil {
		return err
	}
	if f.remote == nil {
		return nil
	}
	c.Origin = f.instanceID
	if err := f.remote.PublishChange(ctx, c); err != nil {
		f.logger.Warn("remote change publish failed", zap.String("kind", string(c.Kind)), zap.Error(err))
	}
	return nil
}

// Deliver injects a change received from another instance into the local
// broker. Changes that originated here are skipped.
func (f *Fanout) Deliver(ctx context.Context, c Change) {
	if c.Origin != "" && c.Origin == f.instanceID {
		return
	}
	_ = f.local.Publish(ctx, c)
}
