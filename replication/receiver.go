package replication

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/asajjanshetty/libsql/utils/log"
)

const (
	defaultRetryInterval = time.Second
	defaultBackoffCoeff  = 2
)

// FrameSource is the stream of committed frames a replica follows.
// Implementations connect to the primary's replication service.
type FrameSource interface {
	// Connect opens the stream starting at frame number nextFrameNo.
	Connect(ctx context.Context, nextFrameNo uint64) error
	// Next blocks until a batch arrives. It returns io.EOF when the
	// primary closed the log and the stream ended cleanly.
	Next(ctx context.Context) (*FrameBatch, error)
	Close() error
}

// Receiver follows a primary's replication log and injects every
// shipped batch into the local database. Stream-level failures are
// retried with exponential backoff; a clean end of stream (the primary
// shut the log down) stops the receiver without error.
type Receiver struct {
	src      FrameSource
	injector *Injector
	retryer  *Retryer
}

func NewReceiver(src FrameSource, injector *Injector) *Receiver {
	r := &Receiver{src: src, injector: injector}
	r.retryer = NewRetryer(r.follow, defaultRetryInterval, defaultBackoffCoeff)
	return r
}

// Run follows the primary until the stream ends cleanly, an
// unrecoverable error occurs, or ctx is canceled.
func (r *Receiver) Run(ctx context.Context) error {
	return r.retryer.Run(ctx)
}

func (r *Receiver) follow(ctx context.Context) error {
	if err := r.src.Connect(ctx, r.injector.NextFrameNo()); err != nil {
		log.Warn("failed to connect to primary replication stream: %v", err)
		return errors.Wrap(ErrRetryable, err.Error())
	}
	defer r.src.Close()

	for {
		batch, err := r.src.Next(ctx)
		if err == io.EOF {
			log.Info("primary closed the replication log, stopping receiver")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("replication stream failed: %v", err)
			return errors.Wrap(ErrRetryable, err.Error())
		}

		if err := r.injector.Apply(batch); err != nil {
			if errors.Is(err, ErrFrameGap) {
				// Reconnect from the frame the local log expects.
				log.Warn("replication stream out of sequence: %v", err)
				return errors.Wrap(ErrRetryable, err.Error())
			}
			return err
		}
	}
}
