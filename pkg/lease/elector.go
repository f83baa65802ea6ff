package lease

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fenlabs/ballast/pkg/events"
	"github.com/fenlabs/ballast/pkg/log"
	"github.com/fenlabs/ballast/pkg/metrics"
)

// Store is the slice of the relational store the elector needs.
type Store interface {
	AcquireLease(ctx context.Context, partitionID, holderID string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, partitionID, holderID string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, partitionID, holderID string) error
}

// Config holds the lease timing parameters. Renew must stay well under TTL;
// config validation enforces renew < ttl and the defaults keep a 2.5x margin.
type Config struct {
	TTL   time.Duration
	Renew time.Duration
}

// Elector contends for one partition's lease. The database row is the only
// authority: acquisition, renewal, and expiry are all judged by the database
// clock, and the fence check inside every batch commit re-verifies ownership
// at the moment it matters.
//
// The elector never makes a worker leader on its own; the worker calls
// TryAcquire from its candidate state and runs KeepAlive while leading.
type Elector struct {
	store       Store
	partitionID string
	holderID    string
	cfg         Config

	broker *events.Broker
	logger zerolog.Logger
}

// NewElector returns an elector for one partition.
func NewElector(store Store, partitionID, holderID string, cfg Config, broker *events.Broker) *Elector {
	return &Elector{
		store:       store,
		partitionID: partitionID,
		holderID:    holderID,
		cfg:         cfg,
		broker:      broker,
		logger: log.WithComponent("elector").With().
			Str("partition", partitionID).
			Str("holder_id", holderID).
			Logger(),
	}
}

// PartitionID returns the partition this elector contends for.
func (e *Elector) PartitionID() string {
	return e.partitionID
}

// HolderID returns the identity written into the lease row.
func (e *Elector) HolderID() string {
	return e.holderID
}

// TryAcquire makes one acquisition attempt. It succeeds when the lease row
// is absent, expired, or already ours.
func (e *Elector) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.store.AcquireLease(ctx, e.partitionID, e.holderID, e.cfg.TTL)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.LeaseHeld.WithLabelValues(e.partitionID).Set(1)
		e.broker.Emit(events.EventLeaderElected, e.partitionID, e.holderID)
		e.logger.Info().Msg("acquired partition lease")
	}
	return ok, nil
}

// KeepAlive renews the lease every Renew interval until ctx is canceled or
// the lease is lost. The returned channel closes on loss.
//
// A renewal that cleanly reports zero rows means another holder took over:
// that is immediate loss. A renewal error is treated as transient and
// retried, but only until the lease would have expired anyway; past that
// point ownership cannot be assumed and loss is declared.
func (e *Elector) KeepAlive(ctx context.Context) <-chan struct{} {
	lost := make(chan struct{})

	go func() {
		defer close(lost)

		ticker := time.NewTicker(e.cfg.Renew)
		defer ticker.Stop()

		deadline := time.Now().Add(e.cfg.TTL)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := e.store.RenewLease(ctx, e.partitionID, e.holderID, e.cfg.TTL)
				if err != nil {
					if time.Now().After(deadline) {
						e.logger.Warn().Err(err).Msg("lease renewal failing past TTL, assuming lost")
						e.markLost()
						return
					}
					e.logger.Warn().Err(err).Msg("lease renewal failed, retrying")
					continue
				}
				if !ok {
					e.logger.Warn().Msg("lease taken by another holder")
					e.markLost()
					return
				}
				deadline = time.Now().Add(e.cfg.TTL)
			}
		}
	}()

	return lost
}

// Release deletes the lease row if still ours, letting a follower take over
// without waiting out the TTL. Called on graceful shutdown and demotion.
func (e *Elector) Release(ctx context.Context) error {
	metrics.LeaseHeld.WithLabelValues(e.partitionID).Set(0)
	if err := e.store.ReleaseLease(ctx, e.partitionID, e.holderID); err != nil {
		return err
	}
	e.broker.Emit(events.EventLeaderReleased, e.partitionID, e.holderID)
	e.logger.Info().Msg("released partition lease")
	return nil
}

func (e *Elector) markLost() {
	metrics.LeaseHeld.WithLabelValues(e.partitionID).Set(0)
	metrics.LeaseLost.Inc()
	e.broker.Emit(events.EventLeaderLost, e.partitionID, e.holderID)
}
