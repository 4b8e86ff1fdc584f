package indexer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/providers/fab"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("orgregistry.indexer")

var errStreamClosed = errors.New("event stream closed")

// Source delivers chaincode events. *registryclient.Client satisfies it.
type Source interface {
	RegisterEvent(filter string) (fab.Registration, <-chan *fab.CCEvent, error)
	Unregister(reg fab.Registration)
}

// Indexer applies registry events to a Store until its context ends.
type Indexer struct {
	source  Source
	store   Store
	metrics *Metrics

	// newBackOff paces resubscription and store retries.
	newBackOff func() backoff.BackOff
}

type Option func(*Indexer)

// WithBackOff replaces the exponential retry policy.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(ix *Indexer) { ix.newBackOff = f }
}

func New(source Source, store Store, metrics *Metrics, opts ...Option) *Indexer {
	ix := &Indexer{
		source:  source,
		store:   store,
		metrics: metrics,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Run subscribes to the registry events and applies them, resubscribing when the stream drops.
// It returns nil once ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	logger.Infof("indexing events matching %s", EventFilter)
	err := backoff.RetryNotify(
		func() error { return ix.consume(ctx) },
		backoff.WithContext(ix.newBackOff(), ctx),
		func(err error, next time.Duration) {
			logger.Warningf("event subscription failed, retrying in %s: %v", next, err)
		},
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (ix *Indexer) consume(ctx context.Context) error {
	reg, events, err := ix.source.RegisterEvent(EventFilter)
	if err != nil {
		return err
	}
	defer ix.source.Unregister(reg)
	ix.metrics.Subscriptions.Inc()

	for {
		select {
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return errStreamClosed
			}
			if err := ix.handle(ctx, ev); err != nil {
				return backoff.Permanent(err)
			}
		}
	}
}

// handle applies one event, retrying store failures. Only context cancellation ends the retry.
func (ix *Indexer) handle(ctx context.Context, raw *fab.CCEvent) error {
	ev, err := Decode(raw)
	if err != nil {
		logger.Warningf("skipping event: %v", err)
		ix.metrics.observe(raw.EventName, "ignored")
		return nil
	}

	var changed bool
	err = backoff.RetryNotify(
		func() error {
			var err error
			changed, err = ix.store.Apply(ctx, ev)
			return err
		},
		backoff.WithContext(ix.newBackOff(), ctx),
		func(err error, next time.Duration) {
			ix.metrics.observe(ev.Name, "failed")
			logger.Errorf("failed to apply %s from tx %s, retrying in %s: %v", ev.Name, ev.TxID, next, err)
		},
	)
	if err != nil {
		return err
	}

	ix.metrics.LastBlock.Set(float64(ev.BlockNumber))
	if changed {
		ix.metrics.observe(ev.Name, "applied")
		logger.Debugf("applied %s from tx %s (block %d)", ev.Name, ev.TxID, ev.BlockNumber)
	} else {
		ix.metrics.observe(ev.Name, "skipped")
	}
	return nil
}
