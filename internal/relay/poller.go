package relay

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/metrics"
	"github.com/openherald/herald-pds/internal/storage"
)

const (
	// DefaultInterval is how often the poller walks the subscription
	// set.
	DefaultInterval = time.Hour
	// DefaultWorkers bounds concurrent outbound syncs.
	DefaultWorkers = 4

	pageSize = 100
)

// DefaultCollections are the remote collections polled for each
// subscribed DID.
var DefaultCollections = []string{
	dispatch.TypeLike,
	dispatch.TypeRepost,
	dispatch.TypeFollow,
	dispatch.TypePost,
}

// Poller periodically pulls records from every subscribed DID and
// hands them to the dispatcher.
type Poller struct {
	store       storage.Store
	dispatcher  *dispatch.Dispatcher
	resolver    *Resolver
	client      *Client
	interval    time.Duration
	workers     int
	collections []string
}

// NewPoller creates a Poller. interval <= 0 selects DefaultInterval,
// workers <= 0 selects DefaultWorkers.
func NewPoller(st storage.Store, d *dispatch.Dispatcher, res *Resolver, cl *Client, interval time.Duration, workers int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if res == nil {
		res = &Resolver{}
	}
	if cl == nil {
		cl = &Client{}
	}
	return &Poller{
		store:       st,
		dispatcher:  d,
		resolver:    res,
		client:      cl,
		interval:    interval,
		workers:     workers,
		collections: DefaultCollections,
	}
}

// Run polls on the configured interval until the context is
// cancelled. The first pass runs immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil {
			log.Printf("relay poll: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll syncs every subscribed DID once. A failure on one DID is logged
// and counted but does not stop the others; only listing the
// subscription set itself can fail the pass.
func (p *Poller) Poll(ctx context.Context) error {
	subs, err := p.store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	metrics.PollerCycles.Inc()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.syncDID(ctx, sub.DID); err != nil {
				log.Printf("relay sync %s: %v", sub.DID, err)
				metrics.PollerErrors.WithLabelValues(sub.DID).Inc()
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) syncDID(ctx context.Context, did string) error {
	id, err := p.resolver.Resolve(ctx, did)
	if err != nil {
		return err
	}
	author := dispatch.Author{DID: id.DID, Handle: id.Handle}

	for _, collection := range p.collections {
		cursor := ""
		for {
			records, next, err := p.client.ListRecords(ctx, id.Endpoint, did, collection, pageSize, cursor)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if err := p.dispatcher.Record(ctx, author, rec.URI, rec.Value); err != nil {
					return err
				}
			}
			if next == "" || len(records) == 0 {
				break
			}
			cursor = next
		}
	}
	return p.store.SetLastSync(ctx, did, time.Now().UTC())
}
