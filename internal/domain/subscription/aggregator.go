package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bract/internal/domain/connection"
)

var (
	aggTracer = otel.Tracer("bract/subscription")
	aggMeter  = otel.Meter("bract/subscription")
)

var connectionFetches, _ = aggMeter.Int64Counter("subscription.connection.fetch.total",
	metric.WithDescription("Per-connection recurring stream fetches by outcome"))

// RawStream is an outflow stream as the provider reports it, before amounts
// and dates are normalized.
type RawStream struct {
	StreamID          string
	MerchantName      string
	Description       string
	Category          string
	Frequency         string
	PredictedNextDate string
	IsActive          bool
	AverageAmount     json.RawMessage
	LastAmount        json.RawMessage
	CurrencyCode      string
}

// Provider lists the recurring outflow streams of one connection.
type Provider interface {
	ListRecurringStreams(ctx context.Context, credential connection.Credential) ([]RawStream, error)
}

// ConnectionLister yields a user's bank connections with their credentials.
type ConnectionLister interface {
	ListByUser(ctx context.Context, userID string) ([]*connection.Connection, error)
}

type Options struct {
	// Concurrency bounds provider calls in flight per Fetch.
	Concurrency int
	CacheSize   int
	// CacheTTL of zero disables caching.
	CacheTTL time.Duration
}

type connectionResult struct {
	streams []Stream
	errs    []*ConnectionError
}

// Aggregator merges the recurring streams of all of a user's connections.
type Aggregator struct {
	connections ConnectionLister
	provider    Provider
	cache       *expirable.LRU[string, connectionResult]
	concurrency int
	log         *zap.Logger
}

func NewAggregator(connections ConnectionLister, provider Provider, log *zap.Logger, opts Options) *Aggregator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = 1024
	}

	a := &Aggregator{
		connections: connections,
		provider:    provider,
		concurrency: opts.Concurrency,
		log:         log.With(zap.String("component", "aggregator")),
	}
	if opts.CacheTTL > 0 {
		a.cache = expirable.NewLRU[string, connectionResult](opts.CacheSize, nil, opts.CacheTTL)
	}
	return a
}

// Fetch returns the user's de-duplicated streams ordered by (connection,
// stream). A user with no connections gets ErrNoLinkedAccounts. A failing
// connection is reported in FetchResult.Errors and does not hide the others;
// only when every connection fails is ErrAllConnectionsFailed returned, still
// alongside the result.
func (a *Aggregator) Fetch(ctx context.Context, userID string) (*FetchResult, error) {
	ctx, span := aggTracer.Start(ctx, "subscription.fetch", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	conns, err := a.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	if len(conns) == 0 {
		return nil, ErrNoLinkedAccounts
	}

	results := make([]connectionResult, len(conns))
	failed := make([]bool, len(conns))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, conn := range conns {
		g.Go(func() error {
			res, err := a.fetchConnection(ctx, conn)
			if err != nil {
				failed[i] = true
				a.log.Warn("connection fetch failed",
					zap.String("user_id", userID),
					zap.String("item_id", conn.ID),
					zap.Error(err),
				)
				results[i] = connectionResult{errs: []*ConnectionError{{ConnectionID: conn.ID, Err: err}}}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	result := merge(results)
	span.SetAttributes(
		attribute.Int("subscription.streams", len(result.Streams)),
		attribute.Int("subscription.errors", len(result.Errors)),
	)

	for _, f := range failed {
		if !f {
			return result, nil
		}
	}
	return result, ErrAllConnectionsFailed
}

// Invalidate drops cached streams of a connection.
func (a *Aggregator) Invalidate(connectionID string) {
	if a.cache != nil {
		a.cache.Remove(connectionID)
	}
}

func (a *Aggregator) fetchConnection(ctx context.Context, conn *connection.Connection) (connectionResult, error) {
	if a.cache != nil {
		if res, ok := a.cache.Get(conn.ID); ok {
			connectionFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "cached")))
			return res, nil
		}
	}

	raw, err := a.provider.ListRecurringStreams(ctx, conn.Credential)
	if err != nil {
		connectionFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
		return connectionResult{}, err
	}
	connectionFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))

	var res connectionResult
	for _, rs := range raw {
		if !IsSubscription(rs) {
			continue
		}
		stream, err := normalize(conn.ID, rs)
		if err != nil {
			a.log.Warn("dropping stream with unrecognized data",
				zap.String("item_id", conn.ID),
				zap.String("stream_id", rs.StreamID),
				zap.Error(err),
			)
			res.errs = append(res.errs, &ConnectionError{ConnectionID: conn.ID, StreamID: rs.StreamID, Err: err})
			continue
		}
		res.streams = append(res.streams, stream)
	}

	if a.cache != nil {
		a.cache.Add(conn.ID, res)
	}
	return res, nil
}

func normalize(connectionID string, rs RawStream) (Stream, error) {
	avg, err := NormalizeAmount(rs.AverageAmount, rs.CurrencyCode)
	if err != nil {
		return Stream{}, fmt.Errorf("average_amount: %w", err)
	}
	last, err := NormalizeAmount(rs.LastAmount, rs.CurrencyCode)
	if err != nil {
		return Stream{}, fmt.Errorf("last_amount: %w", err)
	}

	var next Date
	if rs.PredictedNextDate != "" {
		next, err = ParseDate(rs.PredictedNextDate)
		if err != nil {
			return Stream{}, fmt.Errorf("predicted_next_date: %w", err)
		}
	}

	return Stream{
		ConnectionID:      connectionID,
		StreamID:          rs.StreamID,
		MerchantName:      rs.MerchantName,
		Description:       rs.Description,
		Category:          rs.Category,
		Frequency:         ParseFrequency(rs.Frequency),
		AverageAmount:     avg,
		LastAmount:        last,
		PredictedNextDate: next,
		IsActive:          rs.IsActive,
	}, nil
}

func merge(results []connectionResult) *FetchResult {
	type key struct{ conn, stream string }

	out := &FetchResult{}
	seen := make(map[key]struct{})
	for _, res := range results {
		for _, s := range res.streams {
			k := key{s.ConnectionID, s.StreamID}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out.Streams = append(out.Streams, s)
		}
		out.Errors = append(out.Errors, res.errs...)
	}

	sort.SliceStable(out.Streams, func(i, j int) bool {
		if out.Streams[i].ConnectionID != out.Streams[j].ConnectionID {
			return out.Streams[i].ConnectionID < out.Streams[j].ConnectionID
		}
		return out.Streams[i].StreamID < out.Streams[j].StreamID
	})
	return out
}
