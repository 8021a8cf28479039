package poller

import (
	"context"
	"fmt"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/model"
)

// Publisher is the producer side of the REST API. *api.Client implements it.
type Publisher interface {
	StartNewBatch(ctx context.Context) (*api.BatchResponse, error)
	Upload(ctx context.Context, batchID string, records []api.PriceRecord) (*api.BatchResponse, error)
	Complete(ctx context.Context, batchID string) (*api.CompleteResponse, error)
	Cancel(ctx context.Context, batchID string) (*api.CancelResponse, error)
}

// Publish returns a Handler that commits each cycle to pub as one batch.
// A failed upload cancels the batch so nothing partial is left open.
func Publish(pub Publisher) Handler {
	return HandlerFunc(func(ctx context.Context, quotes []model.Observation) error {
		started, err := pub.StartNewBatch(ctx)
		if err != nil {
			return fmt.Errorf("start batch: %w", err)
		}
		id := started.BatchID

		if _, err := pub.Upload(ctx, id, api.FromObservations(quotes)); err != nil {
			pub.Cancel(context.WithoutCancel(ctx), id)
			return fmt.Errorf("upload batch %s: %w", id, err)
		}
		if _, err := pub.Complete(ctx, id); err != nil {
			return fmt.Errorf("complete batch %s: %w", id, err)
		}
		return nil
	})
}
