package api

import (
	"context"
	"net/url"
	"strconv"
)

// StartBatch starts a batch with the given id.
func (c *Client) StartBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.post(ctx, batchPath(batchID, "start"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartNewBatch starts a batch with a server-generated id.
func (c *Client) StartNewBatch(ctx context.Context) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.post(ctx, "/api/prices/batch", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Upload appends records to a started batch.
func (c *Client) Upload(ctx context.Context, batchID string, records []PriceRecord) (*BatchResponse, error) {
	if records == nil {
		records = []PriceRecord{}
	}
	var resp BatchResponse
	if err := c.post(ctx, batchPath(batchID, "upload"), records, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete commits a batch.
func (c *Client) Complete(ctx context.Context, batchID string) (*CompleteResponse, error) {
	var resp CompleteResponse
	if err := c.post(ctx, batchPath(batchID, "complete"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel discards a batch.
func (c *Client) Cancel(ctx context.Context, batchID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.post(ctx, batchPath(batchID, "cancel"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatch returns the status of a batch.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	var resp BatchResponse
	if _, err := c.get(ctx, "/api/prices/batch/"+url.PathEscape(batchID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListBatches returns every batch the service knows.
func (c *Client) ListBatches(ctx context.Context) ([]BatchResponse, error) {
	var resp BatchListResponse
	if _, err := c.get(ctx, "/api/prices/batch", &resp); err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

// GetPrice returns the last price for an instrument. An unknown instrument
// yields an error matching ErrAbsent.
func (c *Client) GetPrice(ctx context.Context, instrumentID string) (*PriceRecord, error) {
	var resp PriceRecord
	if _, err := c.get(ctx, "/api/prices/"+url.PathEscape(instrumentID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot returns every stored price and the store version it was taken at.
func (c *Client) Snapshot(ctx context.Context) (map[string]PriceRecord, uint64, error) {
	var prices map[string]PriceRecord
	resp, err := c.get(ctx, "/api/prices", &prices)
	if err != nil {
		return nil, 0, err
	}

	version, _ := strconv.ParseUint(resp.Header.Get(VersionHeader), 10, 64)
	return prices, version, nil
}

func batchPath(batchID, action string) string {
	return "/api/prices/batch/" + url.PathEscape(batchID) + "/" + action
}
