package source

import (
	"context"
	"errors"

	"github.com/saribumi/brandreach/internal/resilience"
	"github.com/saribumi/brandreach/pkg/pagereader"
)

// readerFetcher adapts a pagereader client into the Fetcher contract,
// retrying transient network failures.
type readerFetcher struct {
	client pagereader.Client
	retry  resilience.RetryConfig
}

// NewReaderFetcher wraps a pagereader client for page-text retrieval.
func NewReaderFetcher(client pagereader.Client) Fetcher {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("pagereader", "read")
	return &readerFetcher{client: client, retry: cfg}
}

func (f *readerFetcher) Fetch(ctx context.Context, url string) (string, error) {
	resp, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*pagereader.ReadResponse, error) {
		resp, err := f.client.Read(ctx, url)
		var se *pagereader.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.Code) {
			return nil, resilience.NewTransientError(err, se.Code)
		}
		return resp, err
	})
	if err != nil {
		return "", classify(err, "reader")
	}
	return resp.Data.Content, nil
}
