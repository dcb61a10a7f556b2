package collector

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/scanner"
)

// requestLimits is shared by every source of a run. inFlight caps concurrent requests across
// all upstreams; limiters pace each upstream endpoint, however many sources use it.
type requestLimits struct {
	inFlight *semaphore.Weighted
	rps      float64
	limiters map[string]*rate.Limiter
}

func newRequestLimits(concurrency int, rps float64) *requestLimits {
	if concurrency < 1 {
		concurrency = 1
	}
	return &requestLimits{
		inFlight: semaphore.NewWeighted(int64(concurrency)),
		rps:      rps,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the endpoint's shared limiter, or nil when pacing is disabled.
func (r *requestLimits) limiter(endpoint string) *rate.Limiter {
	if r.rps <= 0 {
		return nil
	}
	if l, ok := r.limiters[endpoint]; ok {
		return l
	}
	l := newLimiter(r.rps)
	r.limiters[endpoint] = l
	return l
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// gatedFetcher holds an in-flight slot for the duration of each RPC call.
type gatedFetcher struct {
	fetcher  scanner.LogFetcher
	inFlight *semaphore.Weighted
}

func (f *gatedFetcher) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	if err := f.inFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.inFlight.Release(1)
	return f.fetcher.FilterLogs(ctx, q)
}

func (f *gatedFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.inFlight.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer f.inFlight.Release(1)
	return f.fetcher.BlockNumber(ctx)
}

func (f *gatedFetcher) Close() {
	if c, ok := f.fetcher.(interface{ Close() }); ok {
		c.Close()
	}
}

// gatedTransport holds an in-flight slot from sending a request until its body is closed.
type gatedTransport struct {
	base     http.RoundTripper
	inFlight *semaphore.Weighted
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.inFlight.Acquire(req.Context(), 1); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.inFlight.Release(1)
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: sync.OnceFunc(func() { t.inFlight.Release(1) })}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
