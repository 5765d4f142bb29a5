package leads

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const latestKey = "latest"

// CachedFetcher shares one upstream fetch between every session polling within
// TTL. Misses ("nothing to show") are cached too; errors are not.
type CachedFetcher struct {
	next  Fetcher
	cache *gocache.Cache
	ttl   time.Duration

	// one upstream call at a time; waiters reuse its result
	mu sync.Mutex
}

type cachedLatest struct {
	lead Lead
	ok   bool
}

func NewCachedFetcher(next Fetcher, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (f *CachedFetcher) FetchLatestIncoming(ctx context.Context) (Lead, bool, error) {
	if v, found := f.cache.Get(latestKey); found {
		c := v.(cachedLatest)
		return c.lead, c.ok, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if v, found := f.cache.Get(latestKey); found {
		c := v.(cachedLatest)
		return c.lead, c.ok, nil
	}
	l, ok, err := f.next.FetchLatestIncoming(ctx)
	if err != nil {
		return Lead{}, false, err
	}
	f.cache.Set(latestKey, cachedLatest{lead: l, ok: ok}, f.ttl)
	return l, ok, nil
}

// Invalidate drops the cached answer so the next poll goes upstream.
func (f *CachedFetcher) Invalidate() { f.cache.Delete(latestKey) }
