package leads

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCachedFetcher_SharesUpstreamCall(t *testing.T) {
	up := NewMemoryFetcher()
	up.SetLatest(&Lead{ID: "L1"})
	f := NewCachedFetcher(up, time.Minute)

	for i := 0; i < 5; i++ {
		l, ok, err := f.FetchLatestIncoming(context.Background())
		if err != nil || !ok || l.ID != "L1" {
			t.Fatalf("unexpected fetch: %+v ok=%v err=%v", l, ok, err)
		}
	}
	if up.Calls() != 1 {
		t.Fatalf("expected one upstream call, got %d", up.Calls())
	}

	up.SetLatest(&Lead{ID: "L2"})
	f.Invalidate()
	if l, _, _ := f.FetchLatestIncoming(context.Background()); l.ID != "L2" {
		t.Fatalf("expected fresh lead after invalidate, got %q", l.ID)
	}
}

func TestCachedFetcher_DoesNotCacheErrors(t *testing.T) {
	up := NewMemoryFetcher()
	up.SetErr(ErrSourceUnavailable)
	f := NewCachedFetcher(up, time.Minute)

	if _, _, err := f.FetchLatestIncoming(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	up.SetErr(nil)
	if _, ok, err := f.FetchLatestIncoming(context.Background()); err != nil || ok {
		t.Fatalf("expected empty result after recovery, ok=%v err=%v", ok, err)
	}
	if up.Calls() != 2 {
		t.Fatalf("expected two upstream calls, got %d", up.Calls())
	}
}
