package main

import (
	"testing"
	"time"

	"crm-triage/internal/config"
	"crm-triage/internal/leads"
)

func TestNewLeadFetcher_PicksSource(t *testing.T) {
	f, err := newLeadFetcher(config.LeadsConfig{Source: config.LeadSourceHTTP, APIURL: "http://crm.local/api"}, nil)
	if err != nil {
		t.Fatalf("http source: %v", err)
	}
	if _, ok := f.(*leads.HTTPFetcher); !ok {
		t.Fatalf("expected HTTP fetcher, got %T", f)
	}

	f, err = newLeadFetcher(config.LeadsConfig{Source: config.LeadSourcePostgres}, nil)
	if err != nil {
		t.Fatalf("postgres source: %v", err)
	}
	if _, ok := f.(*leads.PostgresFetcher); !ok {
		t.Fatalf("expected Postgres fetcher, got %T", f)
	}

	if _, err := newLeadFetcher(config.LeadsConfig{Source: "kafka"}, nil); err == nil {
		t.Fatalf("expected error for unknown source")
	}
	if _, err := newLeadFetcher(config.LeadsConfig{Source: config.LeadSourceHTTP}, nil); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestSharedFetcher_WrapsWithCache(t *testing.T) {
	src := leads.NewMemoryFetcher()
	if _, ok := sharedFetcher(src, 0).(*leads.MemoryFetcher); !ok {
		t.Fatalf("zero ttl must leave the source unwrapped")
	}
	if _, ok := sharedFetcher(src, 2*time.Second).(*leads.CachedFetcher); !ok {
		t.Fatalf("expected cached fetcher")
	}
}
