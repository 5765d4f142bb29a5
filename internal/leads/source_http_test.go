package leads

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcher_ReturnsLatestLead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/leads/latest" || r.URL.Query().Get("status") != "new" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"L1","name":"Ana","phone":"+351912345678","source":"website","status":"new"}`))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(HTTPFetcherConfig{BaseURL: srv.URL + "/", Token: "tok"})
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	l, ok, err := f.FetchLatestIncoming(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected lead, ok=%v err=%v", ok, err)
	}
	if l.ID != "L1" || l.Name != "Ana" || l.Source != "website" {
		t.Fatalf("unexpected lead: %+v", l)
	}
}

func TestHTTPFetcher_NoContentMeansNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(HTTPFetcherConfig{BaseURL: srv.URL})
	_, ok, err := f.FetchLatestIncoming(context.Background())
	if err != nil || ok {
		t.Fatalf("expected no lead and no error, ok=%v err=%v", ok, err)
	}
}

func TestHTTPFetcher_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(HTTPFetcherConfig{BaseURL: srv.URL})
	_, _, err := f.FetchLatestIncoming(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestNewHTTPFetcher_RequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPFetcher(HTTPFetcherConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
