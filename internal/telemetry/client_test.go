package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crafthq/craft/internal/config"
)

func TestHTTPClientSendsEvent(t *testing.T) {
	t.Parallel()

	var gotKey string
	var gotEvent Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotEvent); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", 2*time.Second)
	defer c.Close()

	if err := c.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("API key header = %q, want %q", gotKey, "secret")
	}
	if gotEvent != sampleEvent() {
		t.Errorf("collector received %+v", gotEvent)
	}
}

func TestHTTPClientErrorResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", 2*time.Second)
	defer c.Close()

	err := c.Send(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected transport error")
	}
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error is %T, want *TransportError", err)
	}
	if terr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want %d", terr.Status, http.StatusForbidden)
	}
}

func TestHTTPClientUnreachableCollector(t *testing.T) {
	t.Parallel()

	// A server that is already closed guarantees a connection failure.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "secret", time.Second)
	defer c.Close()

	err := c.Send(context.Background(), sampleEvent())
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error is %T, want *TransportError", err)
	}
	if terr.Status != 0 {
		t.Errorf("status = %d, want 0 for a failed request", terr.Status)
	}
}

func TestDisabledClientDropsEverything(t *testing.T) {
	t.Parallel()
	var c Client = DisabledClient{}
	if err := c.Send(context.Background(), sampleEvent()); err != nil {
		t.Errorf("DisabledClient.Send returned %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("DisabledClient.Close returned %v", err)
	}
}

func cfgTelemetry(key string) config.TelemetryConfig {
	return config.TelemetryConfig{APIKey: key}
}

func TestResolveAPIKeyPriority(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "from-env")
		key, err := ResolveAPIKey(cfgTelemetry("from-config"))
		if err != nil || key != "from-env" {
			t.Errorf("got %q, %v; want from-env", key, err)
		}
	})

	t.Run("config fallback", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		key, err := ResolveAPIKey(cfgTelemetry("from-config"))
		if err != nil || key != "from-config" {
			t.Errorf("got %q, %v; want from-config", key, err)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(EnvAPIKey, "")
		_, err := ResolveAPIKey(cfgTelemetry(""))
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("err = %v, want ErrNoAPIKey", err)
		}
	})
}
