//go:build integration

package integration

import (
	"net/http"
	"strconv"
	"testing"
)

func TestRequestID(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		resp := doGet(t, "/livez")
		defer resp.Body.Close()

		if id := resp.Header.Get("X-Request-ID"); len(id) != 36 {
			t.Fatalf("X-Request-ID: got %q, want a UUID", id)
		}
	})

	t.Run("echoed", func(t *testing.T) {
		resp := doGet(t, "/livez", header{"X-Request-ID", "custom-request-id-12345"})
		defer resp.Body.Close()

		if got := resp.Header.Get("X-Request-ID"); got != "custom-request-id-12345" {
			t.Errorf("X-Request-ID: got %q, want %q", got, "custom-request-id-12345")
		}
	})
}

func TestCORS(t *testing.T) {
	origin := header{"Origin", "http://example.com"}

	t.Run("preflight", func(t *testing.T) {
		resp := do(t, http.MethodOptions, "/api/orders", nil, origin,
			header{"Access-Control-Request-Method", http.MethodPost},
		)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusNoContent)

		if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao == "" {
			t.Error("Access-Control-Allow-Origin header not present")
		}
		if acah := resp.Header.Get("Access-Control-Allow-Headers"); acah == "" {
			t.Error("Access-Control-Allow-Headers header not present")
		}
	})

	t.Run("actual request", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", nil, origin)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusCreated)

		if acao := resp.Header.Get("Access-Control-Allow-Origin"); acao == "" {
			t.Error("Access-Control-Allow-Origin header not present")
		}
		if aceh := resp.Header.Get("Access-Control-Expose-Headers"); aceh == "" {
			t.Error("Access-Control-Expose-Headers header not present")
		}
	})
}

func TestRateLimit_Headers(t *testing.T) {
	remaining := func() int {
		resp := doGet(t, "/livez")
		defer resp.Body.Close()

		if limit := resp.Header.Get("X-RateLimit-Limit"); limit == "" {
			t.Fatal("X-RateLimit-Limit header not present")
		}
		n, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
		if err != nil {
			t.Fatalf("X-RateLimit-Remaining: %v", err)
		}
		return n
	}

	first := remaining()
	if second := remaining(); second >= first {
		t.Errorf("remaining did not decrease: %d then %d", first, second)
	}
}
