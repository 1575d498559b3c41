package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEndpointChecker_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := EndpointChecker("whisper", srv.URL, srv.Client())
	if c.Name != "whisper" {
		t.Errorf("name = %q, want whisper", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEndpointChecker_NotFoundIsStillHealthy(t *testing.T) {
	// A 404 means the server is up; only 5xx marks the endpoint unhealthy.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := EndpointChecker("coqui", srv.URL, srv.Client())
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error for 404: %v", err)
	}
}

func TestEndpointChecker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := EndpointChecker("whisper", srv.URL, srv.Client())
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestEndpointChecker_Unreachable(t *testing.T) {
	c := EndpointChecker("whisper", "http://127.0.0.1:1", nil)
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for unreachable endpoint")
	}
}
