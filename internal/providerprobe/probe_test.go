package providerprobe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckMicrosoftUserExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(microsoftCredentialResponse{IfExistsResult: 0})
	}))
	defer srv.Close()

	p := New()
	result := p.checkMicrosoftAt(context.Background(), "user@example.com", srv.URL)
	if result.Exists == nil || !*result.Exists {
		t.Fatalf("Exists = %v, want true", result.Exists)
	}
}

func TestCheckMicrosoftUserDoesNotExist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(microsoftCredentialResponse{IfExistsResult: 1})
	}))
	defer srv.Close()

	p := New()
	result := p.checkMicrosoftAt(context.Background(), "user@example.com", srv.URL)
	if result.Exists == nil || *result.Exists {
		t.Fatalf("Exists = %v, want false", result.Exists)
	}
}

func TestCheckMicrosoftFederatedIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(microsoftCredentialResponse{IfExistsResult: 5})
	}))
	defer srv.Close()

	p := New()
	result := p.checkMicrosoftAt(context.Background(), "user@example.com", srv.URL)
	if result.Exists != nil {
		t.Fatalf("Exists = %v, want nil (inconclusive)", *result.Exists)
	}
}

func TestCheckMicrosoftNon200IsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := New()
	result := p.checkMicrosoftAt(context.Background(), "user@example.com", srv.URL)
	if result.Exists != nil {
		t.Fatalf("Exists = %v, want nil on rate limit", result.Exists)
	}
}
