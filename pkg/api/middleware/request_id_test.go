package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func serveWithRequestID(t *testing.T, incoming string) (handlerID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/save", nil)
	if incoming != "" {
		req.Header.Set(RequestIDHeader, incoming)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return handlerID, rec
}

func TestRequestID_AdoptsCallerID(t *testing.T) {
	id, rec := serveWithRequestID(t, "family-app-7f3a")
	if id != "family-app-7f3a" {
		t.Fatalf("handler saw %q, want caller id", id)
	}
	if got := rec.Header().Get(RequestIDHeader); got != id {
		t.Fatalf("response header %q, want %q", got, id)
	}
}

func TestRequestID_MintsWhenMissingOrOversized(t *testing.T) {
	for name, incoming := range map[string]string{
		"missing":   "",
		"oversized": strings.Repeat("a", maxRequestIDLength+1),
	} {
		t.Run(name, func(t *testing.T) {
			id, rec := serveWithRequestID(t, incoming)
			if _, err := uuid.Parse(id); err != nil {
				t.Fatalf("expected a minted uuid, got %q", id)
			}
			if got := rec.Header().Get(RequestIDHeader); got != id {
				t.Fatalf("response header %q, want %q", got, id)
			}
		})
	}
}

func TestRequestID_AcceptsMaxLength(t *testing.T) {
	incoming := strings.Repeat("b", maxRequestIDLength)
	if id, _ := serveWithRequestID(t, incoming); id != incoming {
		t.Fatalf("id at the length limit was replaced")
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Fatalf("GetRequestID() = %q, want empty", got)
	}
	if got := GetRequestID(WithRequestID(context.Background(), "r1")); got != "r1" {
		t.Fatalf("GetRequestID() = %q, want r1", got)
	}
}
