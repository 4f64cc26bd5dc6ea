package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/escrowhub-backend/pkg/errors"
	"github.com/angelmondragon/escrowhub-backend/pkg/types"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.data[key], _ = value.(string)
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

const fundPath = "/api/v1/contracts/9c1f5d38-0f5e-4d4c-8a43-0d1f0d9a7b11/fund"

func clientRequest(method, url, body string, client types.Actor) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	return req.WithContext(WithActor(req.Context(), client))
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"fund", http.MethodPost, fundPath, moneyIdempotencyTTL, true},
		{"release", http.MethodPost, "/api/v1/contracts/c1/milestones/m1/release", moneyIdempotencyTTL, true},
		{"admin release", http.MethodPost, "/api/v1/admin/contracts/c1/milestones/m1/release", moneyIdempotencyTTL, true},
		{"admin refund", http.MethodPost, "/api/v1/admin/contracts/c1/refund", moneyIdempotencyTTL, true},
		{"create contract", http.MethodPost, "/api/v1/contracts", defaultIdempotencyTTL, true},
		{"open dispute", http.MethodPost, "/api/v1/contracts/c1/disputes", defaultIdempotencyTTL, true},
		{"approve", http.MethodPost, "/api/v1/contracts/c1/milestones/m1/approve", 0, false},
		{"list contracts", http.MethodGet, "/api/v1/contracts", 0, false},
		{"empty segment", http.MethodPost, "/api/v1/contracts//fund", 0, false},
	}

	for _, tt := range tests {
		ttl, ok := routeTTL(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if ok && ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, ttl)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, clientRequest(http.MethodPost, fundPath, `{}`, client))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
	req := clientRequest(http.MethodPost, fundPath, `{}`, client)
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected first response 202 got %d", resp.Code)
	}

	replay := clientRequest(http.MethodPost, fundPath, `{}`, client)
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected replay status 202 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
		req := clientRequest(http.MethodPost, fundPath, `{}`, client)
		req.Header.Set("Idempotency-Key", "shared")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected each user to reach the handler, got %d calls", calls)
	}
}

func TestIdempotencyMiddlewareSkipsServerErrors(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
	for i := 0; i < 2; i++ {
		req := clientRequest(http.MethodPost, fundPath, `{}`, client)
		req.Header.Set("Idempotency-Key", "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected retry after 503 to reach handler, got %d calls", calls)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}
	req := clientRequest(http.MethodPost, fundPath, `{"note":"a"}`, client)
	req.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := clientRequest(http.MethodPost, fundPath, `{"note":"b"}`, client)
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}

	var inner *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dup := clientRequest(http.MethodPost, fundPath, `{}`, client)
		dup.Header.Set(IdempotencyHeader, "same")
		inner = httptest.NewRecorder()
		mw(http.NotFoundHandler()).ServeHTTP(inner, dup)
		w.WriteHeader(http.StatusCreated)
	})

	req := clientRequest(http.MethodPost, fundPath, `{}`, client)
	req.Header.Set(IdempotencyHeader, "same")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected original request to complete, got %d", resp.Code)
	}
	if inner == nil || inner.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate to get 409")
	}
	if strings.Contains(inner.Body.String(), string(pkgerrors.CodeIdempotency)) {
		t.Fatalf("in-flight duplicate must not be reported as a body mismatch: %s", inner.Body.String())
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnPanic(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	client := types.Actor{UserID: uuid.New(), Role: enums.ActorRoleClient}

	req := clientRequest(http.MethodPost, fundPath, `{}`, client)
	req.Header.Set(IdempotencyHeader, "boom")
	func() {
		defer func() { _ = recover() }()
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })).ServeHTTP(httptest.NewRecorder(), req)
	}()

	if len(store.data) != 0 {
		t.Fatalf("expected reservation to be released, got %v", store.data)
	}
}
