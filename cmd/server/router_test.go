package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	lengths map[string]int
	err     error
}

func (f *fakeQueue) GetQueueLength(_ context.Context, hash string) (int, error) {
	return f.lengths[hash], f.err
}

func (f *fakeQueue) FindDistinctAPIKeyHashesInQueue(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for h, n := range f.lengths {
		if n > 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

type fakeLoops map[string]bool

func (f fakeLoops) IsRunning(hash string) bool { return f[hash] }

type fakeKeys []string

func (f fakeKeys) Hashes() []string { return append([]string(nil), f...) }

type fakeDB struct{ err error }

func (f fakeDB) PingContext(context.Context) error { return f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestOpsRouter_Healthz(t *testing.T) {
	tests := []struct {
		name string
		db   fakeDB
		want int
	}{
		{"healthy", fakeDB{}, http.StatusOK},
		{"database down", fakeDB{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOpsRouter(&fakeQueue{}, fakeLoops{}, fakeKeys{}, tt.db, testLogger())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOpsRouter_Queues(t *testing.T) {
	queue := &fakeQueue{lengths: map[string]int{"aaa": 2, "orphan": 1}}
	h := newOpsRouter(queue, fakeLoops{"aaa": true}, fakeKeys{"aaa", "bbb"}, fakeDB{}, testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queues", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []queueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.ElementsMatch(t, []queueStatus{
		{APIKeyHash: "aaa", Queued: 2, Running: true, Configured: true},
		{APIKeyHash: "bbb", Queued: 0, Running: false, Configured: true},
		{APIKeyHash: "orphan", Queued: 1, Running: false, Configured: false},
	}, got)
}

func TestOpsRouter_QueuesStoreFailure(t *testing.T) {
	h := newOpsRouter(&fakeQueue{err: errors.New("boom")}, fakeLoops{}, fakeKeys{"aaa"}, fakeDB{}, testLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queues", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOpsRouter_Metrics(t *testing.T) {
	h := newOpsRouter(&fakeQueue{}, fakeLoops{}, fakeKeys{}, fakeDB{}, testLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
