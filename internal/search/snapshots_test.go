// internal/search/snapshots_test.go
package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/models"
	"readiness-workers/pkg/registry"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var publishedAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestIndex(t *testing.T, handler http.HandlerFunc) *SnapshotIndex {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return NewSnapshotIndex(client, "test-snapshots", logger.NewTestLogger(t))
}

func createPublished() *models.Assessment {
	limit := 0.4
	return &models.Assessment{
		ID:          "assessment-1",
		StartupID:   "startup-1",
		Status:      models.StatusPublished,
		PublishedAt: &publishedAt,
		PublishedBreakdown: &models.ScoreBreakdown{
			Score:            540,
			Band:             "fair",
			Stage:            registry.StageIdea,
			FrameworkVersion: "2026.1",
			Categories: []models.CategoryScore{
				{ID: "founder_team", Score: 0.27},
				{ID: "market_traction", Score: 0.5},
			},
			FatalFlags: []models.TriggeredFlag{
				{RuleID: "ff_no_fulltime_founder", Cap: &limit, Severity: registry.SeverityCritical},
			},
		},
	}
}

// ==========================
// Snapshot Tests
// ==========================

func TestSnapshotFor(t *testing.T) {
	snap, err := SnapshotFor(createPublished())
	require.NoError(t, err)

	assert.Equal(t, "startup-1", snap.StartupID)
	assert.Equal(t, 540, snap.Score)
	assert.Equal(t, "idea", snap.Stage)
	assert.Equal(t, map[string]float64{"founder_team": 0.27, "market_traction": 0.5}, snap.CategoryScores)
	assert.Equal(t, []string{"ff_no_fulltime_founder"}, snap.FatalFlags)

	draft := createPublished()
	draft.Status = models.StatusCompleted
	_, err = SnapshotFor(draft)
	assert.Error(t, err)
}

func TestSnapshotIndex_Index(t *testing.T) {
	var gotPath, gotMethod string
	var gotDoc Snapshot

	idx := createTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotDoc)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_index":"test-snapshots","_id":"assessment-1","result":"created"}`))
	})

	require.NoError(t, idx.Index(context.Background(), createPublished()))
	assert.Equal(t, "/test-snapshots/_doc/assessment-1", gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "assessment-1", gotDoc.AssessmentID)
	assert.Equal(t, publishedAt, gotDoc.PublishedAt)
	require.NotNil(t, gotDoc.Breakdown)
	assert.Equal(t, 540, gotDoc.Breakdown.Score)
}

func TestSnapshotIndex_IndexFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		idx := createTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"mapper_parsing_exception"}}`))
		})
		err := idx.Index(context.Background(), createPublished())
		assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotIndexFailed))
	})

	t.Run("not published", func(t *testing.T) {
		idx := createTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		a := createPublished()
		a.PublishedBreakdown = nil
		err := idx.Index(context.Background(), a)
		assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotIndexFailed))
	})
}

func TestSnapshotIndex_History(t *testing.T) {
	var gotQuery map[string]interface{}
	idx := createTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/test-snapshots/_search", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotQuery)
		_, _ = w.Write([]byte(`{
			"hits": {"total": {"value": 2}, "hits": [
				{"_source": {"assessmentId": "a-2", "startupId": "startup-1", "score": 700}},
				{"_source": {"assessmentId": "a-1", "startupId": "startup-1", "score": 540}}
			]}
		}`))
	})

	history, err := idx.History(context.Background(), "startup-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a-2", history[0].AssessmentID)
	assert.Equal(t, 540, history[1].Score)
	assert.Equal(t, float64(20), gotQuery["size"])
}

func TestSnapshotIndex_HistoryMissingIndex(t *testing.T) {
	idx := createTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception"}}`))
	})

	history, err := idx.History(context.Background(), "startup-1", 5)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSnapshotIndex_EnsureIndex(t *testing.T) {
	tests := []struct {
		name        string
		existsCode  int
		createCode  int
		createBody  string
		wantCreated bool
		wantErr     bool
	}{
		{name: "already exists", existsCode: http.StatusOK},
		{name: "created", existsCode: http.StatusNotFound, createCode: http.StatusOK,
			createBody: `{"acknowledged":true}`, wantCreated: true},
		{name: "lost creation race", existsCode: http.StatusNotFound, createCode: http.StatusBadRequest,
			createBody: `{"error":{"type":"resource_already_exists_exception"}}`},
		{name: "create rejected", existsCode: http.StatusNotFound, createCode: http.StatusBadRequest,
			createBody: `{"error":{"type":"mapper_parsing_exception"}}`, wantErr: true},
		{name: "cluster unavailable", existsCode: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMapping map[string]interface{}
			idx := createTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/test-snapshots", r.URL.Path)
				switch r.Method {
				case http.MethodHead:
					w.WriteHeader(tt.existsCode)
				case http.MethodPut:
					_ = json.NewDecoder(r.Body).Decode(&gotMapping)
					w.WriteHeader(tt.createCode)
					_, _ = w.Write([]byte(tt.createBody))
				default:
					t.Errorf("unexpected %s", r.Method)
				}
			})

			created, err := idx.EnsureIndex(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, created)
			if tt.createCode != 0 {
				assert.Contains(t, gotMapping, "mappings")
			}
		})
	}
}
