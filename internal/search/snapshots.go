// internal/search/snapshots.go
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
)

const DefaultIndex = "readiness-snapshots"

// Mapping keeps the breakdown as an opaque object; history queries only
// filter on startupId and sort on publishedAt.
const Mapping = `{
  "mappings": {
    "properties": {
      "assessmentId":     {"type": "keyword"},
      "startupId":        {"type": "keyword"},
      "stage":            {"type": "keyword"},
      "score":            {"type": "integer"},
      "band":             {"type": "keyword"},
      "frameworkVersion": {"type": "keyword"},
      "publishedAt":      {"type": "date"},
      "categoryScores":   {"type": "object"},
      "fatalFlags":       {"type": "keyword"},
      "breakdown":        {"type": "object", "enabled": false}
    }
  }
}`

// Snapshot is the indexed form of a published breakdown.
type Snapshot struct {
	AssessmentID     string                 `json:"assessmentId"`
	StartupID        string                 `json:"startupId"`
	Stage            string                 `json:"stage"`
	Score            int                    `json:"score"`
	Band             string                 `json:"band"`
	FrameworkVersion string                 `json:"frameworkVersion"`
	PublishedAt      time.Time              `json:"publishedAt"`
	CategoryScores   map[string]float64     `json:"categoryScores"`
	FatalFlags       []string               `json:"fatalFlags,omitempty"`
	Breakdown        *models.ScoreBreakdown `json:"breakdown"`
}

// SnapshotFor builds the document for a published assessment.
func SnapshotFor(a *models.Assessment) (*Snapshot, error) {
	if a.Status != models.StatusPublished || a.PublishedBreakdown == nil || a.PublishedAt == nil {
		return nil, fmt.Errorf("assessment %s is not published", a.ID)
	}
	b := a.PublishedBreakdown
	snap := &Snapshot{
		AssessmentID:     a.ID,
		StartupID:        a.StartupID,
		Stage:            string(b.Stage),
		Score:            b.Score,
		Band:             b.Band,
		FrameworkVersion: b.FrameworkVersion,
		PublishedAt:      *a.PublishedAt,
		CategoryScores:   make(map[string]float64, len(b.Categories)),
		Breakdown:        b,
	}
	for _, c := range b.Categories {
		snap.CategoryScores[c.ID] = c.Score
	}
	for _, f := range b.FatalFlags {
		snap.FatalFlags = append(snap.FatalFlags, f.RuleID)
	}
	return snap, nil
}

// SnapshotIndex keeps the history of published breakdowns in Elasticsearch.
type SnapshotIndex struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewSnapshotIndex(client *elasticsearch.Client, index string, log logger.Logger) *SnapshotIndex {
	if index == "" {
		index = DefaultIndex
	}
	return &SnapshotIndex{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "snapshot-index", "index": index}),
	}
}

// EnsureIndex creates the snapshot index with Mapping unless it exists.
// It reports whether the index was created.
func (s *SnapshotIndex) EnsureIndex(ctx context.Context) (bool, error) {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", s.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return false, nil
	}
	if res.StatusCode != 404 {
		return false, fmt.Errorf("check index %s: %s", s.index, res.Status())
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(Mapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// another worker-manager replica won the race
		if strings.Contains(res.String(), "resource_already_exists_exception") {
			return false, nil
		}
		return false, fmt.Errorf("create index %s: %s", s.index, strings.TrimSpace(res.String()))
	}
	s.logger.Info("snapshot index created", nil)
	return true, nil
}

// Index stores the published snapshot of a under its assessment id.
// Re-indexing the same assessment overwrites the document.
func (s *SnapshotIndex) Index(ctx context.Context, a *models.Assessment) error {
	snap, err := SnapshotFor(a)
	if err != nil {
		return errors.NewSnapshotIndexFailedError(a.ID, err)
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return errors.NewSnapshotIndexFailedError(a.ID, err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithDocumentID(a.ID),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.NewSnapshotIndexFailedError(a.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewSnapshotIndexFailedError(a.ID, fmt.Errorf("index request failed: %s", res.Status()))
	}

	s.logger.Info("snapshot indexed", map[string]interface{}{
		"assessmentId": a.ID,
		"score":        snap.Score,
	})
	return nil
}

// History returns up to size snapshots of a startup, newest first.
func (s *SnapshotIndex) History(ctx context.Context, startupID string, size int) ([]Snapshot, error) {
	if size <= 0 || size > 100 {
		size = 20
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"startupId": startupID},
		},
		"sort": []interface{}{
			map[string]interface{}{"publishedAt": map[string]interface{}{"order": "desc"}},
		},
		"size": size,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("snapshot history: %s", strings.TrimSpace(res.String()))
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source Snapshot `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode snapshot history: %w", err)
	}

	out := make([]Snapshot, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
