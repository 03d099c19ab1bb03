// Package assessmenttest provides in-memory collaborators for the assessment
// worker tests.
package assessmenttest

import (
	"context"
	"sync"
	"time"

	"readiness-workers/internal/common/errors"
	"readiness-workers/internal/models"
	"readiness-workers/internal/notify"
	"readiness-workers/pkg/registry"
)

// Store mimics the Postgres repository, including optimistic version checks.
type Store struct {
	mu          sync.Mutex
	startups    map[string]*models.Startup
	assessments map[string]*models.Assessment

	// UpdateErr, when set, is returned by the next UpdateAssessment call.
	UpdateErr error
	Updates   int
	Creates   int
}

func NewStore() *Store {
	return &Store{
		startups:    map[string]*models.Startup{},
		assessments: map[string]*models.Assessment{},
	}
}

func (s *Store) PutStartup(st *models.Startup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *st
	s.startups[st.ID] = &c
}

// PutAssessment stores a copy; a zero version is stored as 1.
func (s *Store) PutAssessment(a *models.Assessment) *models.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	s.assessments[c.ID] = c
	return c.Clone()
}

// Assessment returns the stored copy without going through the context API.
func (s *Store) Assessment(id string) *models.Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assessments[id].Clone()
}

func (s *Store) GetStartup(_ context.Context, id string) (*models.Startup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.startups[id]
	if !ok {
		return nil, errors.NewStartupNotFoundError(id)
	}
	c := *st
	return &c, nil
}

func (s *Store) GetAssessment(_ context.Context, id string) (*models.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, errors.NewAssessmentNotFoundError(id)
	}
	return a.Clone(), nil
}

func (s *Store) LatestForStartup(_ context.Context, startupID string) (*models.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Assessment
	for _, a := range s.assessments {
		if a.StartupID != startupID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, errors.NewAssessmentNotFoundError("latest for " + startupID)
	}
	return latest.Clone(), nil
}

func (s *Store) CreateAssessment(_ context.Context, a *models.Assessment) (*models.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a.Clone()
	c.Version = 1
	s.assessments[c.ID] = c
	s.Creates++
	return c.Clone(), nil
}

func (s *Store) UpdateAssessment(_ context.Context, a *models.Assessment) (*models.Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.UpdateErr; err != nil {
		s.UpdateErr = nil
		return nil, err
	}
	stored, ok := s.assessments[a.ID]
	if !ok {
		return nil, errors.NewAssessmentNotFoundError(a.ID)
	}
	if stored.Version != a.Version {
		return nil, errors.NewVersionConflictError(a.ID, a.Version)
	}
	c := a.Clone()
	c.Version++
	s.assessments[c.ID] = c
	s.Updates++
	return c.Clone(), nil
}

// Indexer records published snapshots.
type Indexer struct {
	Err     error
	Indexed []*models.Assessment
}

func (i *Indexer) Index(_ context.Context, a *models.Assessment) error {
	if i.Err != nil {
		return i.Err
	}
	i.Indexed = append(i.Indexed, a.Clone())
	return nil
}

// Publisher records lifecycle events.
type Publisher struct {
	Err    error
	Events []notify.Event
}

func (p *Publisher) Publish(_ context.Context, e notify.Event) error {
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, e)
	return nil
}

// Clock returns a fixed time.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Answer builds a document-backed response submitted at at.
func Answer(v interface{}, at time.Time) models.Response {
	return models.Response{Value: v, EvidenceType: registry.EvidenceDocumentUploaded, SubmittedAt: at}
}
