package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"film-ai-api/internal/domain/entity"
)

type memProjects struct {
	mu    sync.Mutex
	items map[string]*entity.Project
}

func (m *memProjects) GetByID(_ context.Context, id string) (*entity.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) Upsert(_ context.Context, p *entity.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

type memScenes struct {
	mu    sync.Mutex
	items map[string][]*entity.Scene
}

func (m *memScenes) ListByProject(_ context.Context, projectID string) ([]*entity.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Scene, 0, len(m.items[projectID]))
	for _, s := range m.items[projectID] {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memScenes) GetByID(_ context.Context, id string) (*entity.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.items {
		for _, s := range list {
			if s.ID == id {
				cp := *s
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *memScenes) UpsertForProject(_ context.Context, projectID string, scenes []*entity.Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNumber := make(map[int]*entity.Scene, len(m.items[projectID]))
	for _, s := range m.items[projectID] {
		byNumber[s.SceneNumber] = s
	}
	for _, s := range scenes {
		s.ProjectID = projectID
		if prev, ok := byNumber[s.SceneNumber]; ok {
			s.ID = prev.ID
			s.VFXNeeds = prev.VFXNeeds
			s.ProductPlacementOpportunities = prev.ProductPlacementOpportunities
		} else if s.ID == "" {
			s.ID = uuid.NewString()
		}
		cp := *s
		byNumber[s.SceneNumber] = &cp
	}
	list := make([]*entity.Scene, 0, len(byNumber))
	for _, s := range byNumber {
		list = append(list, s)
	}
	slices.SortFunc(list, func(a, b *entity.Scene) int { return a.SceneNumber - b.SceneNumber })
	m.items[projectID] = list
	return nil
}

func (m *memScenes) update(sceneID string, fn func(s *entity.Scene)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.items {
		for _, s := range list {
			if s.ID == sceneID {
				fn(s)
				return nil
			}
		}
	}
	return errors.New("scene not found")
}

func (m *memScenes) UpdateVFXNeeds(_ context.Context, sceneID string, tags []string) error {
	return m.update(sceneID, func(s *entity.Scene) { s.VFXNeeds = tags })
}

func (m *memScenes) UpdatePlacementTags(_ context.Context, sceneID string, tags []string) error {
	return m.update(sceneID, func(s *entity.Scene) { s.ProductPlacementOpportunities = tags })
}

type memCharacters struct {
	mu    sync.Mutex
	items map[string][]*entity.Character
}

func (m *memCharacters) ListByProject(_ context.Context, projectID string) ([]*entity.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entity.Character(nil), m.items[projectID]...), nil
}

func (m *memCharacters) UpsertForProject(_ context.Context, projectID string, chars []*entity.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]string, len(m.items[projectID]))
	for _, c := range m.items[projectID] {
		ids[c.Name] = c.ID
	}
	list := make([]*entity.Character, 0, len(chars))
	for _, c := range chars {
		c.ProjectID = projectID
		if id, ok := ids[c.Name]; ok {
			c.ID = id
		} else if c.ID == "" {
			c.ID = uuid.NewString()
		}
		list = append(list, c)
	}
	m.items[projectID] = list
	return nil
}

type memStages struct {
	mu      sync.Mutex
	items   map[string]*entity.AnalysisStage
	history map[entity.StageName][]entity.StageStatus
}

func stageKey(projectID string, stage entity.StageName) string {
	return projectID + "/" + string(stage)
}

func (m *memStages) Get(_ context.Context, projectID string, stage entity.StageName) (*entity.AnalysisStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[stageKey(projectID, stage)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memStages) ListByProject(_ context.Context, projectID string) ([]*entity.AnalysisStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.AnalysisStage
	for _, name := range entity.AllStages {
		if rec, ok := m.items[stageKey(projectID, name)]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStages) Save(_ context.Context, rec *entity.AnalysisStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := *rec
	m.items[stageKey(rec.ProjectID, rec.Stage)] = &cp
	m.history[rec.Stage] = append(m.history[rec.Stage], rec.Status)
	return nil
}

func (m *memStages) ListStale(_ context.Context, before time.Time) ([]*entity.AnalysisStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.AnalysisStage
	for _, rec := range m.items {
		if rec.Status == entity.StageStatusProcessing && rec.StartedAt != nil && rec.StartedAt.Before(before) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStages) statuses(stage entity.StageName) []entity.StageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.StageStatus(nil), m.history[stage]...)
}

type memProgress struct {
	mu    sync.Mutex
	items map[string]*entity.ProjectProgress
}

func (m *memProgress) Get(_ context.Context, projectID string) (*entity.ProjectProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[projectID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProgress) Save(_ context.Context, p *entity.ProjectProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.items[p.ProjectID] = &cp
	return nil
}

type memResults struct {
	mu    sync.Mutex
	items map[string]*entity.StageResult
}

func (m *memResults) Get(_ context.Context, projectID string, stage entity.StageName) (*entity.StageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[stageKey(projectID, stage)]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memResults) Save(_ context.Context, r *entity.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.items[stageKey(r.ProjectID, r.Stage)] = &cp
	return nil
}

type memLock struct {
	mu     sync.Mutex
	owners map[string]string
	cancel map[string]bool
}

func (l *memLock) Acquire(_ context.Context, projectID, runID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.owners[projectID]; held {
		return false, nil
	}
	l.owners[projectID] = runID
	delete(l.cancel, projectID)
	return true, nil
}

func (l *memLock) Release(_ context.Context, projectID, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[projectID] == runID {
		delete(l.owners, projectID)
		delete(l.cancel, projectID)
	}
	return nil
}

func (l *memLock) RequestCancel(_ context.Context, projectID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel[projectID] = true
	return nil
}

func (l *memLock) CancelRequested(_ context.Context, projectID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel[projectID], nil
}

func (l *memLock) held(projectID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.owners[projectID]
	return ok
}

type memDispatcher struct {
	mu   sync.Mutex
	jobs []*entity.PipelineJob
	err  error
}

func (d *memDispatcher) DispatchPipeline(_ context.Context, job *entity.PipelineJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type memCRM struct {
	mu    sync.Mutex
	leads []*entity.Lead
}

func (c *memCRM) SubmitLead(_ context.Context, lead *entity.Lead) (*entity.LeadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leads = append(c.leads, lead)
	return &entity.LeadResult{ContactID: "c-1", DealID: "d-1"}, nil
}

type memTx struct {
	calls int
}

func (t *memTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type harness struct {
	projects   *memProjects
	scenes     *memScenes
	characters *memCharacters
	stages     *memStages
	progress   *memProgress
	results    *memResults
	tx         *memTx
	lock       *memLock
	dispatcher *memDispatcher
	crm        *memCRM
}

func newHarness() *harness {
	return &harness{
		projects:   &memProjects{items: map[string]*entity.Project{}},
		scenes:     &memScenes{items: map[string][]*entity.Scene{}},
		characters: &memCharacters{items: map[string][]*entity.Character{}},
		stages: &memStages{
			items:   map[string]*entity.AnalysisStage{},
			history: map[entity.StageName][]entity.StageStatus{},
		},
		progress:   &memProgress{items: map[string]*entity.ProjectProgress{}},
		results:    &memResults{items: map[string]*entity.StageResult{}},
		tx:         &memTx{},
		lock:       &memLock{owners: map[string]string{}, cancel: map[string]bool{}},
		dispatcher: &memDispatcher{},
		crm:        &memCRM{},
	}
}
