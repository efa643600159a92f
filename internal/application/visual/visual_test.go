package visual

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	"film-ai-api/internal/domain/repository"
	workflowport "film-ai-api/internal/workflow/port"
	apperrors "film-ai-api/pkg/errors"
)

const projectID = "22222222-2222-2222-2222-222222222222"

type memProjects struct{ items map[string]*entity.Project }

func (m *memProjects) GetByID(_ context.Context, id string) (*entity.Project, error) {
	return m.items[id], nil
}
func (m *memProjects) Upsert(_ context.Context, p *entity.Project) error { m.items[p.ID] = p; return nil }

type memScenes struct{ items []*entity.Scene }

func (m *memScenes) ListByProject(_ context.Context, pid string) ([]*entity.Scene, error) {
	var out []*entity.Scene
	for _, s := range m.items {
		if s.ProjectID == pid {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (m *memScenes) GetByID(context.Context, string) (*entity.Scene, error) { return nil, nil }
func (m *memScenes) UpsertForProject(context.Context, string, []*entity.Scene) error {
	return nil
}
func (m *memScenes) UpdateVFXNeeds(context.Context, string, []string) error      { return nil }
func (m *memScenes) UpdatePlacementTags(context.Context, string, []string) error { return nil }

type memProfiles struct {
	mu    sync.Mutex
	items map[string]*entity.ConsistencyProfile
}

func (m *memProfiles) Get(_ context.Context, pid, name string) (*entity.ConsistencyProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[pid+"/"+strings.ToLower(name)], nil
}

func (m *memProfiles) ListByProject(_ context.Context, pid string) ([]*entity.ConsistencyProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ConsistencyProfile
	for _, p := range m.items {
		if p.ProjectID == pid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProfiles) Save(_ context.Context, p *entity.ConsistencyProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[p.ProjectID+"/"+strings.ToLower(p.CharacterName)] = p
	return nil
}

type memArtifacts struct {
	mu      sync.Mutex
	items   map[string]*entity.VisualArtifact
	creates int
}

func (m *memArtifacts) GetByScene(_ context.Context, sceneID string) (*entity.VisualArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[sceneID], nil
}

func (m *memArtifacts) ListByProject(_ context.Context, pid string) ([]*entity.VisualArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.VisualArtifact
	for _, a := range m.items {
		if a.ProjectID == pid {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memArtifacts) Create(_ context.Context, a *entity.VisualArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[a.SceneID]; ok {
		return repository.ErrArtifactExists
	}
	m.items[a.SceneID] = a
	m.creates++
	return nil
}

type memStatuses struct {
	mu    sync.Mutex
	items map[string]*entity.VisualSceneStatus
}

func (m *memStatuses) Save(_ context.Context, st *entity.VisualSceneStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.items[st.SceneID] = &cp
	return nil
}

func (m *memStatuses) ListByProject(_ context.Context, pid string) ([]*entity.VisualSceneStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.VisualSceneStatus
	for _, st := range m.items {
		if st.ProjectID == pid {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SceneNumber < out[j].SceneNumber })
	return out, nil
}

type memCache struct {
	mu    sync.Mutex
	items map[string]*entity.ConsistencyProfile
}

func (c *memCache) GetProfile(_ context.Context, pid, name string) (*entity.ConsistencyProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[pid+"/"+strings.ToLower(name)], nil
}

func (c *memCache) SetProfile(_ context.Context, p *entity.ConsistencyProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.ProjectID+"/"+strings.ToLower(p.CharacterName)] = p
	return nil
}

type memLock struct {
	owners map[string]string
	cancel map[string]bool
}

func (l *memLock) Acquire(_ context.Context, pid, id string) (bool, error) {
	if _, ok := l.owners[pid]; ok {
		return false, nil
	}
	l.owners[pid] = id
	delete(l.cancel, pid)
	return true, nil
}

func (l *memLock) Claim(_ context.Context, pid, from, to string) (bool, error) {
	if cur, ok := l.owners[pid]; ok && cur != from {
		return false, nil
	}
	l.owners[pid] = to
	return true, nil
}

func (l *memLock) Release(_ context.Context, pid, id string) error {
	if l.owners[pid] == id {
		delete(l.owners, pid)
		delete(l.cancel, pid)
	}
	return nil
}

func (l *memLock) Held(_ context.Context, pid string) (bool, error) {
	_, ok := l.owners[pid]
	return ok, nil
}

func (l *memLock) RequestCancel(_ context.Context, pid string) error {
	l.cancel[pid] = true
	return nil
}

func (l *memLock) CancelRequested(_ context.Context, pid string) (bool, error) {
	return l.cancel[pid], nil
}

type memDispatcher struct{ jobs []*entity.VisualJob }

func (d *memDispatcher) DispatchVisual(_ context.Context, job *entity.VisualJob) error {
	d.jobs = append(d.jobs, job)
	return nil
}

// profileGenerator 返回固定 JSON 或错误，并统计调用次数
type profileGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *profileGenerator) Generate(_ context.Context, req workflowport.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return `{"physical_description": "tall, scar over left eye", "costume_description": "grey trench coat", "visual_style": "noir"}`, nil
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type imageCall struct {
	scene int
	at    time.Time
}

// fakeImages 对 failScenes 中的场景始终失败，onCall 在每次调用后执行
type fakeImages struct {
	mu         sync.Mutex
	clock      *fakeClock
	failScenes map[int]bool
	calls      []imageCall
	onCall     func(scene int)
}

func (f *fakeImages) GenerateImage(_ context.Context, prompt string, _ workflowport.ImageOptions) (string, error) {
	var scene int
	fmt.Sscanf(prompt[strings.Index(prompt, "scene "):], "scene %d", &scene)

	if f.onCall != nil {
		defer f.onCall(scene)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, imageCall{scene: scene, at: f.clock.Now()})
	if f.failScenes[scene] {
		return "", errors.New("backend overloaded")
	}
	return fmt.Sprintf("https://img.example.com/%d.png", scene), nil
}

type fixture struct {
	svc       *Service
	gen       *profileGenerator
	images    *fakeImages
	clock     *fakeClock
	artifacts *memArtifacts
	statuses  *memStatuses
	profiles  *memProfiles
	lock      *memLock
}

func newFixture(t *testing.T, sceneCount int, vc config.VisualConfig) *fixture {
	t.Helper()
	project := &entity.Project{ID: projectID, Title: "Night Train"}
	scenes := &memScenes{}
	for i := 1; i <= sceneCount; i++ {
		chars := []string{"Mara"}
		if i%2 == 0 {
			chars = append(chars, "JONAS", "mara")
		}
		scenes.items = append(scenes.items, &entity.Scene{
			ID:          fmt.Sprintf("scene-%d", i),
			ProjectID:   projectID,
			SceneNumber: i,
			Location:    "INT. TRAIN CAR - NIGHT",
			Description: "Mara searches the luggage rack.",
			Characters:  chars,
		})
	}

	clock := &fakeClock{now: time.Unix(0, 0)}
	f := &fixture{
		gen:       &profileGenerator{},
		images:    &fakeImages{clock: clock, failScenes: map[int]bool{}},
		clock:     clock,
		artifacts: &memArtifacts{items: map[string]*entity.VisualArtifact{}},
		statuses:  &memStatuses{items: map[string]*entity.VisualSceneStatus{}},
		profiles:  &memProfiles{items: map[string]*entity.ConsistencyProfile{}},
		lock:      &memLock{owners: map[string]string{}, cancel: map[string]bool{}},
	}
	cfg := &config.Config{Visual: vc}
	f.svc = NewService(cfg, f.gen, f.images, nil,
		&memCache{items: map[string]*entity.ConsistencyProfile{}},
		f.lock, &memDispatcher{},
		&memProjects{items: map[string]*entity.Project{projectID: project}},
		scenes, f.profiles, f.artifacts, f.statuses)
	f.svc.sleep = clock.Sleep
	return f
}

func fastConfig() config.VisualConfig {
	return config.VisualConfig{
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		ItemDelay:        time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func TestGenerate_ResumeSkipsExistingArtifacts(t *testing.T) {
	f := newFixture(t, 3, fastConfig())
	f.images.failScenes[2] = true
	ctx := context.Background()

	first, err := f.svc.Generate(ctx, projectID)
	if err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	if first.Completed != 2 || first.Failed != 1 || first.Skipped != 0 {
		t.Fatalf("first report = %+v", first)
	}

	f.images.failScenes[2] = false
	second, err := f.svc.Generate(ctx, projectID)
	if err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	if second.Completed != 1 || second.Skipped != 2 || second.Failed != 0 {
		t.Fatalf("second report = %+v", second)
	}
	if f.artifacts.creates != 3 || len(f.artifacts.items) != 3 {
		t.Errorf("artifacts created = %d, stored = %d, want 3", f.artifacts.creates, len(f.artifacts.items))
	}

	third, err := f.svc.Generate(ctx, projectID)
	if err != nil {
		t.Fatalf("third Generate: %v", err)
	}
	if third.Skipped != 3 || f.artifacts.creates != 3 {
		t.Errorf("third report = %+v, creates = %d", third, f.artifacts.creates)
	}
}

func TestGenerate_FailedSceneRecordsAttempts(t *testing.T) {
	f := newFixture(t, 2, fastConfig())
	f.images.failScenes[1] = true

	if _, err := f.svc.Generate(context.Background(), projectID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	statuses, _ := f.svc.Status(context.Background(), projectID)
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	if st := statuses[0]; st.Status != entity.VisualStatusFailed || st.Attempts != 3 || st.ErrorMessage == "" {
		t.Errorf("scene 1 status = %+v", st)
	}
	if st := statuses[1]; st.Status != entity.VisualStatusCompleted || st.Attempts != 1 {
		t.Errorf("scene 2 status = %+v", st)
	}
}

func TestGenerate_BreakerPausesBeforeNextScene(t *testing.T) {
	vc := fastConfig()
	vc.MaxAttempts = 2
	vc.BreakerThreshold = 2
	f := newFixture(t, 3, vc)
	f.images.failScenes[1] = true
	f.images.failScenes[2] = true

	report, err := f.svc.Generate(context.Background(), projectID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Failed != 2 || report.Completed != 1 {
		t.Fatalf("report = %+v", report)
	}

	var lastFailure, resumed time.Time
	for _, c := range f.images.calls {
		if c.scene == 2 {
			lastFailure = c.at
		}
		if c.scene == 3 && resumed.IsZero() {
			resumed = c.at
		}
	}
	if gap := resumed.Sub(lastFailure); gap < vc.BreakerCooldown {
		t.Errorf("gap after breaker trip = %s, want >= %s", gap, vc.BreakerCooldown)
	}

	cooldowns := 0
	for _, d := range f.clock.sleeps {
		if d == vc.BreakerCooldown {
			cooldowns++
		}
	}
	if cooldowns != 1 {
		t.Errorf("cooldown pauses = %d, want 1 (sleeps %v)", cooldowns, f.clock.sleeps)
	}
}

func TestGenerate_CancelDuringCooldownReportsCircuitOpen(t *testing.T) {
	vc := fastConfig()
	vc.MaxAttempts = 1
	vc.BreakerThreshold = 2
	f := newFixture(t, 3, vc)
	f.images.failScenes[1] = true
	f.images.failScenes[2] = true
	f.svc.sleep = func(ctx context.Context, d time.Duration) error {
		if d == vc.BreakerCooldown {
			return context.Canceled
		}
		return f.clock.Sleep(ctx, d)
	}

	_, err := f.svc.Generate(context.Background(), projectID)
	if !errors.Is(err, apperrors.ErrCircuitOpen) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want circuit open wrapping context.Canceled", err)
	}
	for _, c := range f.images.calls {
		if c.scene == 3 {
			t.Fatal("scene 3 rendered after cooldown was interrupted")
		}
	}
	statuses, _ := f.svc.Status(context.Background(), projectID)
	if st := statuses[2]; st.Status != entity.VisualStatusFailed || !strings.Contains(st.ErrorMessage, "circuit open") {
		t.Errorf("scene 3 status = %+v", st)
	}
}

func TestGenerate_InterItemDelay(t *testing.T) {
	f := newFixture(t, 3, fastConfig())
	if _, err := f.svc.Generate(context.Background(), projectID); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := 1; i < len(f.images.calls); i++ {
		if gap := f.images.calls[i].at.Sub(f.images.calls[i-1].at); gap < time.Second {
			t.Errorf("gap between calls %d and %d = %s", i-1, i, gap)
		}
	}
}

func TestEnsureProfiles_OnePerCharacterWithFallback(t *testing.T) {
	f := newFixture(t, 4, fastConfig())
	f.gen.err = apperrors.ErrAllProvidersFailed
	ctx := context.Background()

	project, _ := f.svc.projects.GetByID(ctx, projectID)
	scenes, _ := f.svc.scenes.ListByProject(ctx, projectID)

	profiles, err := f.svc.EnsureProfiles(ctx, project, scenes)
	if err != nil {
		t.Fatalf("EnsureProfiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2 (Mara, JONAS)", len(profiles))
	}
	for key, p := range profiles {
		if !p.Fallback || !strings.Contains(p.PhysicalDescription, "Night Train") {
			t.Errorf("profile %s = %+v, want fallback", key, p)
		}
	}

	stored, _ := f.profiles.Get(ctx, projectID, "Mara")
	if stored == nil || !stored.Fallback {
		t.Fatalf("fallback not persisted: %+v", stored)
	}
}

func TestEnsureProfiles_FallbackRetriedNextBatch(t *testing.T) {
	f := newFixture(t, 4, fastConfig())
	f.gen.err = apperrors.ErrAllProvidersFailed
	ctx := context.Background()
	project, _ := f.svc.projects.GetByID(ctx, projectID)
	scenes, _ := f.svc.scenes.ListByProject(ctx, projectID)

	if _, err := f.svc.EnsureProfiles(ctx, project, scenes); err != nil {
		t.Fatalf("first EnsureProfiles: %v", err)
	}
	failedCalls := f.gen.calls

	// 提供方恢复后，兜底描述被替换
	f.gen.err = nil
	profiles, err := f.svc.EnsureProfiles(ctx, project, scenes)
	if err != nil {
		t.Fatalf("second EnsureProfiles: %v", err)
	}
	if f.gen.calls != failedCalls+2 {
		t.Errorf("generator calls = %d, want %d", f.gen.calls, failedCalls+2)
	}
	for key, p := range profiles {
		if p.Fallback || p.CostumeDescription != "grey trench coat" {
			t.Errorf("profile %s still fallback: %+v", key, p)
		}
	}
	if stored, _ := f.profiles.Get(ctx, projectID, "JONAS"); stored == nil || stored.Fallback {
		t.Errorf("stored profile not replaced: %+v", stored)
	}

	// 生成结果已持久化，不再调用生成器
	calls := f.gen.calls
	if _, err := f.svc.EnsureProfiles(ctx, project, scenes); err != nil {
		t.Fatalf("third EnsureProfiles: %v", err)
	}
	if f.gen.calls != calls {
		t.Errorf("generator called again: %d -> %d", calls, f.gen.calls)
	}
}

func TestEnsureProfiles_Generated(t *testing.T) {
	f := newFixture(t, 1, fastConfig())
	ctx := context.Background()
	project, _ := f.svc.projects.GetByID(ctx, projectID)
	scenes, _ := f.svc.scenes.ListByProject(ctx, projectID)

	profiles, err := f.svc.EnsureProfiles(ctx, project, scenes)
	if err != nil {
		t.Fatalf("EnsureProfiles: %v", err)
	}
	p := profiles["mara"]
	if p == nil || p.Fallback || p.CostumeDescription != "grey trench coat" {
		t.Fatalf("profile = %+v", p)
	}
	stored, _ := f.profiles.Get(ctx, projectID, "Mara")
	if stored == nil {
		t.Error("profile not persisted")
	}
}

func TestBuildScenePrompt_EmbedsPresentProfiles(t *testing.T) {
	project := &entity.Project{ID: projectID, Title: "Night Train"}
	scene := &entity.Scene{
		SceneNumber: 4,
		Location:    "EXT. PLATFORM",
		TimeOfDay:   "DAWN",
		Description: "Jonas waits.",
		Characters:  []string{"jonas", "Stranger"},
	}
	profiles := map[string]*entity.ConsistencyProfile{
		"jonas": {CharacterName: "Jonas", PhysicalDescription: "wiry, shaved head", CostumeDescription: "orange vest"},
		"mara":  {CharacterName: "Mara", PhysicalDescription: "tall", CostumeDescription: "coat"},
	}

	prompt, present := BuildScenePrompt(project, scene, profiles)
	if len(present) != 1 || present[0] != "Jonas" {
		t.Errorf("present = %v", present)
	}
	for _, want := range []string{"scene 4", "EXT. PLATFORM (DAWN)", "wiry, shaved head", "orange vest"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Mara") {
		t.Error("prompt includes absent character")
	}
}

func TestStart_LocksAndInitialisesStatuses(t *testing.T) {
	f := newFixture(t, 2, fastConfig())
	ctx := context.Background()

	job, err := f.svc.Start(ctx, projectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.svc.Start(ctx, projectID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("second Start err = %v, want conflict", err)
	}
	statuses, _ := f.svc.Status(ctx, projectID)
	for _, st := range statuses {
		if st.Status != entity.VisualStatusPending {
			t.Errorf("scene %d status = %s, want pending", st.SceneNumber, st.Status)
		}
	}

	if _, err := f.svc.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, held := f.lock.owners[projectID]; held {
		t.Error("lock still held after Execute")
	}
}

func TestStart_RequiresScenes(t *testing.T) {
	f := newFixture(t, 0, fastConfig())
	if _, err := f.svc.Start(context.Background(), projectID); !errors.Is(err, apperrors.ErrDependencyFailure) {
		t.Errorf("err = %v, want DependencyFailure", err)
	}
}

func TestExecute_CancelStopsBeforeNextScene(t *testing.T) {
	f := newFixture(t, 3, fastConfig())
	ctx := context.Background()

	job, err := f.svc.Start(ctx, projectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.images.onCall = func(scene int) {
		if scene == 1 {
			if err := f.svc.Cancel(ctx, projectID); err != nil {
				t.Errorf("Cancel: %v", err)
			}
		}
	}

	report, err := f.svc.Execute(ctx, job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Completed != 1 || len(f.images.calls) != 1 {
		t.Fatalf("report = %+v, image calls = %d, want only scene 1", report, len(f.images.calls))
	}
	statuses, _ := f.svc.Status(ctx, projectID)
	for _, st := range statuses {
		if st.SceneNumber == 1 {
			if st.Status != entity.VisualStatusCompleted {
				t.Errorf("scene 1 status = %s, want completed", st.Status)
			}
			continue
		}
		if st.Status != entity.VisualStatusFailed || !strings.Contains(st.ErrorMessage, "cancelled") {
			t.Errorf("scene %d = %s %q, want cancelled", st.SceneNumber, st.Status, st.ErrorMessage)
		}
	}
	if held, _ := f.lock.Held(ctx, projectID); held {
		t.Error("lock still held after cancelled batch")
	}
	if f.lock.cancel[projectID] {
		t.Error("cancel flag left behind")
	}
}

func TestCancel_NoActiveBatch(t *testing.T) {
	f := newFixture(t, 1, fastConfig())
	if err := f.svc.Cancel(context.Background(), projectID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
	if err := f.svc.Cancel(context.Background(), "missing"); !errors.Is(err, apperrors.ErrProjectNotFound) {
		t.Errorf("err = %v, want project not found", err)
	}
}

func TestExecute_SkipsJobWhenLockHeldByAnotherBatch(t *testing.T) {
	f := newFixture(t, 2, fastConfig())
	ctx := context.Background()

	stale, err := f.svc.Start(ctx, projectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 第一次执行完成并释放锁后，新批次占用了锁
	if _, err := f.svc.Execute(ctx, stale); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fresh, err := f.svc.Start(ctx, projectID)
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	calls := len(f.images.calls)

	// 旧批次被重复投递
	report, err := f.svc.Execute(ctx, stale)
	if err != nil {
		t.Fatalf("redelivered Execute: %v", err)
	}
	if report.Completed+report.Skipped+report.Failed != 0 || len(f.images.calls) != calls {
		t.Errorf("redelivered job did work: report = %+v", report)
	}
	if owner := f.lock.owners[projectID]; owner != fresh.BatchID {
		t.Errorf("lock owner = %q, want %q", owner, fresh.BatchID)
	}

	// 新批次正常执行，已有分镜跳过
	report, err = f.svc.Execute(ctx, fresh)
	if err != nil {
		t.Fatalf("fresh Execute: %v", err)
	}
	if report.Skipped != 2 {
		t.Errorf("fresh report = %+v, want 2 skipped", report)
	}
	if held, _ := f.lock.Held(ctx, projectID); held {
		t.Error("lock still held after fresh batch")
	}
}

func TestExecute_DuplicateWhileRunningIsSkipped(t *testing.T) {
	f := newFixture(t, 2, fastConfig())
	ctx := context.Background()

	job, err := f.svc.Start(ctx, projectID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var dup *BatchReport
	f.images.onCall = func(scene int) {
		if scene == 1 && dup == nil {
			dup, err = f.svc.Execute(ctx, job)
		}
	}
	if _, err := f.svc.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err != nil || dup == nil || dup.Completed != 0 {
		t.Fatalf("duplicate report = %+v err = %v, want skipped", dup, err)
	}
	if len(f.images.calls) != 2 {
		t.Errorf("image calls = %d, want 2", len(f.images.calls))
	}
}
