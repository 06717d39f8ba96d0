package deploy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aibuilder/internal/cache"
	"aibuilder/internal/core"
	"aibuilder/internal/providers"
	"aibuilder/internal/storage"
	"aibuilder/internal/tasks"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu          sync.Mutex
	projects    map[string]*storage.Project
	dataSources map[string]*storage.DataSource
	deployments map[string]*storage.Deployment
	analytics   map[string]*storage.AnalyticsRecord // deploymentID|date
}

func newMemStore() *memStore {
	return &memStore{
		projects:    map[string]*storage.Project{},
		dataSources: map[string]*storage.DataSource{},
		deployments: map[string]*storage.Deployment{},
		analytics:   map[string]*storage.AnalyticsRecord{},
	}
}

func (s *memStore) CreateProject(_ context.Context, p *storage.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) GetProject(_ context.Context, id string) (*storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListProjects(_ context.Context, userID string) ([]*storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.Project
	for _, p := range s.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateProject(_ context.Context, p *storage.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memStore) CreateDataSource(_ context.Context, ds *storage.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ds
	s.dataSources[ds.ID] = &cp
	return nil
}

func (s *memStore) GetDataSource(_ context.Context, id string) (*storage.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.dataSources[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ds
	return &cp, nil
}

func (s *memStore) ListDataSources(_ context.Context, projectID string) ([]*storage.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.DataSource
	for _, ds := range s.dataSources {
		if ds.ProjectID == projectID {
			cp := *ds
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateDataSource(_ context.Context, ds *storage.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dataSources[ds.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *ds
	s.dataSources[ds.ID] = &cp
	return nil
}

func (s *memStore) CreateDeployment(_ context.Context, d *storage.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *memStore) GetDeployment(_ context.Context, id string) (*storage.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) withProject(d *storage.Deployment) *storage.DeploymentWithProject {
	out := &storage.DeploymentWithProject{Deployment: *d}
	if p, ok := s.projects[d.ProjectID]; ok {
		out.ProjectName = p.Name
		out.ProjectType = p.Type
	}
	return out
}

func (s *memStore) GetDeploymentWithProject(_ context.Context, id string) (*storage.DeploymentWithProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.withProject(d), nil
}

func (s *memStore) ListDeployments(_ context.Context, userID, projectID string) ([]*storage.DeploymentWithProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.DeploymentWithProject
	for _, d := range s.deployments {
		p, ok := s.projects[d.ProjectID]
		if !ok || p.UserID != userID {
			continue
		}
		if projectID != "" && d.ProjectID != projectID {
			continue
		}
		out = append(out, s.withProject(d))
	}
	return out, nil
}

func (s *memStore) LatestDeploymentVersion(_ context.Context, projectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, d := range s.deployments {
		if d.ProjectID == projectID && d.Version > max {
			max = d.Version
		}
	}
	return max, nil
}

func (s *memStore) UpdateDeployment(_ context.Context, d *storage.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[d.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *d
	s.deployments[d.ID] = &cp
	return nil
}

func (s *memStore) FindActiveDeploymentByAPIKey(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.deployments {
		if d.Status == storage.DeployStatusActive && d.APIKey() == key {
			return d.ID, nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *memStore) GetAnalytics(_ context.Context, deploymentID, date string) (*storage.AnalyticsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.analytics[deploymentID+"|"+date]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) UpsertAnalytics(_ context.Context, rec *storage.AnalyticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.analytics[rec.DeploymentID+"|"+rec.Date] = &cp
	return nil
}

func (s *memStore) RecentAnalytics(_ context.Context, deploymentID string, limit int) ([]*storage.AnalyticsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.AnalyticsRecord
	for _, rec := range s.analytics {
		if rec.DeploymentID == deploymentID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) QueryAnalytics(_ context.Context, userID, projectID string, days int) ([]*storage.AnalyticsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := storage.Day(time.Now().AddDate(0, 0, -days))
	var out []*storage.AnalyticsRecord
	for _, rec := range s.analytics {
		owner := rec.DeploymentID
		if d, ok := s.deployments[rec.DeploymentID]; ok {
			owner = d.ProjectID
		}
		p, ok := s.projects[owner]
		if !ok || p.UserID != userID {
			continue
		}
		if projectID != "" && owner != projectID {
			continue
		}
		if rec.Date < cutoff {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *memStore) Close() error { return nil }

// fakeGenerator satisfies providers.TextGenerator with a canned response.
type fakeGenerator struct {
	name     string
	response string
	err      error
	lastOpts providers.GenerateOptions
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) UpstreamModelID(catalogID string) string { return catalogID }

func (f *fakeGenerator) GenerateText(_ context.Context, _ string, opts providers.GenerateOptions) (string, core.Usage, error) {
	f.lastOpts = opts
	if f.err != nil {
		return "", core.Usage{}, f.err
	}
	return f.response, core.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, nil
}

type testEnv struct {
	engine *Engine
	store  *memStore
	gen    *fakeGenerator
}

func newTestEnv(t *testing.T, projectType core.TaskKind) *testEnv {
	t.Helper()
	store := newMemStore()
	require.NoError(t, store.CreateProject(context.Background(), &storage.Project{
		ID:     "project-1",
		UserID: "user-1",
		Name:   "Support Bot",
		Type:   projectType,
		Status: storage.ProjectStatusDraft,
	}))

	gen := &fakeGenerator{
		name:     "cerebras",
		response: `{"sentiment": "positive", "confidence": 0.95, "reasoning": "upbeat"}`,
	}
	handler := tasks.NewHandler(providers.NewSet(gen))
	engine := NewEngine(store, cache.NewLocal(time.Minute), handler, "")
	return &testEnv{engine: engine, store: store, gen: gen}
}

func deployTest(t *testing.T, env *testEnv) *DeployResult {
	t.Helper()
	result, err := env.engine.Deploy(context.Background(), DeployRequest{
		ProjectID: "project-1",
		ModelID:   "cerebras-llama-3.1-8b",
	})
	require.NoError(t, err)
	return result
}

func TestDeployAllocatesVersionsAndKey(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)

	first := deployTest(t, env)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, storage.DeployStatusActive, first.Status)
	assert.True(t, strings.HasPrefix(first.APIKey, "aib_"))
	assert.Len(t, first.APIKey, len("aib_")+64)
	assert.Equal(t, "http://localhost:3000/api/deployed/"+first.DeploymentID, first.EndpointURL)

	second := deployTest(t, env)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.APIKey, second.APIKey)
}

func TestDeploySeedsAnalyticsRow(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	rec, err := env.store.GetAnalytics(context.Background(), result.DeploymentID, storage.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.RequestCount)
	assert.Equal(t, float64(0), rec.AvgResponseTime)
}

func TestDeployMarksProjectDeployed(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	deployTest(t, env)

	p, err := env.store.GetProject(context.Background(), "project-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ProjectStatusDeployed, p.Status)
}

func TestRecordAdHocCreatesProjectKeyedRow(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)

	env.engine.RecordAdHoc(context.Background(), "project-1", true, 120*time.Millisecond)

	rec, err := env.store.GetAnalytics(context.Background(), "project-1", storage.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RequestCount)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, float64(120), rec.AvgResponseTime)
}

func TestRecordAdHocFoldsRunningMean(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	require.NoError(t, env.store.UpsertAnalytics(context.Background(), &storage.AnalyticsRecord{
		DeploymentID:    "project-1",
		Date:            storage.Day(time.Now()),
		RequestCount:    2,
		SuccessCount:    2,
		AvgResponseTime: 100,
	}))

	env.engine.RecordAdHoc(context.Background(), "project-1", true, 50*time.Millisecond)

	rec, err := env.store.GetAnalytics(context.Background(), "project-1", storage.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, rec.RequestCount)
	assert.Equal(t, 3, rec.SuccessCount)
	assert.Equal(t, 83.33, rec.AvgResponseTime)
}

func TestRecordAdHocVisibleInUsageReport(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)

	env.engine.RecordAdHoc(context.Background(), "project-1", true, 30*time.Millisecond)

	rows, err := env.store.QueryAnalytics(context.Background(), "user-1", "", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "project-1", rows[0].DeploymentID)

	filtered, err := env.store.QueryAnalytics(context.Background(), "user-1", "project-1", 30)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)
}

func TestDeployUnknownProject(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)

	_, err := env.engine.Deploy(context.Background(), DeployRequest{ProjectID: "nope"})
	require.Error(t, err)
	var gwErr *core.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 404, gwErr.HTTPStatusCode())
}

func TestDeployAppliesDefaultConfig(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	d, err := env.store.GetDeployment(context.Background(), result.DeploymentID)
	require.NoError(t, err)
	mc, ok := d.Config["modelConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.7, mc["temperature"])
	assert.Equal(t, 2048, mc["maxTokens"])
	scaling, ok := d.Config["scaling"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 70, scaling["targetCPU"])
}

func TestValidateAPIKey(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	id, ok := env.engine.ValidateAPIKey(context.Background(), result.APIKey)
	assert.True(t, ok)
	assert.Equal(t, result.DeploymentID, id)

	_, ok = env.engine.ValidateAPIKey(context.Background(), "aib_bogus")
	assert.False(t, ok)

	_, ok = env.engine.ValidateAPIKey(context.Background(), "")
	assert.False(t, ok)
}

func TestValidateAPIKeyIgnoresStoppedDeployments(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	require.NoError(t, env.engine.Stop(context.Background(), result.DeploymentID))

	_, ok := env.engine.ValidateAPIKey(context.Background(), result.APIKey)
	assert.False(t, ok, "keys of inactive deployments must not validate")
}

func TestStopIsIdempotent(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	require.NoError(t, env.engine.Stop(context.Background(), result.DeploymentID))
	require.NoError(t, env.engine.Stop(context.Background(), result.DeploymentID))

	d, err := env.store.GetDeployment(context.Background(), result.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeployStatusInactive, d.Status)
}

func TestUpdateMergesConfigAndReactivates(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	require.NoError(t, env.engine.Stop(context.Background(), result.DeploymentID))
	require.NoError(t, env.engine.Update(context.Background(), result.DeploymentID, map[string]any{
		"modelId": "cerebras-llama-3.1-70b",
	}))

	d, err := env.store.GetDeployment(context.Background(), result.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, storage.DeployStatusActive, d.Status)
	assert.Equal(t, "cerebras-llama-3.1-70b", d.Config["modelId"])
	assert.Equal(t, result.APIKey, d.APIKey(), "merge must preserve the issued key")
	assert.NotEmpty(t, d.Config["updatedAt"])
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	out := env.engine.Execute(context.Background(), result.DeploymentID, result.APIKey, tasks.Input{
		Text: "I love this product",
	})
	require.True(t, out.Success, "execute failed: %s", out.Error)
	require.NotNil(t, out.Data)

	payload, ok := out.Data.Result.(tasks.SentimentResult)
	require.True(t, ok)
	assert.Equal(t, "positive", payload.Sentiment)

	assert.True(t, strings.HasPrefix(out.Usage.RequestID, "req_"))
	require.NotNil(t, out.Usage.TokensUsed)
	assert.Equal(t, 30, *out.Usage.TokensUsed)
}

func TestExecuteRejectsWrongKey(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	out := env.engine.Execute(context.Background(), result.DeploymentID, "aib_wrong", tasks.Input{Text: "hi"})
	assert.False(t, out.Success)
	assert.Equal(t, "Invalid API key", out.Error)
	assert.NotEmpty(t, out.Usage.RequestID)
}

func TestExecuteRejectsKeyOfOtherDeployment(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	first := deployTest(t, env)
	second := deployTest(t, env)

	// first's key resolves, but not to second's deployment.
	out := env.engine.Execute(context.Background(), second.DeploymentID, first.APIKey, tasks.Input{Text: "hi"})
	assert.False(t, out.Success)
	assert.Equal(t, "Invalid API key", out.Error)
}

func TestExecuteUpdatesAnalytics(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)
	ctx := context.Background()

	out := env.engine.Execute(ctx, result.DeploymentID, result.APIKey, tasks.Input{Text: "great"})
	require.True(t, out.Success)

	rec, err := env.store.GetAnalytics(ctx, result.DeploymentID, storage.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RequestCount)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.Equal(t, 0, rec.ErrorCount)
}

func TestExecuteRecordsErrorInAnalytics(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	env.gen.err = core.NewProviderError("cerebras", 500, "upstream down", nil)
	result := deployTest(t, env)
	ctx := context.Background()

	out := env.engine.Execute(ctx, result.DeploymentID, result.APIKey, tasks.Input{Text: "hi"})
	assert.False(t, out.Success)
	assert.Nil(t, out.Usage.TokensUsed)

	rec, err := env.store.GetAnalytics(ctx, result.DeploymentID, storage.Day(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RequestCount)
	assert.Equal(t, 0, rec.SuccessCount)
	assert.Equal(t, 1, rec.ErrorCount)
}

func TestExecuteUnsupportedProjectType(t *testing.T) {
	env := newTestEnv(t, core.TaskChatbot)
	result := deployTest(t, env)

	out := env.engine.Execute(context.Background(), result.DeploymentID, result.APIKey, tasks.Input{Text: "hi"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unsupported task type")
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t, core.TaskSentimentAnalysis)
	result := deployTest(t, env)

	status, err := env.engine.GetStatus(context.Background(), result.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, "Support Bot", status.Deployment.ProjectName)
	assert.Equal(t, core.TaskSentimentAnalysis, status.Deployment.ProjectType)
	require.Len(t, status.Analytics, 1, "deploy seeds today's row")
	assert.Equal(t, 0, status.Analytics[0].RequestCount)
}
