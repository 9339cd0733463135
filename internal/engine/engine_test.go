package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/domain"
	"github.com/gheezy/signalengine/internal/domain/factors"
	"github.com/gheezy/signalengine/internal/metrics"
	"github.com/gheezy/signalengine/internal/persistence"
)

var evalTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	created []domain.Signal
	fail    error
}

func (s *memStore) Create(ctx context.Context, sig *domain.Signal, window time.Duration) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, *sig)
	return nil
}

func (s *memStore) ListPending(ctx context.Context, subjectID int64, symbol string) ([]domain.Signal, error) {
	return nil, nil
}

func (s *memStore) ResolveOutcome(ctx context.Context, id string, out persistence.Outcome) error {
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*domain.Signal, error) {
	return nil, errors.New("not found")
}

func (s *memStore) Stats(ctx context.Context, subjectID int64, symbol string) (persistence.Stats, error) {
	return persistence.Stats{Total: 3, Wins: 2, Losses: 1, WinRate: 66.7}, nil
}

func (s *memStore) PendingSubjects(ctx context.Context) ([]int64, error) {
	return nil, nil
}

type spotPrice struct {
	price float64
	err   error
}

func (p spotPrice) Price(ctx context.Context, symbol string) (float64, error) {
	return p.price, p.err
}

type staticModel struct {
	confidence float64
	err        error
}

func (m staticModel) Predict(ctx context.Context, symbol string, features map[string]float64) (float64, error) {
	return m.confidence, m.err
}

type memRef struct {
	mu        sync.Mutex
	published map[string]float64
}

func (r *memRef) Publish(ctx context.Context, symbol string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.published == nil {
		r.published = make(map[string]float64)
	}
	r.published[symbol] = score
	return nil
}

func (r *memRef) Score(ctx context.Context, symbol string) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	score, ok := r.published[symbol]
	return score, ok, nil
}

type captureNotifier struct {
	mu   sync.Mutex
	seen []domain.Signal
}

func (n *captureNotifier) SignalCreated(sig domain.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, sig)
}

func staticSource(name string, value float64, err error) factors.Source {
	return factors.Func{
		SourceName: name,
		Fn: func(ctx context.Context, symbol string) (domain.FactorScore, error) {
			if err != nil {
				return domain.FactorScore{}, err
			}
			return domain.FactorScore{Name: name, Value: value}, nil
		},
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Scoring.Phases = []config.Phase{
		{Name: "technical", MaxContribution: 100, Factors: map[string]float64{
			"trend": 0.5, "momentum": 0.5,
		}},
	}
	cfg.Engine.FetchConcurrency = 2
	cfg.Engine.FetchTimeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg config.Config, opts Options) (*Engine, *memStore) {
	t.Helper()
	store := &memStore{}
	if opts.Store == nil {
		opts.Store = store
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry(prometheus.NewRegistry())
	}
	if opts.Price == nil {
		opts.Price = spotPrice{price: 88000}
	}
	opts.Now = func() time.Time { return evalTime }
	return New(cfg, opts), store
}

func registryWith(t *testing.T, sources ...factors.Source) *factors.Registry {
	t.Helper()
	reg := factors.NewRegistry()
	for _, src := range sources {
		require.NoError(t, reg.Register(src))
	}
	return reg
}

func TestEvaluate_FullPipeline(t *testing.T) {
	cfg := testConfig()
	notifier := &captureNotifier{}
	ref := &memRef{}

	eng, store := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", 8, nil), staticSource("momentum", 6, nil)),
		RefRead:  ref,
		RefWrite: ref,
		Notifier: notifier,
	})

	sig, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	require.NoError(t, err)

	// Weighted phase score 7 on [-10,10] scaled to the 100-point budget.
	raw, ok := sig.Breakdown.StageTotal(domain.StagePreConflict)
	require.True(t, ok)
	assert.InDelta(t, 70, raw, 1e-9)

	assert.Equal(t, domain.DirectionLong, sig.Direction)
	assert.Equal(t, domain.ResultPending, sig.Result)
	assert.Equal(t, evalTime, sig.CreatedAt)

	// No model wired: confidence is the rules value, 70/120*100.
	assert.InDelta(t, 70.0/120*100, sig.Confidence, 1e-9)
	assert.Equal(t, "low_confidence", sig.Tier)

	assert.Equal(t, 88000.0, sig.EntryPrice)
	assert.InDelta(t, 88000*1.015, sig.Target1, 1e-6)
	assert.InDelta(t, 88000*0.994, sig.StopLoss, 1e-6)

	require.Len(t, store.created, 1)
	require.Len(t, notifier.seen, 1)
	assert.Equal(t, sig.ID, notifier.seen[0].ID)

	published, ok, err := ref.Score(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 70, published, 1e-9)

	// All four stages must be on the audit trail.
	for _, stage := range []string{
		domain.StagePreConflict, domain.StagePostConflict,
		domain.StagePostCrossAsset, domain.StagePostEnsemble,
	} {
		_, ok := sig.Breakdown.StageTotal(stage)
		assert.True(t, ok, stage)
	}
}

func TestEvaluate_FailedSourceDegradesCoverage(t *testing.T) {
	cfg := testConfig()
	eng, store := newTestEngine(t, cfg, Options{
		Registry: registryWith(t,
			staticSource("trend", 8, nil),
			staticSource("momentum", 0, errors.New("feed timeout"))),
	})

	sig, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	require.NoError(t, err)

	// Only trend contributes: 0.5 * 8 = 4 on [-10,10] -> 40.
	raw, _ := sig.Breakdown.StageTotal(domain.StagePreConflict)
	assert.InDelta(t, 40, raw, 1e-9)

	// The degraded coverage is recorded on the audit trail.
	var note string
	for _, stage := range sig.Breakdown.Stages {
		if stage.Name == domain.StagePreConflict {
			note = stage.Note
		}
	}
	assert.Contains(t, note, "1 of 2")
	require.Len(t, store.created, 1)
}

func TestEvaluate_AllSourcesDownYieldsSideways(t *testing.T) {
	cfg := testConfig()
	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t,
			staticSource("trend", 0, errors.New("down")),
			staticSource("momentum", 0, errors.New("down"))),
	})

	sig, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionSideways, sig.Direction)
	assert.Equal(t, "wait", sig.Tier)
	assert.Zero(t, sig.Confidence)
}

func TestEvaluate_SpotPriceFailureAborts(t *testing.T) {
	cfg := testConfig()
	store := &memStore{}
	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", 8, nil)),
		Store:    store,
		Price:    spotPrice{err: errors.New("exchange down")},
	})

	_, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	assert.ErrorContains(t, err, "spot price")
	assert.Empty(t, store.created)
}

func TestEvaluate_ModelBlendsIntoConfidence(t *testing.T) {
	cfg := testConfig()
	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", 10, nil), staticSource("momentum", 10, nil)),
		Model:    staticModel{confidence: 0.9},
	})

	sig, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	require.NoError(t, err)

	// Rules 100/120*100 blended 70/30 with the model's 90.
	rules := 100.0 / 120 * 100
	assert.InDelta(t, 0.7*rules+0.3*90, sig.Confidence, 1e-9)
	assert.Equal(t, "strong", sig.Tier)
}

func TestEvaluate_ModelFailureFallsBackToRules(t *testing.T) {
	cfg := testConfig()
	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", 6, nil), staticSource("momentum", 6, nil)),
		Model:    staticModel{err: errors.New("inference timeout")},
	})

	sig, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	require.NoError(t, err)
	assert.InDelta(t, 60.0/120*100, sig.Confidence, 1e-9)
}

func TestEvaluate_ShortDirectionLevels(t *testing.T) {
	cfg := testConfig()
	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", -8, nil), staticSource("momentum", -7, nil)),
		Price:    spotPrice{price: 100},
	})

	sig, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionShort, sig.Direction)
	assert.InDelta(t, 98.5, sig.Target1, 1e-9)
	assert.InDelta(t, 98.0, sig.Target2, 1e-9)
	assert.InDelta(t, 100.6, sig.StopLoss, 1e-9)
}

func TestEvaluate_CrossAssetBlendUsesPublishedReference(t *testing.T) {
	cfg := testConfig()
	ref := &memRef{}
	require.NoError(t, ref.Publish(context.Background(), "BTC", 50))

	cfg.CrossAsset.Reference = "BTC"
	cfg.CrossAsset.Dependents = map[string]float64{"ETH": 0.8}
	cfg.CrossAsset.MinCoverage = 0.5

	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", 4, nil), staticSource("momentum", 4, nil)),
		RefRead:  ref,
		RefWrite: ref,
		Price:    spotPrice{price: 3000},
	})

	sig, err := eng.Evaluate(context.Background(), 1, "ETH")
	require.NoError(t, err)

	// Raw 40 plus the reference's 50 at coefficient 0.8.
	post, ok := sig.Breakdown.StageTotal(domain.StagePostCrossAsset)
	require.True(t, ok)
	assert.InDelta(t, 40+50*0.8, post, 1e-9)
}

func TestEvaluate_DuplicatePendingSignalSurfaces(t *testing.T) {
	cfg := testConfig()
	store := &memStore{fail: persistence.ErrDuplicateSignal}
	eng, _ := newTestEngine(t, cfg, Options{
		Registry: registryWith(t, staticSource("trend", 8, nil)),
		Store:    store,
	})

	_, err := eng.Evaluate(context.Background(), 1, "BTCUSD")
	assert.ErrorIs(t, err, persistence.ErrDuplicateSignal)
}
