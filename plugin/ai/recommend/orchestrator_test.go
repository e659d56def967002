package recommend

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dayflow/internal/bus"
	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/store"
	"github.com/hrygo/dayflow/store/cache"
)

// MockRemoteRecommender is a mock implementation of RemoteRecommender.
type MockRemoteRecommender struct {
	mock.Mock
}

func (m *MockRemoteRecommender) Name() string {
	return "mock"
}

func (m *MockRemoteRecommender) Recommend(ctx context.Context, req RemoteRequest) ([]RemoteItem, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RemoteItem), args.Error(1)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type orchestratorFixture struct {
	orch    *Orchestrator
	records *cache.Store[*Record]
	metrics *observability.Metrics
	clock   *testClock
}

func newFixture(t *testing.T, remote RemoteRecommender, remoteTimeout time.Duration) *orchestratorFixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	logger := observability.NewLogger(io.Discard, "error", "text")
	records := cache.New[*Record](cache.NewMemoryBackend(), cache.Config{
		Prefix:     "recommendations",
		Family:     "recommendation",
		MaxEntries: 16,
		TTL:        time.Hour,
		Now:        clock.Now,
		Logger:     logger,
	})
	metrics := observability.NewMetrics()
	orch := NewOrchestrator(records, remote, Config{
		Policy:        DefaultStalenessPolicy(),
		RemoteTimeout: remoteTimeout,
		Now:           clock.Now,
		Metrics:       metrics,
		Logger:        logger,
	})
	// The policy keeps its own clock; align it with the fixture's.
	orch.policy.Now = clock.Now
	return &orchestratorFixture{orch: orch, records: records, metrics: metrics, clock: clock}
}

func dayTasks() []*store.Task {
	return []*store.Task{
		task("p3", 3),
		task("p5-a", 5),
		task("p1", 1),
		task("p2", 2, scheduledAt(1717236000)),
		task("p5-b", 5),
	}
}

func TestGetRecommendations_CacheHitIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	first, err := f.orch.GetRecommendations(ctx, Request{Scope: "2024-06-01", Tasks: dayTasks()})
	require.NoError(t, err)
	assert.Equal(t, MethodLocal, first.Method)
	assert.Equal(t, []string{"p5-a", "p5-b", "p2"}, uids(first.Items))
	assert.NotEmpty(t, first.SourceFingerprint)

	second, err := f.orch.GetRecommendations(ctx, Request{Scope: "2024-06-01", Tasks: dayTasks()})
	require.NoError(t, err)
	assert.Equal(t, uids(first.Items), uids(second.Items))
	assert.Equal(t, first.SourceFingerprint, second.SourceFingerprint)
	assert.Equal(t, int64(1), f.orch.Generations())

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.CacheHits)
	assert.Equal(t, int64(1), snap.CacheMisses)
	assert.Equal(t, int64(2), snap.RequestTotal)
}

func TestGetRecommendations_PermutedInputHitsCache(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	tasks := dayTasks()
	_, err := f.orch.GetRecommendations(ctx, Request{Tasks: tasks})
	require.NoError(t, err)

	reversed := make([]*store.Task, 0, len(tasks))
	for i := len(tasks) - 1; i >= 0; i-- {
		reversed = append(reversed, tasks[i])
	}
	_, err = f.orch.GetRecommendations(ctx, Request{Tasks: reversed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.orch.Generations())
}

func TestGetRecommendations_Staleness(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(req *Request, clock *testClock)
		wantRegen bool
	}{
		{
			name:      "unchanged",
			mutate:    func(*Request, *testClock) {},
			wantRegen: false,
		},
		{
			name: "task completed",
			mutate: func(req *Request, _ *testClock) {
				req.Tasks[1].Status = store.TaskStatusCompleted
				req.Tasks[1].UpdatedTs++
			},
			wantRegen: true,
		},
		{
			name: "small energy drift",
			mutate: func(req *Request, _ *testClock) {
				req.Context.EnergyLevel = 7
			},
			wantRegen: false,
		},
		{
			name: "large energy drift",
			mutate: func(req *Request, _ *testClock) {
				req.Context.EnergyLevel = 9
			},
			wantRegen: true,
		},
		{
			name: "available time drift",
			mutate: func(req *Request, _ *testClock) {
				req.Context.AvailableTimeMinutes = 100
			},
			wantRegen: true,
		},
		{
			name: "mood change",
			mutate: func(req *Request, _ *testClock) {
				req.Context.Mood = MoodTired
			},
			wantRegen: true,
		},
		{
			name: "title edit",
			mutate: func(req *Request, _ *testClock) {
				req.Tasks[0].Title = "renamed"
			},
			wantRegen: false,
		},
		{
			name: "record older than ttl",
			mutate: func(_ *Request, clock *testClock) {
				clock.Advance(6 * time.Minute)
			},
			wantRegen: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, 0)
			ctx := context.Background()
			req := Request{
				Scope:   "2024-06-01",
				Tasks:   dayTasks(),
				Context: UserContext{Mood: MoodNeutral, EnergyLevel: 6, AvailableTimeMinutes: 60},
			}
			_, err := f.orch.GetRecommendations(ctx, req)
			require.NoError(t, err)

			tt.mutate(&req, f.clock)
			_, err = f.orch.GetRecommendations(ctx, req)
			require.NoError(t, err)

			want := int64(1)
			if tt.wantRegen {
				want = 2
			}
			assert.Equal(t, want, f.orch.Generations())
		})
	}
}

func TestGetRecommendations_ConcurrentCallersShareOneGeneration(t *testing.T) {
	remote := new(MockRemoteRecommender)
	release := make(chan struct{})
	remote.On("Recommend", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return([]RemoteItem{{TaskID: "p2", Reason: "scheduled soon", Confidence: 0.7}}, nil).
		Once()

	f := newFixture(t, remote, time.Second)
	ctx := context.Background()

	const callers = 8
	results := make([]*Record, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.GetRecommendations(ctx, Request{Tasks: dayTasks(), Method: MethodRemote})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, MethodRemote, results[i].Method)
		assert.Equal(t, []string{"p2"}, uids(results[i].Items))
	}
	assert.Equal(t, int64(1), f.orch.Generations())
	remote.AssertNumberOfCalls(t, "Recommend", 1)
}

func TestGetRecommendations_RemoteSuccess(t *testing.T) {
	remote := new(MockRemoteRecommender)
	remote.On("Recommend", mock.Anything, mock.MatchedBy(func(req RemoteRequest) bool {
		return req.Count == 2 && len(req.Tasks) == 5
	})).Return([]RemoteItem{
		{TaskID: "p1", Reason: "tiny", Confidence: 0.6},
		{TaskID: "p5-b", Reason: "important", Confidence: 0.9},
	}, nil).Once()

	f := newFixture(t, remote, time.Second)
	record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: dayTasks(), Method: MethodRemote, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, MethodRemote, record.Method)
	assert.Equal(t, []string{"p1", "p5-b"}, uids(record.Items))
	assert.Equal(t, "tiny", record.Items[0].Reason)
	remote.AssertExpectations(t)
}

func TestGetRecommendations_FallsBackToLocal(t *testing.T) {
	t.Run("remote error", func(t *testing.T) {
		remote := new(MockRemoteRecommender)
		remote.On("Recommend", mock.Anything, mock.Anything).Return(nil, errors.New("503 service unavailable"))

		f := newFixture(t, remote, time.Second)
		record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: dayTasks(), Method: MethodRemote})
		require.NoError(t, err)
		assert.Equal(t, MethodLocal, record.Method)
		assert.Equal(t, []string{"p5-a", "p5-b", "p2"}, uids(record.Items))
		assert.Equal(t, int64(1), f.metrics.Snapshot().Fallbacks)
	})

	t.Run("remote timeout", func(t *testing.T) {
		remote := new(MockRemoteRecommender)
		remote.On("Recommend", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		f := newFixture(t, remote, 20*time.Millisecond)
		record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: dayTasks(), Method: MethodRemote})
		require.NoError(t, err)
		assert.Equal(t, MethodLocal, record.Method)
		assert.Len(t, record.Items, 3)
	})

	t.Run("invalid remote answer", func(t *testing.T) {
		remote := new(MockRemoteRecommender)
		remote.On("Recommend", mock.Anything, mock.Anything).
			Return([]RemoteItem{{TaskID: "not-a-task", Confidence: 0.5}}, nil)

		f := newFixture(t, remote, time.Second)
		record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: dayTasks(), Method: MethodRemote})
		require.NoError(t, err)
		assert.Equal(t, MethodLocal, record.Method)
	})

	t.Run("no remote configured", func(t *testing.T) {
		f := newFixture(t, nil, 0)
		record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: dayTasks(), Method: MethodRemote})
		require.NoError(t, err)
		assert.Equal(t, MethodLocal, record.Method)
	})
}

func TestGetRecommendations_RemoteWithoutRemoteServedFromCache(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	first, err := f.orch.GetRecommendations(ctx, Request{Scope: "2024-06-01", Tasks: dayTasks(), Method: MethodRemote})
	require.NoError(t, err)
	assert.Equal(t, MethodLocal, first.Method)

	second, err := f.orch.GetRecommendations(ctx, Request{Scope: "2024-06-01", Tasks: dayTasks(), Method: MethodRemote})
	require.NoError(t, err)
	assert.Equal(t, first.WrittenAt, second.WrittenAt)
	assert.Equal(t, int64(1), f.orch.Generations())
	assert.Equal(t, int64(1), f.metrics.Snapshot().CacheHits)
	assert.Zero(t, f.metrics.Snapshot().Fallbacks, "nothing was attempted remotely")
}

func TestGetRecommendations_OwnersDoNotShareRecords(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	_, err := f.orch.GetRecommendations(ctx, Request{Owner: "1", Scope: "date:2024-06-01", Tasks: dayTasks()})
	require.NoError(t, err)
	_, err = f.orch.GetRecommendations(ctx, Request{Owner: "2", Scope: "date:2024-06-01", Tasks: dayTasks()})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.orch.Generations())
	assert.Equal(t, []string{"1:date:2024-06-01", "2:date:2024-06-01"}, f.records.Keys())

	require.NoError(t, f.records.HandleInvalidation(ctx, bus.Owner("1", "token expired")))
	assert.Equal(t, []string{"2:date:2024-06-01"}, f.records.Keys())
}

func TestGetRecommendations_EmptyShortCircuits(t *testing.T) {
	f := newFixture(t, nil, 0)

	record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: nil})
	require.NoError(t, err)
	assert.Empty(t, record.Items)
	assert.Equal(t, MessageNoTasks, record.Message)
	assert.Equal(t, int64(0), f.orch.Generations())
	assert.Equal(t, 0, f.records.Len())
}

func TestGetRecommendations_AllDone(t *testing.T) {
	f := newFixture(t, nil, 0)

	tasks := []*store.Task{task("a", 5, completed()), task("b", 2, completed())}
	record, err := f.orch.GetRecommendations(context.Background(), Request{Tasks: tasks})
	require.NoError(t, err)
	assert.Empty(t, record.Items)
	assert.Equal(t, MessageAllDone, record.Message)
	assert.Equal(t, int64(0), f.orch.Generations())
}

func TestGetRecommendations_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	_, err := f.orch.GetRecommendations(ctx, Request{Tasks: dayTasks(), Method: "psychic"})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	dup := []*store.Task{task("same", 3), task("same", 4)}
	_, err = f.orch.GetRecommendations(ctx, Request{Tasks: dup})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvariantViolation))

	_, err = f.orch.GetRecommendations(ctx, Request{Tasks: []*store.Task{task("bad", 9)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvariantViolation))

	assert.Equal(t, int64(0), f.orch.Generations())
	assert.Equal(t, int64(3), f.metrics.Snapshot().RequestFailed)
}

func TestOrchestrator_HandleInvalidationDoesNotRegenerate(t *testing.T) {
	f := newFixture(t, nil, 0)
	ctx := context.Background()

	_, err := f.orch.GetRecommendations(ctx, Request{Tasks: dayTasks()})
	require.NoError(t, err)

	require.NoError(t, f.orch.HandleInvalidation(ctx, bus.Partition("date", "2024-06-01", "tasks-date", "updated")))
	require.NoError(t, f.orch.HandleInvalidation(ctx, bus.All("unauthenticated")))

	assert.Equal(t, int64(1), f.orch.Generations())
	assert.Equal(t, int64(2), f.metrics.Snapshot().Invalidations)
}
