// Package taskcache keeps raw task lists cached per calendar date and per
// category. Reads go through the cache to the task repository; writes go to
// the repository first and then patch the cached partitions in place.
package taskcache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/dayflow/internal/bus"
	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/internal/flight"
	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/store"
	"github.com/hrygo/dayflow/store/cache"
)

const (
	// FamilyDate partitions tasks by calendar date (YYYY-MM-DD).
	FamilyDate = "date"
	// FamilyCategory partitions tasks by category id.
	FamilyCategory = "category"

	dateStoreName     = "tasks-date"
	categoryStoreName = "tasks-category"
)

// Partition identifies one cached task list of one user.
type Partition struct {
	UserID int32  `json:"userId"`
	Family string `json:"family"`
	Key    string `json:"key"`
}

// ForDate returns the date partition of userID for date.
func ForDate(userID int32, date string) Partition {
	return Partition{UserID: userID, Family: FamilyDate, Key: date}
}

// ForCategory returns the category partition of userID for category.
func ForCategory(userID int32, category string) Partition {
	return Partition{UserID: userID, Family: FamilyCategory, Key: category}
}

// Validate checks the owner, the family and the key format.
func (p Partition) Validate() error {
	if p.UserID <= 0 {
		return apperrors.InvalidArgument("partition user id is required")
	}
	switch p.Family {
	case FamilyDate:
		if _, err := time.Parse(store.DateLayout, p.Key); err != nil {
			return apperrors.InvalidArgument("date partition key must be formatted as YYYY-MM-DD")
		}
	case FamilyCategory:
		if p.Key == "" {
			return apperrors.InvalidArgument("category partition key is required")
		}
	default:
		return apperrors.InvalidArgument("unknown partition family " + p.Family)
	}
	return nil
}

// Owner is the owner name the partition's cache entries are scoped to.
func (p Partition) Owner() string {
	return OwnerName(p.UserID)
}

// CacheKey is the key of the partition inside its family store.
func (p Partition) CacheKey() string {
	return cache.OwnerKey(p.Owner(), p.Key)
}

func (p Partition) flightKey() string {
	return p.Family + "|" + p.CacheKey()
}

// OwnerName renders userID as a cache owner.
func OwnerName(userID int32) string {
	return strconv.FormatInt(int64(userID), 10)
}

// Repository is the authoritative task source. *store.Store implements it.
type Repository interface {
	FetchTasksForDate(ctx context.Context, creatorID int32, date string) ([]*store.Task, error)
	FetchTasksForCategory(ctx context.Context, creatorID int32, category string) ([]*store.Task, error)
	GetTask(ctx context.Context, uid string) (*store.Task, error)
	CreateTask(ctx context.Context, create *store.Task) (*store.Task, error)
	UpdateTask(ctx context.Context, update *store.UpdateTask) (*store.Task, error)
	DeleteTask(ctx context.Context, delete *store.DeleteTask) error
}

// Config configures a Manager.
type Config struct {
	MaxEntries int
	TTL        time.Duration
	Now        func() time.Time
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Manager coordinates the date and category task caches.
type Manager struct {
	repo       Repository
	bus        *bus.Bus
	byDate     *cache.Store[[]*store.Task]
	byCategory *cache.Store[[]*store.Task]
	flights    flight.Group[[]*store.Task]

	// writeMu orders repository writes with the patches that follow them.
	writeMu sync.Mutex

	// mu serializes read-modify-write patches of cached partitions, the
	// fetch generations and the pinned day.
	mu          sync.Mutex
	fetching    map[string]*fetchState
	pinnedDay   string
	unsubscribe []func()

	now     func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewManager creates the two task stores over backend and subscribes them to b.
func NewManager(repo Repository, backend cache.Backend, b *bus.Bus, cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.GlobalMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	newStore := func(name, family string) *cache.Store[[]*store.Task] {
		return cache.New[[]*store.Task](backend, cache.Config{
			Prefix:     name,
			Family:     family,
			MaxEntries: cfg.MaxEntries,
			TTL:        cfg.TTL,
			Now:        cfg.Now,
			Logger:     cfg.Logger,
		})
	}

	m := &Manager{
		repo:       repo,
		bus:        b,
		byDate:     newStore(dateStoreName, FamilyDate),
		byCategory: newStore(categoryStoreName, FamilyCategory),
		fetching:   make(map[string]*fetchState),
		now:        cfg.Now,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "taskcache"),
	}
	m.unsubscribe = []func(){
		b.Subscribe(m.byDate.Name(), m.byDate),
		b.Subscribe(m.byCategory.Name(), m.byCategory),
	}
	return m
}

// Close detaches the stores from the bus.
func (m *Manager) Close() {
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
	m.unsubscribe = nil
}

func (m *Manager) storeFor(family string) *cache.Store[[]*store.Task] {
	if family == FamilyCategory {
		return m.byCategory
	}
	return m.byDate
}

// fetchState tracks the read-through fetches of one partition. gen advances
// whenever a write touches the partition, so a fetch that started before the
// write can tell its snapshot is stale.
type fetchState struct {
	inFlight int
	gen      uint64
}

// Get returns the tasks of p, fetching them from the repository on a miss.
// Concurrent misses for the same partition share one fetch. The returned
// slice must be treated as read-only.
func (m *Manager) Get(ctx context.Context, p Partition) ([]*store.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.rollover()
	s := m.storeFor(p.Family)
	if entry, ok := s.Get(p.CacheKey()); ok {
		m.metrics.RecordCacheHit()
		return entry.Payload, nil
	}
	m.metrics.RecordCacheMiss()

	tasks, _, err := m.flights.Do(ctx, p.flightKey(), func(ctx context.Context) ([]*store.Task, error) {
		gen := m.beginFetch(p)
		tasks, err := m.fetch(ctx, p)
		if err != nil {
			m.endFetch(p, gen, nil)
			return nil, m.checkAuth(ctx, p.UserID, err)
		}
		if tasks == nil {
			tasks = []*store.Task{}
		}
		m.endFetch(p, gen, tasks)
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetForDate is Get for a date partition.
func (m *Manager) GetForDate(ctx context.Context, userID int32, date string) ([]*store.Task, error) {
	return m.Get(ctx, ForDate(userID, date))
}

// GetForCategory is Get for a category partition.
func (m *Manager) GetForCategory(ctx context.Context, userID int32, category string) ([]*store.Task, error) {
	return m.Get(ctx, ForCategory(userID, category))
}

func (m *Manager) fetch(ctx context.Context, p Partition) ([]*store.Task, error) {
	if p.Family == FamilyCategory {
		return m.repo.FetchTasksForCategory(ctx, p.UserID, p.Key)
	}
	return m.repo.FetchTasksForDate(ctx, p.UserID, p.Key)
}

func (m *Manager) beginFetch(p Partition) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.fetching[p.flightKey()]
	if !ok {
		state = &fetchState{}
		m.fetching[p.flightKey()] = state
	}
	state.inFlight++
	return state.gen
}

// endFetch caches tasks unless a write touched p after the fetch began. A nil
// tasks only releases the fetch.
func (m *Manager) endFetch(p Partition, gen uint64, tasks []*store.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.fetching[p.flightKey()]
	state.inFlight--
	if state.inFlight == 0 {
		delete(m.fetching, p.flightKey())
	}
	if tasks == nil {
		return
	}
	if state.gen != gen {
		m.logger.Debug("discarding fetch overtaken by a write",
			observability.LogFieldFamily, p.Family,
			observability.LogFieldPartition, p.CacheKey())
		return
	}
	if err := m.storeFor(p.Family).Put(p.CacheKey(), tasks, m.isToday(p)); err != nil {
		m.logger.Warn("failed to cache tasks",
			observability.LogFieldFamily, p.Family,
			observability.LogFieldPartition, p.CacheKey(),
			"error", err)
	}
}

// markWritten advances the generation of p's in-flight fetches and detaches
// them so later misses start a fresh fetch. Callers hold mu.
func (m *Manager) markWritten(p Partition) {
	if state, ok := m.fetching[p.flightKey()]; ok {
		state.gen++
		m.flights.Forget(p.flightKey())
	}
}

// isToday reports whether p is today's date partition, which is kept pinned.
func (m *Manager) isToday(p Partition) bool {
	return p.Family == FamilyDate && p.Key == m.now().Format(store.DateLayout)
}

// rollover moves the pin to the new day's date partitions once the date
// changes, releasing the previous day's to the TTL.
func (m *Manager) rollover() {
	day := m.now().Format(store.DateLayout)
	m.mu.Lock()
	defer m.mu.Unlock()
	if day == m.pinnedDay {
		return
	}
	m.pinnedDay = day
	for _, key := range m.byDate.Keys() {
		_, date, ok := strings.Cut(key, ":")
		if !ok {
			continue
		}
		if err := m.byDate.SetPinned(key, date == day); err != nil {
			m.logger.Warn("failed to move pin", observability.LogFieldPartition, key, "error", err)
		}
	}
	m.logger.Debug("pinned date partitions moved", "day", day)
}

// RecordCreated creates the task and appends it to its cached partitions.
// The task must carry its creator.
func (m *Manager) RecordCreated(ctx context.Context, create *store.Task) (*store.Task, error) {
	if create.CreatorID <= 0 {
		return nil, apperrors.InvalidArgument("task creator is required")
	}
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	task, err := m.repo.CreateTask(ctx, create)
	if err != nil {
		return nil, m.checkAuth(ctx, create.CreatorID, err)
	}
	m.applyChange(ctx, nil, task, "created")
	return task, nil
}

// RecordUpdated updates a task of userID and replaces it inside its cached
// partitions, moving it when its date or category changed. Tasks of other
// users read as not found.
func (m *Manager) RecordUpdated(ctx context.Context, userID int32, update *store.UpdateTask) (*store.Task, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	prev, err := m.ownedTask(ctx, userID, update.UID)
	if err != nil {
		return nil, err
	}
	task, err := m.repo.UpdateTask(ctx, update)
	if err != nil {
		return nil, m.checkAuth(ctx, userID, err)
	}
	m.applyChange(ctx, prev, task, "updated")
	return task, nil
}

// RecordDeleted deletes a task of userID and removes it from its cached
// partitions. Tasks of other users read as not found.
func (m *Manager) RecordDeleted(ctx context.Context, userID int32, uid string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	prev, err := m.ownedTask(ctx, userID, uid)
	if err != nil {
		return err
	}
	if err := m.repo.DeleteTask(ctx, &store.DeleteTask{UID: uid}); err != nil {
		return m.checkAuth(ctx, userID, err)
	}
	m.applyChange(ctx, prev, nil, "deleted")
	return nil
}

func (m *Manager) ownedTask(ctx context.Context, userID int32, uid string) (*store.Task, error) {
	task, err := m.repo.GetTask(ctx, uid)
	if err != nil {
		return nil, m.checkAuth(ctx, userID, err)
	}
	if task.CreatorID != userID {
		return nil, apperrors.NotFound("task " + uid)
	}
	return task, nil
}

// applyChange patches every cached partition prev belonged to or next
// belongs to, then announces each of them on the bus. The announcing store is
// named as origin so it does not drop the entry it just patched.
func (m *Manager) applyChange(ctx context.Context, prev, next *store.Task, reason string) {
	m.rollover()
	m.mu.Lock()
	var touched []Partition
	for _, family := range []string{FamilyDate, FamilyCategory} {
		oldPart, oldOK := taskPartition(prev, family)
		newPart, newOK := taskPartition(next, family)
		s := m.storeFor(family)
		if oldOK && (!newOK || oldPart != newPart) {
			m.markWritten(oldPart)
			m.patch(s, oldPart.CacheKey(), func(tasks []*store.Task) []*store.Task {
				return removeTask(tasks, prev.UID)
			})
			touched = append(touched, oldPart)
		}
		if newOK {
			m.markWritten(newPart)
			m.patch(s, newPart.CacheKey(), func(tasks []*store.Task) []*store.Task {
				return upsertTask(tasks, next)
			})
			touched = append(touched, newPart)
		}
	}
	m.mu.Unlock()

	for _, p := range touched {
		event := bus.Partition(p.Family, p.CacheKey(), m.storeFor(p.Family).Name(), reason)
		if err := m.bus.Publish(ctx, event); err != nil {
			m.logger.Warn("invalidation subscriber failed",
				observability.LogFieldFamily, p.Family,
				observability.LogFieldPartition, p.CacheKey(),
				"error", err)
		}
	}
}

// patch rewrites a cached partition. Uncached partitions are left alone; the
// next Get fetches them fresh.
func (m *Manager) patch(s *cache.Store[[]*store.Task], key string, fn func([]*store.Task) []*store.Task) {
	entry, ok := s.Get(key)
	if !ok {
		return
	}
	if err := s.Put(key, fn(entry.Payload), entry.Pinned); err != nil {
		m.logger.Warn("failed to patch cached partition, dropping it", "store", s.Name(), observability.LogFieldPartition, key, "error", err)
		if err := s.Invalidate(key); err != nil {
			m.logger.Error("failed to drop cached partition", "store", s.Name(), observability.LogFieldPartition, key, "error", err)
		}
	}
}

// taskPartition returns the partition of family that t belongs to.
func taskPartition(t *store.Task, family string) (Partition, bool) {
	if t == nil {
		return Partition{}, false
	}
	key := t.Date
	if family == FamilyCategory {
		key = t.Category
	}
	if key == "" {
		return Partition{}, false
	}
	return Partition{UserID: t.CreatorID, Family: family, Key: key}, true
}

// upsertTask replaces or appends task. A cached copy with a newer UpdatedTs
// wins over task.
func upsertTask(tasks []*store.Task, task *store.Task) []*store.Task {
	out := make([]*store.Task, 0, len(tasks)+1)
	replaced := false
	for _, t := range tasks {
		if t.UID == task.UID {
			if t.UpdatedTs > task.UpdatedTs {
				out = append(out, t)
			} else {
				out = append(out, task.Clone())
			}
			replaced = true
			continue
		}
		out = append(out, t)
	}
	if !replaced {
		out = append(out, task.Clone())
	}
	return out
}

func removeTask(tasks []*store.Task, uid string) []*store.Task {
	out := make([]*store.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.UID != uid {
			out = append(out, t)
		}
	}
	return out
}

// Invalidate drops the cached partition p.
func (m *Manager) Invalidate(ctx context.Context, p Partition) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.markWritten(p)
	m.mu.Unlock()
	return m.bus.Publish(ctx, bus.Partition(p.Family, p.CacheKey(), "", "manual"))
}

// OnAuthenticationFailure clears every cache entry of userID across all
// subscribed caches so nothing cached for an ended session outlives it.
// Other users' entries are kept.
func (m *Manager) OnAuthenticationFailure(ctx context.Context, userID int32) error {
	if userID <= 0 {
		return nil
	}
	m.logger.Warn("session no longer authenticated, clearing the user's caches", "user_id", userID)
	return m.bus.Publish(ctx, bus.Owner(OwnerName(userID), "unauthenticated"))
}

// Reset clears every cache subscribed to the bus.
func (m *Manager) Reset(ctx context.Context) error {
	m.logger.Info("clearing all caches")
	return m.bus.Publish(ctx, bus.All("reset"))
}

// checkAuth triggers OnAuthenticationFailure for userID on authentication
// errors and returns err unchanged.
func (m *Manager) checkAuth(ctx context.Context, userID int32, err error) error {
	if errors.Is(err, apperrors.ErrUnauthenticated) {
		if clearErr := m.OnAuthenticationFailure(ctx, userID); clearErr != nil {
			m.logger.Error("failed to clear caches", "error", clearErr)
		}
	}
	return err
}
