package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"alerthub/internal/database"
	"alerthub/internal/models"
	"alerthub/internal/sources"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingEvaluator struct {
	mu     sync.Mutex
	events []*models.AlertEvent
}

func (r *recordingEvaluator) Evaluate(_ context.Context, event *models.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEvaluator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
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

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{Driver: "sqlite", DBName: ":memory:"})
	require.NoError(t, err)
	return db
}

func diskAlert(status models.AlertStatus) models.Alert {
	return models.Alert{
		Source:   "prometheus",
		Status:   status,
		Severity: models.SeverityCritical,
		Title:    "disk_space_low",
		Labels:   map[string]string{"alertname": "disk_space_low", "instance": "db1"},
		Metric:   "disk_space_low",
	}
}

func loadGroup(t *testing.T, db *gorm.DB, id uint64) models.AlertGroup {
	t.Helper()
	var g models.AlertGroup
	require.NoError(t, db.First(&g, id).Error)
	return g
}

func TestIngestGroupsIdenticalAlerts(t *testing.T) {
	db := newDB(t)
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	p := NewPipeline(db, WithClock(clock.Now))
	ctx := context.Background()

	first, err := p.Ingest(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	second, err := p.Ingest(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.GroupID, second.GroupID)
	assert.Less(t, first.ID, second.ID)

	g := loadGroup(t, db, first.GroupID)
	assert.Equal(t, int64(2), g.Count)
	assert.Equal(t, models.StatusFiring, g.Status)
	assert.True(t, g.FirstSeen.Equal(first.CreatedAt))
	assert.True(t, g.LastSeen.Equal(second.CreatedAt))

	var events int64
	require.NoError(t, db.Model(&models.AlertEvent{}).Where("group_id = ?", g.ID).Count(&events).Error)
	assert.Equal(t, int64(2), events)
}

func TestIngestAppliesDefaults(t *testing.T) {
	db := newDB(t)
	p := NewPipeline(db)

	ev, err := p.Ingest(context.Background(), models.Alert{Title: "bare"})
	require.NoError(t, err)
	assert.Equal(t, "custom", ev.Source)
	assert.Equal(t, models.StatusFiring, ev.Status)
	assert.Equal(t, models.SeverityWarning, ev.Severity)
	assert.Len(t, ev.Fingerprint, 64)
	assert.NotNil(t, ev.Labels)
}

func TestIngestStatusFollowsArrivalOrder(t *testing.T) {
	db := newDB(t)
	p := NewPipeline(db)
	ctx := context.Background()

	ev, err := p.Ingest(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	_, err = p.Ingest(ctx, diskAlert(models.StatusResolved))
	require.NoError(t, err)
	g := loadGroup(t, db, ev.GroupID)
	assert.Equal(t, models.StatusResolved, g.Status)
	assert.Equal(t, int64(2), g.Count)

	_, err = p.Ingest(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFiring, loadGroup(t, db, ev.GroupID).Status)
}

func TestIngestKeepsAcknowledgement(t *testing.T) {
	db := newDB(t)
	p := NewPipeline(db)
	ctx := context.Background()

	ev, err := p.Ingest(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.AlertGroup{}).Where("id = ?", ev.GroupID).
		Update("status", models.StatusAcknowledged).Error)

	_, err = p.Ingest(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, loadGroup(t, db, ev.GroupID).Status)

	_, err = p.Ingest(ctx, diskAlert(models.StatusResolved))
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, loadGroup(t, db, ev.GroupID).Status)
}

func TestIngestConcurrentSameFingerprint(t *testing.T) {
	db := newDB(t)
	p := NewPipeline(db)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Ingest(ctx, diskAlert(models.StatusFiring))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var groups []models.AlertGroup
	require.NoError(t, db.Find(&groups).Error)
	require.Len(t, groups, 1)
	assert.Equal(t, int64(n), groups[0].Count)

	var events int64
	require.NoError(t, db.Model(&models.AlertEvent{}).Count(&events).Error)
	assert.Equal(t, int64(n), events)
}

func TestIngestRollsBackOnFailure(t *testing.T) {
	db := newDB(t)
	require.NoError(t, db.Migrator().DropTable(&models.AlertEvent{}))
	p := NewPipeline(db)

	ev, err := p.Ingest(context.Background(), diskAlert(models.StatusFiring))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIngest)
	assert.Nil(t, ev)

	var groups int64
	require.NoError(t, db.Model(&models.AlertGroup{}).Count(&groups).Error)
	assert.Zero(t, groups, "group upsert must roll back with the failed event insert")
}

func TestProcessSuppressesDuplicatesWithinWindow(t *testing.T) {
	db := newDB(t)
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	eval := &recordingEvaluator{}
	p := NewPipeline(db, WithClock(clock.Now), WithEvaluator(eval))
	ctx := context.Background()

	res, err := p.Process(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	assert.False(t, res.Deduplicated())
	assert.Equal(t, 1, eval.count())

	clock.Advance(10 * time.Second)
	res2, err := p.Process(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	require.True(t, res2.Deduplicated())
	assert.Equal(t, res.Event.ID, res2.Duplicate.ID)
	assert.Equal(t, 1, eval.count())

	clock.Advance(61 * time.Second)
	res3, err := p.Process(ctx, diskAlert(models.StatusFiring))
	require.NoError(t, err)
	assert.False(t, res3.Deduplicated())
	assert.Equal(t, 2, eval.count())

	assert.Equal(t, int64(3), loadGroup(t, db, res.Event.GroupID).Count)
}

func TestProcessZeroWindowDisablesDedup(t *testing.T) {
	db := newDB(t)
	eval := &recordingEvaluator{}
	p := NewPipeline(db, WithEvaluator(eval), WithDedupWindow(0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := p.Process(ctx, diskAlert(models.StatusFiring))
		require.NoError(t, err)
		assert.False(t, res.Deduplicated())
	}
	assert.Equal(t, 3, eval.count())
}

func TestProcessZabbixRepeatedDelivery(t *testing.T) {
	db := newDB(t)
	eval := &recordingEvaluator{}
	p := NewPipeline(db, WithEvaluator(eval))
	ctx := context.Background()

	payload := map[string]any{
		"eventid":        "12345",
		"event_value":    "1",
		"host":           "web01",
		"event_severity": "High",
		"subject":        "High CPU on web01",
	}
	alerts := sources.MapZabbix(payload)
	require.Len(t, alerts, 1)

	first, err := p.Process(ctx, alerts[0])
	require.NoError(t, err)
	second, err := p.Process(ctx, sources.MapZabbix(payload)[0])
	require.NoError(t, err)

	assert.False(t, first.Deduplicated())
	assert.True(t, second.Deduplicated())
	assert.Equal(t, 1, eval.count())
	g := loadGroup(t, db, first.Event.GroupID)
	assert.Equal(t, int64(2), g.Count)
	assert.Equal(t, models.SeverityHigh, first.Event.Severity)
}

type failingIndexer struct{ calls int }

func (f *failingIndexer) IndexEvent(context.Context, *models.AlertEvent) error {
	f.calls++
	return assert.AnError
}

func TestProcessIgnoresIndexerFailure(t *testing.T) {
	db := newDB(t)
	idx := &failingIndexer{}
	p := NewPipeline(db, WithIndexer(idx))

	res, err := p.Process(context.Background(), diskAlert(models.StatusFiring))
	require.NoError(t, err)
	assert.NotZero(t, res.Event.ID)
	assert.Equal(t, 1, idx.calls)
}

type recordingPublisher struct {
	duplicates []bool
}

func (r *recordingPublisher) PublishEvent(_ context.Context, _ *models.AlertEvent, duplicate bool) error {
	r.duplicates = append(r.duplicates, duplicate)
	return nil
}

func TestProcessPublishesEveryEvent(t *testing.T) {
	db := newDB(t)
	pub := &recordingPublisher{}
	eval := &recordingEvaluator{}
	p := NewPipeline(db, WithPublisher(pub), WithEvaluator(eval))

	for i := 0; i < 2; i++ {
		_, err := p.Process(context.Background(), diskAlert(models.StatusFiring))
		require.NoError(t, err)
	}
	assert.Equal(t, []bool{false, true}, pub.duplicates)
	assert.Equal(t, 1, eval.count())
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	unlock := km.Lock("a")

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("a")
		close(acquired)
		u()
	}()

	otherDone := make(chan struct{})
	go func() {
		km.Lock("b")()
		close(otherDone)
	}()
	<-otherDone

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}
