package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/model"
	"github.com/d60-Lab/skyframe/internal/repository"
)

var (
	ctx  = context.Background()
	base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(model.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedUsers(t *testing.T, db *gorm.DB, n int) []model.User {
	t.Helper()
	users := make([]model.User, n)
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("obs%d", i+1), Email: fmt.Sprintf("obs%d@example.com", i+1), PasswordHash: "x"}
	}
	require.NoError(t, db.Create(&users).Error)
	return users
}

type stubFetcher struct {
	page feed.Page
	err  error
}

func (s stubFetcher) FetchPage(context.Context, uint64, string) (feed.Page, error) { return s.page, s.err }

func (stubFetcher) Codec() *feed.Codec { return feed.NewCodec("k") }

func (stubFetcher) Config() feed.Config {
	cfg := feed.DefaultConfig()
	cfg.PageSize = 2
	return cfg
}

type recordingSeen struct {
	mu      sync.Mutex
	calls   [][]uint64
	err     error
	block   chan struct{}
	purged  map[uint64]bool
	sweepOf []uint64
}

func (r *recordingSeen) SeenIDs(context.Context, uint64, time.Time, int) ([]uint64, error) {
	return nil, nil
}

func (r *recordingSeen) IsSeen(_ context.Context, _ uint64, imageID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		for _, id := range c {
			if id == imageID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *recordingSeen) RecordSeen(_ context.Context, _ uint64, ids []uint64, _ time.Time) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ids)
	return r.err
}

func (r *recordingSeen) PurgeSeen(_ context.Context, userID uint64, _ time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.purged == nil {
		r.purged = map[uint64]bool{}
	}
	r.purged[userID] = true
	return 2, r.err
}

func (r *recordingSeen) SweepCandidates(_ context.Context, _ time.Time, _ int, after uint64, limit int) ([]uint64, error) {
	var out []uint64
	for _, id := range r.sweepOf {
		if id > after && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *recordingSeen) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestFeedServiceHydratesCards(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 3)
	viewer, other := users[0].ID, users[1].ID
	follows := repository.NewFollowRepository(db)
	likes := repository.NewLikeRepository(db)
	require.NoError(t, follows.Create(ctx, viewer, other))
	require.NoError(t, likes.Create(ctx, viewer, 11))

	page := feed.Page{
		Images: []model.Image{
			{ID: 11, UserID: other, Category: "deep-sky", ObjectName: "M42", Notes: "Orion #narrowband #first-light", CreatedAt: base},
			{ID: 12, UserID: viewer, Category: "lunar", ObjectName: "Moon", CreatedAt: base.Add(-time.Minute)},
			{ID: 13, UserID: users[2].ID, Category: "solar", ObjectName: "Sun", Notes: "no tags", CreatedAt: base.Add(-2 * time.Minute)},
		},
		Sources:    []feed.Source{feed.SourcePrioritized, feed.SourceGlobal, feed.SourceGlobal},
		NextCursor: "abc",
	}
	dir, err := repository.NewUserDirectory(repository.NewUserRepository(db), nil, 16, time.Minute)
	require.NoError(t, err)
	svc := NewFeedService(stubFetcher{page: page}, repository.NewImageRepository(db), dir, follows, likes)

	out, err := svc.FetchPage(ctx, viewer, "")
	require.NoError(t, err)
	require.Len(t, out.Images, 3)
	require.NotNil(t, out.NextCursor)
	assert.Equal(t, "abc", *out.NextCursor)

	first := out.Images[0]
	assert.Equal(t, "obs2", first.Uploader)
	assert.True(t, first.Liked)
	assert.True(t, first.FollowingUploader)
	assert.False(t, first.OwnedByCurrentUser)
	assert.Equal(t, []string{"narrowband", "first-light"}, first.Tags)
	assert.Equal(t, "prioritized", first.Source)

	assert.True(t, out.Images[1].OwnedByCurrentUser)
	assert.False(t, out.Images[1].Liked)
	assert.Empty(t, out.Images[2].Tags)
	assert.Equal(t, "global", out.Images[2].Source)
}

func TestFeedServiceEndOfChainAndErrors(t *testing.T) {
	db := setupTestDB(t)
	dir, err := repository.NewUserDirectory(repository.NewUserRepository(db), nil, 16, time.Minute)
	require.NoError(t, err)
	follows, likes := repository.NewFollowRepository(db), repository.NewLikeRepository(db)

	svc := NewFeedService(stubFetcher{}, repository.NewImageRepository(db), dir, follows, likes)
	out, err := svc.FetchPage(ctx, 0, "")
	require.NoError(t, err)
	assert.Nil(t, out.NextCursor)
	assert.NotNil(t, out.Images)

	svc = NewFeedService(stubFetcher{err: fmt.Errorf("%w: boom", feed.ErrInvalidCursor)}, repository.NewImageRepository(db), dir, follows, likes)
	_, err = svc.FetchPage(ctx, 1, "x")
	assert.ErrorIs(t, err, feed.ErrInvalidCursor)
}

func TestFeedServiceMyUploads(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 2)
	owner := users[0].ID
	images := repository.NewImageRepository(db)
	for i := 0; i < 5; i++ {
		uploader := owner
		if i == 2 {
			uploader = users[1].ID
		}
		at := base.Add(-time.Duration(i/2) * time.Minute)
		require.NoError(t, images.Create(ctx, &model.Image{
			UserID: uploader, Category: "lunar", ObjectName: fmt.Sprintf("crater %d", i), ObserverName: "obs", ObservedAt: at, CreatedAt: at,
		}))
	}
	dir, err := repository.NewUserDirectory(repository.NewUserRepository(db), nil, 16, time.Minute)
	require.NoError(t, err)
	svc := NewFeedService(stubFetcher{}, images, dir, repository.NewFollowRepository(db), repository.NewLikeRepository(db))

	var got []uint64
	cursor := ""
	for i := 0; i < 5; i++ {
		page, err := svc.MyUploads(ctx, owner, cursor)
		require.NoError(t, err)
		for _, im := range page.Images {
			assert.True(t, im.OwnedByCurrentUser)
			assert.Empty(t, im.Source)
			got = append(got, im.ID)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}
	// ids 1 and 2 share a timestamp, so 2 comes first
	assert.Equal(t, []uint64{2, 1, 4, 5}, got)

	_, err = svc.MyUploads(ctx, owner, "garbage")
	assert.ErrorIs(t, err, feed.ErrInvalidCursor)
	blend, err := feed.NewCodec("k").Encode(feed.State{Phase: feed.PhaseBlend, GlobalServed: []uint64{3}})
	require.NoError(t, err)
	_, err = svc.MyUploads(ctx, owner, blend)
	assert.ErrorIs(t, err, feed.ErrInvalidCursor)
	_, err = svc.MyUploads(ctx, 0, "")
	assert.ErrorIs(t, err, ErrAnonymousUser)
}

func TestExtractTags(t *testing.T) {
	assert.Equal(t, []string{"m31", "LRGB", "a_b"}, ExtractTags("#m31 with #LRGB, #a_b! # nope"))
	assert.Empty(t, ExtractTags(""))
}

func TestRelationshipService(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 3)
	images := repository.NewImageRepository(db)
	img := &model.Image{UserID: users[1].ID, Category: "planetary", ObjectName: "Jupiter", ObserverName: "obs2", ObservedAt: base, CreatedAt: base}
	require.NoError(t, images.Create(ctx, img))

	svc := NewRelationshipService(repository.NewFollowRepository(db), repository.NewLikeRepository(db), images)
	a, b, c := users[0].ID, users[1].ID, users[2].ID

	assert.ErrorIs(t, svc.Follow(ctx, a, a), ErrFollowSelf)
	assert.ErrorIs(t, svc.Follow(ctx, 0, b), ErrAnonymousUser)
	require.NoError(t, svc.Follow(ctx, a, b))
	require.NoError(t, svc.Follow(ctx, a, b))
	require.NoError(t, svc.Follow(ctx, a, c))

	list, err := svc.ListFollowing(ctx, a, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{b, c}, list)

	require.NoError(t, svc.Unfollow(ctx, a, c))
	list, err = svc.ListFollowing(ctx, a, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{b}, list)

	require.NoError(t, svc.Like(ctx, a, img.ID))
	require.NoError(t, svc.Like(ctx, a, img.ID))
	assert.ErrorIs(t, svc.Like(ctx, a, 404), repository.ErrImageNotFound)
	assert.ErrorIs(t, svc.Like(ctx, 0, img.ID), ErrAnonymousUser)
	require.NoError(t, svc.Unlike(ctx, a, img.ID))
}

func TestSeenRecorderWritesAsync(t *testing.T) {
	store := &recordingSeen{}
	rec := NewSeenRecorder(store, 8, nil)
	stop := rec.Start(2)

	require.NoError(t, rec.RecordSeen(ctx, 1, []uint64{1, 2}, base))
	require.NoError(t, rec.RecordSeen(ctx, 0, []uint64{3}, base))
	assert.Eventually(t, func() bool { return store.callCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, stop(ctx))
	ok, err := rec.IsSeen(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeenRecorderDropsWhenFull(t *testing.T) {
	store := &recordingSeen{block: make(chan struct{})}
	rec := NewSeenRecorder(store, 1, nil)
	stop := rec.Start(1)

	// the worker blocks on the first job, the second fills the queue
	require.NoError(t, rec.RecordSeen(ctx, 1, []uint64{1}, base))
	assert.Eventually(t, func() bool { return rec.QueueLen() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, rec.RecordSeen(ctx, 1, []uint64{2}, base))
	require.NoError(t, rec.RecordSeen(ctx, 1, []uint64{3}, base))
	assert.Equal(t, 1, rec.QueueLen())

	close(store.block)
	require.NoError(t, stop(ctx))
	assert.Equal(t, 2, store.callCount())
}

func TestSeenRecorderSwallowsErrors(t *testing.T) {
	store := &recordingSeen{err: errors.New("down")}
	rec := NewSeenRecorder(store, 4, nil)
	stop := rec.Start(1)
	require.NoError(t, rec.RecordSeen(ctx, 1, []uint64{1}, base))
	require.NoError(t, stop(ctx))
	assert.Equal(t, 1, store.callCount())
}

func TestSeenSweeperRunOnce(t *testing.T) {
	store := &recordingSeen{sweepOf: []uint64{1, 2, 3, 4, 5}}
	sw := NewSeenSweeper(store, feed.DefaultConfig(), 2, nil)

	users, removed, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, users)
	assert.EqualValues(t, 10, removed)
	assert.Len(t, store.purged, 5)
}

func TestSeenSweeperSchedule(t *testing.T) {
	sw := NewSeenSweeper(&recordingSeen{}, feed.DefaultConfig(), 10, nil)
	assert.Error(t, sw.Start("not a schedule"))
	require.NoError(t, sw.Start(""))
	require.NoError(t, sw.Start("@every 1h"))
	sw.Stop()
	sw.Stop()
}

func TestSeenSweeperOverSQL(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewSeenRepository(db)
	require.NoError(t, repo.RecordSeen(ctx, 1, []uint64{1, 2, 3}, base.Add(-40*24*time.Hour)))
	require.NoError(t, repo.RecordSeen(ctx, 1, []uint64{4}, base))
	require.NoError(t, repo.RecordSeen(ctx, 2, []uint64{1}, base))

	sw := NewSeenSweeper(repo, feed.DefaultConfig(), 10, nil)
	sw.now = func() time.Time { return base }
	users, removed, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, users)
	assert.EqualValues(t, 3, removed)

	left, err := repo.SeenIDs(ctx, 1, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, left)
}
