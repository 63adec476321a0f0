package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/skyframe/internal/feed"
	"github.com/d60-Lab/skyframe/internal/model"
)

func TestImageRepositoryPoolsPartition(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 4)
	images := seedImages(t, db, 20, users)
	repo := NewImageRepository(db)
	viewer := users[0].ID

	require.NoError(t, NewFollowRepository(db).Create(ctx, viewer, users[1].ID))
	require.NoError(t, NewLikeRepository(db).Create(ctx, viewer, images[2].ID))

	prioritized, err := repo.FetchPrioritized(ctx, feed.PrioritizedQuery{UserID: viewer, Limit: 100})
	require.NoError(t, err)
	global, err := repo.FetchGlobal(ctx, feed.GlobalQuery{UserID: viewer, Limit: 100})
	require.NoError(t, err)

	// users[1] uploads images 2, 6, 10, 14, 18; image 3 is liked
	assert.Equal(t, []uint64{2, 3, 6, 10, 14, 18}, ids(prioritized))
	assert.Len(t, global, 14)
	for _, im := range global {
		assert.NotContains(t, ids(prioritized), im.ID)
	}
	for i := 1; i < len(global); i++ {
		assert.True(t, feed.PositionOf(global[i-1]).Precedes(global[i]), "global must be newest first")
	}
}

func TestImageRepositoryResumeExcludeAndCutoff(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 2)
	images := seedImages(t, db, 10, users)
	repo := NewImageRepository(db)
	viewer := users[0].ID
	require.NoError(t, NewFollowRepository(db).Create(ctx, viewer, users[1].ID))

	after := feed.PositionOf(images[3])
	got, err := repo.FetchGlobal(ctx, feed.GlobalQuery{UserID: 0, After: after, Limit: 3, ExcludeIDs: []uint64{6}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 7, 8}, ids(got))

	// images of users[1] are 2,4,6,8,10; a cutoff at image 6 keeps 2,4,6
	cutoff := images[5].CreatedAt
	prioritized, err := repo.FetchPrioritized(ctx, feed.PrioritizedQuery{UserID: viewer, Limit: 10, FreshCutoff: cutoff})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 4, 6}, ids(prioritized))

	// older followed images fall back into the global pool
	global, err := repo.FetchGlobal(ctx, feed.GlobalQuery{UserID: viewer, Limit: 10, FreshCutoff: cutoff})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3, 5, 7, 8, 9, 10}, ids(global))
}

func TestImageRepositoryTieBreakOnID(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 1)
	at := base.Truncate(time.Second)
	for id := uint64(1); id <= 4; id++ {
		require.NoError(t, db.Create(&model.Image{ID: id, UserID: users[0].ID, Category: "lunar", ObjectName: "Moon", ObserverName: "x", ObservedAt: at, CreatedAt: at}).Error)
	}
	repo := NewImageRepository(db)

	first, err := repo.FetchGlobal(ctx, feed.GlobalQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 3}, ids(first))

	rest, err := repo.FetchGlobal(ctx, feed.GlobalQuery{After: feed.PositionOf(first[1]), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, ids(rest))
}

func TestImageRepositoryRandomAndAnonymous(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 3)
	seedImages(t, db, 12, users)
	repo := NewImageRepository(db)

	random, err := repo.FetchRandom(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, random, 5)

	none, err := repo.FetchPrioritized(ctx, feed.PrioritizedQuery{UserID: 0, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}

func TestImageRepositoryDelete(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 2)
	images := seedImages(t, db, 3, users)
	repo := NewImageRepository(db)
	target := images[0].ID

	require.NoError(t, NewLikeRepository(db).Create(ctx, users[1].ID, target))
	require.NoError(t, NewSeenRepository(db).RecordSeen(ctx, users[1].ID, []uint64{target}, base))

	require.NoError(t, repo.Delete(ctx, target))
	_, err := repo.GetByID(ctx, target)
	assert.ErrorIs(t, err, ErrImageNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, target), ErrImageNotFound)

	liked, err := NewLikeRepository(db).Exists(ctx, users[1].ID, target)
	require.NoError(t, err)
	assert.False(t, liked)
	seen, err := NewSeenRepository(db).IsSeen(ctx, users[1].ID, target)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestImageRepositoryListByUser(t *testing.T) {
	db := setupTestDB(t)
	users := seedUsers(t, db, 2)
	seedImages(t, db, 8, users)
	repo := NewImageRepository(db)

	page, err := repo.ListByUser(ctx, users[0].ID, feed.Position{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ids(page))

	next, err := repo.ListByUser(ctx, users[0].ID, feed.PositionOf(page[1]), 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 7}, ids(next))
}
