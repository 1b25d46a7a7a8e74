package lock

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_Exclusive(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	a := NewRedisLocker(client, "projector:run", time.Minute)
	b := NewRedisLocker(client, "projector:run", time.Minute)

	release, err := a.TryLock(ctx)
	require.NoError(t, err)

	_, err = b.TryLock(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release(ctx))

	releaseB, err := b.TryLock(ctx)
	require.NoError(t, err)
	require.NoError(t, releaseB(ctx))
}

func TestRedisLocker_ReleaseKeepsOthersLock(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	a := NewRedisLocker(client, "projector:run", time.Second)
	b := NewRedisLocker(client, "projector:run", time.Minute)

	releaseA, err := a.TryLock(ctx)
	require.NoError(t, err)

	// a's lease expires and b takes over.
	mr.FastForward(2 * time.Second)
	_, err = b.TryLock(ctx)
	require.NoError(t, err)

	require.NoError(t, releaseA(ctx))
	assert.True(t, mr.Exists("projector:run"), "a stale release must not drop b's lock")
}

func TestRedisLocker_Unreachable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisLocker(client, "k", time.Minute).TryLock(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestAdvisoryLocker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewAdvisoryLocker(db, "event-projector:run")
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT pg_try_advisory_lock($1)`)).
		WithArgs(l.id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_unlock($1)`)).
		WithArgs(l.id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	release, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.NoError(t, release(ctx))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT pg_try_advisory_lock($1)`)).
		WithArgs(l.id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	_, err = l.TryLock(ctx)
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvisoryLocker_StableID(t *testing.T) {
	assert.Equal(t, NewAdvisoryLocker(nil, "a").id, NewAdvisoryLocker(nil, "a").id)
	assert.NotEqual(t, NewAdvisoryLocker(nil, "a").id, NewAdvisoryLocker(nil, "b").id)
}
