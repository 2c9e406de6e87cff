package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/pathdb"
)

var testEpoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func setup(t *testing.T) (*mr.Miniredis, *pathdb.Store) {
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	backend := New(client, Options{Prefix: "test:"})
	t.Cleanup(func() { backend.Close() })

	var ids, ticks atomic.Int64
	store := pathdb.New(backend, pathdb.Options{
		NewID: func() string { return fmt.Sprintf("id-%d", ids.Add(1)) },
		Now:   func() time.Time { return testEpoch.Add(time.Duration(ticks.Add(1)) * time.Second) },
	})
	return m, store
}

func TestBackend_PutAndFind(t *testing.T) {
	m, s := setup(t)
	ctx := context.Background()

	doc, err := s.Put(ctx, "init", "email", pathdb.String("1@mail.com"), pathdb.Map{
		"name": pathdb.String("Ann"),
		"info": pathdb.Map{"phone": pathdb.String("123")},
	})
	require.NoError(t, err)
	assert.Equal(t, "id-1", doc.ID)

	got, err := s.FindOne(ctx, "info.phone", pathdb.String("123"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "id-1", got.ID)
	assert.True(t, pathdb.Equal(doc.Fields, got.Fields))

	docs, err := s.Exists(ctx, "info")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	members, err := m.SMembers("test:docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1"}, members)
	assert.True(t, m.Exists("test:path:info.phone"))
	assert.True(t, m.Exists("test:hist:id-1"))
}

func TestBackend_PrefixSafety(t *testing.T) {
	_, s := setup(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "init", "email", pathdb.String("ab"), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, "init", "email", pathdb.String("abc"), nil)
	require.NoError(t, err)

	docs, err := s.FindByValue(ctx, "email", pathdb.String("ab"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, pathdb.String("ab"), docs[0].Fields["email"])

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestBackend_UpdateMovesIndex(t *testing.T) {
	m, s := setup(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "init", "email", pathdb.String("1@mail.com"), pathdb.Map{"status": pathdb.String("on")})
	require.NoError(t, err)
	_, err = s.Put(ctx, "bob", "email", pathdb.String("1@mail.com"), pathdb.Map{"status": pathdb.Null{}})
	require.NoError(t, err)

	docs, err := s.FindByValue(ctx, "status", pathdb.String("on"))
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.False(t, m.Exists("test:path:status"), "empty index set should disappear")

	hist, err := s.History(ctx, "email", pathdb.String("1@mail.com"), "status")
	require.NoError(t, err)
	require.Len(t, hist["status"], 2)
	assert.True(t, hist["status"][0].Deleted)
	assert.Equal(t, "bob", hist["status"][0].Author)
	assert.Equal(t, pathdb.String("on"), hist["status"][0].Prev)
	assert.True(t, hist["status"][1].Created)
	assert.True(t, testEpoch.Add(2*time.Second).Equal(hist["status"][0].Date), "date %v", hist["status"][0].Date)
}

func TestBackend_HistoryPrefix(t *testing.T) {
	_, s := setup(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "init", "email", pathdb.String("1@mail.com"), pathdb.Map{
		"a":  pathdb.Map{"b": pathdb.Number(1)},
		"ab": pathdb.Number(2),
	})
	require.NoError(t, err)

	hist, err := s.History(ctx, "email", pathdb.String("1@mail.com"), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.b"}, hist.Paths())

	hist, err = s.History(ctx, "email", pathdb.String("1@mail.com"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.b", "ab", "email"}, hist.Paths())
}

func TestBackend_Ambiguity(t *testing.T) {
	_, s := setup(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "init", "email", pathdb.String("1@mail.com"), pathdb.Map{"status": pathdb.String("on")})
	require.NoError(t, err)
	_, err = s.Put(ctx, "init", "email", pathdb.String("2@mail.com"), pathdb.Map{"status": pathdb.String("on")})
	require.NoError(t, err)

	_, err = s.FindOne(ctx, "status", pathdb.String("on"))
	assert.True(t, errors.Is(err, pathdb.ErrMultipleMatches), "got %v", err)
}

func TestBackend_ConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	s := pathdb.New(New(client, Options{}), pathdb.Options{})
	defer s.Close()

	_, err := s.FindOne(context.Background(), "email", pathdb.String("1@mail.com"))
	var be *pathdb.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "query", be.Op)
}
