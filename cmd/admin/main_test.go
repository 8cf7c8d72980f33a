package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"
	"pairchat/backend/internal/storage/storagetest"
)

func newAdmin(t *testing.T) (*admin, *bytes.Buffer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	out := &bytes.Buffer{}
	return &admin{
		store: storagetest.NewService(t, nil),
		bus:   storage.NewRedisStore(rdb),
		out:   out,
	}, out, mr
}

func TestAdmin_BanLifecycle(t *testing.T) {
	ctx := context.Background()
	a, out, mr := newAdmin(t)

	require.NoError(t, a.run(ctx, "ban", []string{"--duration", "2h", "--reason", "spam", "u1"}))
	assert.Contains(t, out.String(), "banned for 2h0m0s")
	assert.Equal(t, "spam", mustGet(t, mr, "ban:u1"))

	out.Reset()
	require.NoError(t, a.run(ctx, "ban-status", []string{"u1"}))
	assert.Contains(t, out.String(), "banned for another 2h0m0s")

	out.Reset()
	require.NoError(t, a.run(ctx, "unban", []string{"u1"}))
	require.NoError(t, a.run(ctx, "ban-status", []string{"u1"}))
	assert.Contains(t, out.String(), "is not banned")

	out.Reset()
	require.NoError(t, a.run(ctx, "ban", []string{"-d", "0", "u2"}))
	require.NoError(t, a.run(ctx, "ban-status", []string{"u2"}))
	assert.Contains(t, out.String(), "banned permanently")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestAdmin_EndSessionAndCancel(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newAdmin(t)

	session := &models.Session{User1ID: "A", User2ID: "B", Status: models.SessionActive, CreatedAt: time.Now().UTC()}
	require.NoError(t, a.store.DB.Create(session).Error)

	require.NoError(t, a.run(ctx, "end-session", []string{session.ID}))
	assert.Contains(t, out.String(), "has been ended")

	out.Reset()
	require.NoError(t, a.run(ctx, "end-session", []string{session.ID}))
	assert.Contains(t, out.String(), "already ended")

	assert.Error(t, a.run(ctx, "end-session", []string{"missing"}))

	_, err := a.store.AttemptMatch(ctx, models.MatchRequest{UserID: "C", Interests: models.Interests{"chess"}, Language: "en", AgeGroup: "any"})
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, a.run(ctx, "cancel", []string{"C"}))
	assert.Contains(t, out.String(), "removed")
	out.Reset()
	require.NoError(t, a.run(ctx, "cancel", []string{"C"}))
	assert.Contains(t, out.String(), "was not waiting")
}

func TestAdmin_ReportsAndSweep(t *testing.T) {
	ctx := context.Background()
	a, out, _ := newAdmin(t)

	require.NoError(t, a.run(ctx, "reports", nil))
	assert.Contains(t, out.String(), "No reports.")

	require.NoError(t, a.store.SaveReport(ctx, &models.Report{
		ReporterID: "A", TargetID: "B", SessionID: "s1", Category: "Medium", Reason: "rude",
	}))
	out.Reset()
	require.NoError(t, a.run(ctx, "reports", []string{"--since", "1h", "-n", "10"}))
	assert.Contains(t, out.String(), "A -> B")
	assert.Contains(t, out.String(), `"rude"`)

	out.Reset()
	require.NoError(t, a.run(ctx, "sweep", nil))
	assert.Contains(t, out.String(), "Removed 0 messages and 0 waiting entries.")
}

func TestAdmin_UsageErrors(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newAdmin(t)

	assert.Error(t, a.run(ctx, "nope", nil))
	assert.Error(t, a.run(ctx, "ban", nil))
	assert.Error(t, a.run(ctx, "unban", []string{"a", "b"}))
	assert.Error(t, a.run(ctx, "reports", []string{"--since", "soon"}))
}
