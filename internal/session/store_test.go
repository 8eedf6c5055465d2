package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *fakeClock, storage.KV) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	kv := storage.NewMemory()
	return NewStore(kv, WithClock(clock.Now)), clock, kv
}

func TestStoreRestoreWithinTTL(t *testing.T) {
	ctx := context.Background()
	store, clock, _ := newTestStore(t)

	s := models.NewSession("A1", "P1", clock.t)
	s.Technicians = []string{"Alice"}
	require.NoError(t, store.Save(ctx, Record{Session: s, WizardIndex: 2, Mode: ModeClassic}))

	clock.t = clock.t.Add(DefaultTTL - time.Second)
	rec, err := store.Load(ctx, "A1", "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.WizardIndex)
	assert.Equal(t, ModeClassic, rec.Mode)
	assert.Equal(t, s.Timestamp, rec.Session.Timestamp)
	assert.Equal(t, []string{"Alice"}, rec.Session.Technicians)
}

func TestStoreExpiresAtTTL(t *testing.T) {
	ctx := context.Background()
	store, clock, kv := newTestStore(t)

	require.NoError(t, store.Save(ctx, Record{Session: models.NewSession("A1", "P1", clock.t)}))

	clock.t = clock.t.Add(DefaultTTL)
	_, err := store.Load(ctx, "A1", "P1")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = kv.Get(ctx, Key("A1", "P1"))
	assert.ErrorIs(t, err, storage.ErrNotFound, "stale progress is removed")

	_, err = store.Load(ctx, "A1", "P1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreLoadLegacyRecord(t *testing.T) {
	ctx := context.Background()
	store, clock, kv := newTestStore(t)

	legacy := `{"testResults":{"assetId":"A1","procedureId":"P1","timestamp":"2024-06-01T08:00:00.000Z",
		"steps":{"1":{"result":"pass","performer":"Technician: Alice"}}},
		"currentWizardStep":1,"wizardMode":"wizard","savedAt":"` + clock.t.Add(-time.Hour).Format(time.RFC3339) + `"}`
	require.NoError(t, kv.Set(ctx, Key("A1", "P1"), []byte(legacy)))

	rec, err := store.Load(ctx, "A1", "P1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Technician: Alice"}, rec.Session.Steps[1].Performers)
}

func TestStoreDiscardsCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store, _, kv := newTestStore(t)
	require.NoError(t, kv.Set(ctx, Key("A1", "P1"), []byte("{not json")))

	_, err := store.Load(ctx, "A1", "P1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.Get(ctx, Key("A1", "P1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreClearAndList(t *testing.T) {
	ctx := context.Background()
	store, clock, _ := newTestStore(t)

	require.NoError(t, store.Save(ctx, Record{Session: models.NewSession("OLD", "P1", clock.t), AssetName: "old"}))
	clock.t = clock.t.Add(20 * time.Hour)
	require.NoError(t, store.Save(ctx, Record{Session: models.NewSession("A1", "P1", clock.t), AssetName: "one"}))
	clock.t = clock.t.Add(time.Hour)
	require.NoError(t, store.Save(ctx, Record{Session: models.NewSession("A2", "P1", clock.t), AssetName: "two"}))

	clock.t = clock.t.Add(4 * time.Hour)
	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2, "expired record is pruned")
	assert.Equal(t, "two", recs[0].AssetName)
	assert.Equal(t, "one", recs[1].AssetName)

	require.NoError(t, store.Clear(ctx, "A2", "P1"))
	recs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSaveRequiresSession(t *testing.T) {
	store, _, _ := newTestStore(t)
	assert.Error(t, store.Save(context.Background(), Record{}))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeClassic, ParseMode("Classic"))
	assert.Equal(t, ModeWizard, ParseMode(""))
	assert.Equal(t, ModeWizard, ParseMode("other"))
}
