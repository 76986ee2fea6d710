package database

import (
	"btc-signal-desk/internal/types"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates an in-memory SQLiteStore with all migrations applied
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func sampleAlert(email string, created time.Time) types.Alert {
	return types.Alert{
		Email:           email,
		Direction:       types.Above,
		PriceThreshold:  50000,
		CooldownMinutes: 60,
		CustomMessage:   "time to look at the chart",
		Enabled:         true,
		CreatedAt:       created,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := s.Insert(ctx, sampleAlert("alice@example.com", created))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, types.AssetBTC, got.Asset)
	assert.Equal(t, types.Above, got.Direction)
	assert.Equal(t, 50000.0, got.PriceThreshold)
	assert.Equal(t, 60, got.CooldownMinutes)
	assert.Equal(t, "time to look at the chart", got.CustomMessage)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastSentAt)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestInsertRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := []types.Alert{
		{Direction: types.Above, PriceThreshold: 1, CooldownMinutes: 30},
		{Email: "a@b.c", Direction: "sideways", PriceThreshold: 1, CooldownMinutes: 30},
		{Email: "a@b.c", Direction: types.Below, PriceThreshold: 0, CooldownMinutes: 30},
		{Email: "a@b.c", Direction: types.Below, PriceThreshold: 10, CooldownMinutes: 0},
	}
	for _, a := range bad {
		_, err := s.Insert(ctx, a)
		assert.Error(t, err, "%+v", a)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := s.Insert(ctx, sampleAlert("first@example.com", base))
	require.NoError(t, err)
	second, err := s.Insert(ctx, sampleAlert("second@example.com", base.Add(time.Hour)))
	require.NoError(t, err)
	disabled := sampleAlert("off@example.com", base.Add(2*time.Hour))
	disabled.Enabled = false
	third, err := s.Insert(ctx, disabled)
	require.NoError(t, err)

	all, err := s.List(ctx, "btc")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third, second, first}, []string{all[0].ID, all[1].ID, all[2].ID})

	enabled, err := s.ListEnabled(ctx, types.AssetBTC)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, second, enabled[0].ID)
	assert.Equal(t, first, enabled[1].ID)

	none, err := s.List(ctx, "ETH")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdatePartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, sampleAlert("bob@example.com", time.Time{}))
	require.NoError(t, err)

	sent := time.Date(2024, 3, 1, 13, 30, 0, 0, time.UTC)
	require.NoError(t, s.Update(ctx, id, types.AlertPatch{LastSentAt: &sent}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.LastSentAt)
	assert.True(t, sent.Equal(*got.LastSentAt))
	assert.True(t, got.Enabled, "untouched fields keep their value")
	assert.Equal(t, 50000.0, got.PriceThreshold)

	off := false
	threshold := 42000.5
	below := types.Below
	require.NoError(t, s.Update(ctx, id, types.AlertPatch{Enabled: &off, PriceThreshold: &threshold, Direction: &below}))

	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, threshold, got.PriceThreshold)
	assert.Equal(t, types.Below, got.Direction)
	require.NotNil(t, got.LastSentAt)
}

func TestUpdateErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	on := true
	assert.ErrorIs(t, s.Update(ctx, "missing", types.AlertPatch{Enabled: &on}), ErrNotFound)

	id, err := s.Insert(ctx, sampleAlert("carol@example.com", time.Time{}))
	require.NoError(t, err)

	assert.Error(t, s.Update(ctx, id, types.AlertPatch{}))
	zero := 0
	assert.Error(t, s.Update(ctx, id, types.AlertPatch{CooldownMinutes: &zero}))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, sampleAlert("dave@example.com", time.Time{}))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
}

func TestRecordAndListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(ctx, types.RunReport{
		StartedAt:        started,
		Asset:            types.AssetBTC,
		Price:            51000,
		Evaluated:        3,
		Triggered:        3,
		Sent:             2,
		DeliveryFailures: []string{"a-1"},
		Duration:         1500 * time.Millisecond,
	}))
	require.NoError(t, s.RecordRun(ctx, types.RunReport{
		StartedAt: started.Add(5 * time.Minute),
		Asset:     types.AssetBTC,
		Price:     52000,
	}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 52000.0, runs[0].Price)
	assert.Empty(t, runs[0].DeliveryFailures)

	assert.True(t, started.Equal(runs[1].StartedAt))
	assert.Equal(t, 2, runs[1].Sent)
	assert.Equal(t, []string{"a-1"}, runs[1].DeliveryFailures)
	assert.Empty(t, runs[1].PersistFailures)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	assert.Error(t, err)
}
