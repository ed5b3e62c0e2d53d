package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelane/convocore/internal/profile"
	"github.com/tidelane/convocore/internal/store"
)

func newTestStores(t *testing.T) *store.Stores {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convocore.db")
	stores, err := NewStores(store.Config{SQLitePath: path})
	require.NoError(t, err)
	return stores
}

func TestSessionStore_RoundTripAndExpiry(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Sessions.Save(ctx, "session:acme:abc", []byte(`{"state":"TRIAGE"}`), time.Hour))

	got, err := stores.Sessions.Get(ctx, "session:acme:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"TRIAGE"}`, string(got))

	// Overwrite slides the payload and TTL.
	require.NoError(t, stores.Sessions.Save(ctx, "session:acme:abc", []byte(`{"state":"COLLECTING"}`), time.Hour))
	got, err = stores.Sessions.Get(ctx, "session:acme:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"COLLECTING"}`, string(got))

	// An already-lapsed TTL reads as a miss.
	require.NoError(t, stores.Sessions.Save(ctx, "session:acme:old", []byte(`{}`), -time.Minute))
	_, err = stores.Sessions.Get(ctx, "session:acme:old")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = stores.Sessions.Get(ctx, "session:acme:missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionStore_Delete(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Sessions.Save(ctx, "k", []byte(`{}`), time.Hour))
	require.NoError(t, stores.Sessions.Delete(ctx, "k"))
	_, err := stores.Sessions.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDedupeStore_ConditionalSet(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	ok, err := stores.Dedupe.SetIfAbsent(ctx, "dedupe:m1", store.MarkerProcessing, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A live marker blocks the second claim.
	ok, err = stores.Dedupe.SetIfAbsent(ctx, "dedupe:m1", store.MarkerProcessing, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	marker, err := stores.Dedupe.Get(ctx, "dedupe:m1")
	require.NoError(t, err)
	assert.Equal(t, store.MarkerProcessing, marker)

	_, err = stores.Dedupe.Get(ctx, "dedupe:m2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDedupeStore_ExpiredMarkerIsReclaimable(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	ok, err := stores.Dedupe.SetIfAbsent(ctx, "dedupe:m1", store.MarkerProcessing, -time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Expired row: the upsert takes it over.
	ok, err = stores.Dedupe.SetIfAbsent(ctx, "dedupe:m1", store.MarkerProcessed, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	marker, err := stores.Dedupe.Get(ctx, "dedupe:m1")
	require.NoError(t, err)
	assert.Equal(t, store.MarkerProcessed, marker)
}

func TestDedupeStore_SetReplacesLiveMarker(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	ok, err := stores.Dedupe.SetIfAbsent(ctx, "dedupe:m1", store.MarkerProcessing, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Unconditional upsert takes over a row that is still live.
	require.NoError(t, stores.Dedupe.Set(ctx, "dedupe:m1", store.MarkerProcessed, time.Hour))

	marker, err := stores.Dedupe.Get(ctx, "dedupe:m1")
	require.NoError(t, err)
	assert.Equal(t, store.MarkerProcessed, marker)

	ok, err = stores.Dedupe.SetIfAbsent(ctx, "dedupe:m1", store.MarkerProcessing, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "replaced marker must still block claims")
}

func TestProfileStore_RoundTrip(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	card, err := stores.Profiles.GetOrCreate(ctx, "acme", "hash-1")
	require.NoError(t, err)
	assert.True(t, card.IsEmpty())

	card.Name = "Rita"
	card.Volume = "500/mo"
	require.NoError(t, stores.Profiles.Upsert(ctx, "acme", "hash-1", card))

	got, err := stores.Profiles.GetOrCreate(ctx, "acme", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "Rita", got.Name)
	assert.Equal(t, "500/mo", got.Volume)

	// Tenants are isolated.
	other, err := stores.Profiles.GetOrCreate(ctx, "globex", "hash-1")
	require.NoError(t, err)
	assert.True(t, other.IsEmpty())
}

func TestProfileStore_PersistsZeroValueCard(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	empty := &profile.ContactCard{CreatedAt: time.Now()}
	require.NoError(t, stores.Profiles.Upsert(ctx, "acme", "h", empty))
	got, err := stores.Profiles.GetOrCreate(ctx, "acme", "h")
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestTurnStore_RecentReturnsOldestFirst(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, stores.Turns.Append(ctx, "acme", "h", []store.Turn{
			{Role: "user", Text: string(rune('a' + i)), At: base.Add(time.Duration(i) * time.Second)},
		}))
	}

	turns, err := stores.Turns.Recent(ctx, "acme", "h", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "c", turns[0].Text)
	assert.Equal(t, "e", turns[2].Text)
}

func TestSweepers_RemoveExpiredRows(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Sessions.Save(ctx, "live", []byte(`{}`), time.Hour))
	require.NoError(t, stores.Sessions.Save(ctx, "dead", []byte(`{}`), -time.Hour))
	_, err := stores.Dedupe.SetIfAbsent(ctx, "dead-marker", store.MarkerProcessed, -time.Hour)
	require.NoError(t, err)

	var total int64
	for _, sw := range stores.Sweepers {
		n, err := sw.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, int64(2), total)

	_, err = stores.Sessions.Get(ctx, "live")
	assert.NoError(t, err)
}

func TestAuditStore_Append(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	err := stores.Audit.Append(ctx, store.AuditRecord{
		ID:         "a-1",
		Tenant:     "acme",
		SenderHash: "h",
		MessageID:  "m-1",
		Kind:       "transition",
		Reason:     "committed",
		Detail:     map[string]string{"from": "INITIAL", "to": "TRIAGE"},
		At:         time.Now(),
	})
	assert.NoError(t, err)
}
