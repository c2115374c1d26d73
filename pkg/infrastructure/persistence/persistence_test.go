package persistence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedg/embedg/pkg/config"
	"github.com/embedg/embedg/pkg/domain"
	"github.com/embedg/embedg/pkg/domain/provenance"
	"github.com/embedg/embedg/pkg/domain/savedmsg"
)

// backends returns every store this environment can run.
func backends(t *testing.T) map[string]*Stores {
	t.Helper()
	ctx := context.Background()
	out := map[string]*Stores{}

	file, err := Open(ctx, config.StorageConfig{Driver: "file", DataDir: t.TempDir()})
	require.NoError(t, err)
	out["file"] = file

	lite, err := Open(ctx, config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "embedg.db")})
	require.NoError(t, err)
	t.Cleanup(func() { lite.Close(ctx) })
	out["sqlite"] = lite

	if uri := os.Getenv("EMBEDG_TEST_MONGO_URI"); uri != "" {
		db := "embedg_test_" + domain.NewID().String()[:8]
		m, err := Open(ctx, config.StorageConfig{Driver: "mongo", MongoURI: uri, MongoDatabase: db})
		require.NoError(t, err)
		t.Cleanup(func() { m.Close(ctx) })
		out["mongo"] = m
	}
	return out
}

func TestProvenanceUpsertKeepsInsertOnlyFields(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := st.Provenance

			_, err := repo.FindByMessageID(ctx, "m1")
			require.ErrorIs(t, err, provenance.ErrNotFound)

			require.NoError(t, repo.Upsert(ctx, provenance.Record{
				ChannelID: "c1", MessageID: "m1", Hash: "h1", CreatedAt: t0, UpdatedAt: t0,
				Author: &provenance.AuthorSnapshot{
					UserID: "u1", IsOwner: true,
					Permissions: domain.PermissionManageRoles | domain.PermissionManageWebhooks,
					RoleIDs:     []string{"r1", "r2"},
				},
			}))
			require.NoError(t, repo.Upsert(ctx, provenance.Record{
				ChannelID: "c2", MessageID: "m1", Hash: "h2", CreatedAt: t1, UpdatedAt: t1,
				Author: &provenance.AuthorSnapshot{UserID: "u2"},
			}))

			got, err := repo.FindByMessageID(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, "c1", got.ChannelID)
			assert.True(t, got.CreatedAt.Equal(t0), "created_at = %v", got.CreatedAt)
			assert.Equal(t, "h2", got.Hash)
			assert.True(t, got.UpdatedAt.Equal(t1), "updated_at = %v", got.UpdatedAt)
			require.NotNil(t, got.Author)
			assert.Equal(t, "u1", got.Author.UserID)
			assert.True(t, got.Author.IsOwner)
			assert.Equal(t, []string{"r1", "r2"}, got.Author.RoleIDs)
			assert.True(t, got.Author.Permissions.Has(domain.PermissionManageRoles))
		})
	}
}

func TestProvenanceConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = st.Provenance.Upsert(ctx, provenance.Record{
						ChannelID: "c", MessageID: "race", Hash: "h", CreatedAt: now, UpdatedAt: now,
					})
				}()
			}
			wg.Wait()

			got, err := st.Provenance.FindByMessageID(ctx, "race")
			require.NoError(t, err)
			assert.Equal(t, "c", got.ChannelID)
			assert.Nil(t, got.Author)
		})
	}
}

func TestSavedMessages(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			repo := st.SavedMessages

			older, err := savedmsg.New("alice", "Older", "", `{"content":"a"}`, t0)
			require.NoError(t, err)
			newer, err := savedmsg.New("alice", "Newer", "desc", `{"content":"b"}`, t0.Add(time.Minute))
			require.NoError(t, err)
			foreign, err := savedmsg.New("bob", "Bob's", "", `{"content":"c"}`, t0)
			require.NoError(t, err)
			for _, m := range []*savedmsg.SavedMessage{older, newer, foreign} {
				require.NoError(t, repo.Save(ctx, m))
			}

			got, err := repo.FindByID(ctx, newer.ID)
			require.NoError(t, err)
			assert.Equal(t, "Newer", got.Name)
			assert.Equal(t, "desc", got.Description)
			assert.JSONEq(t, `{"content":"b"}`, got.PayloadJSON)

			ok, err := repo.ExistsByOwnerAndID(ctx, "alice", older.ID)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = repo.ExistsByOwnerAndID(ctx, "alice", foreign.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			list, err := repo.ListByOwner(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, newer.ID, list[0].ID)
			assert.Equal(t, older.ID, list[1].ID)

			// update keeps created_at
			require.NoError(t, older.Update("Renamed", "", `{"content":"z"}`, t0.Add(time.Hour)))
			require.NoError(t, repo.Save(ctx, older))
			got, err = repo.FindByID(ctx, older.ID)
			require.NoError(t, err)
			assert.Equal(t, "Renamed", got.Name)
			assert.True(t, got.CreatedAt.Equal(t0))

			assert.ErrorIs(t, repo.Delete(ctx, "alice", foreign.ID), savedmsg.ErrNotFound)
			require.NoError(t, repo.Delete(ctx, "alice", older.ID))
			_, err = repo.FindByID(ctx, older.ID)
			assert.ErrorIs(t, err, savedmsg.ErrNotFound)
		})
	}
}

func TestJSONStoreReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore[provenance.Record](dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("123", provenance.Record{MessageID: "123", Hash: "h"}))

	reloaded, err := NewJSONStore[provenance.Record](dir)
	require.NoError(t, err)
	rec, ok := reloaded.Get("123")
	require.True(t, ok)
	assert.Equal(t, "h", rec.Hash)
	assert.Equal(t, 1, reloaded.Count())

	removed, err := reloaded.Remove("123")
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = os.Stat(filepath.Join(dir, "123.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "etcd"})
	assert.Error(t, err)
}
