package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/mediakb/internal/payload"
)

// newTestStore creates a file-backed store in a temp dir.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewStore(StoreConfig{DBPath: filepath.Join(t.TempDir(), "media.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countOf(t *testing.T, s *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestNewStoreCreatesSchema(t *testing.T) {
	s := newTestStore(t)
	for _, table := range []string{"category", "person", "work", "credit", "alias",
		"external_id", "unified_work", "unified_work_member", "fts", "meta"} {
		assert.Equal(t, 1, countOf(t, s, `SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, table), table)
	}
	assert.Equal(t, 1, countOf(t, s, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_external_lookup'`))
}

func TestNewStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.db")
	s, err := NewStore(StoreConfig{DBPath: path})
	require.NoError(t, err)
	_, err = s.GetOrCreatePerson(context.Background(), "吉沢亮")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(StoreConfig{DBPath: path})
	require.NoError(t, err)
	defer s.Close()
	c, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Persons)
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewStore(StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	stats, err := s.IngestPayload(ctx, &payload.Payload{Persons: []payload.Person{{Name: "吉沢亮"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PersonsCreated)

	got, err := s.SearchPersons(ctx, "吉沢", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestGetOrCreatePersonExactMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreatePerson(ctx, "吉沢亮")
	require.NoError(t, err)
	b, err := s.GetOrCreatePerson(ctx, "吉沢亮")
	require.NoError(t, err)
	c, err := s.GetOrCreatePerson(ctx, "吉沢 亮")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCreateCreditIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pid, err := s.GetOrCreatePerson(ctx, "吉沢亮")
	require.NoError(t, err)
	wid, err := s.GetOrCreateWork(ctx, WorkInput{Title: "国宝", Category: "映画"})
	require.NoError(t, err)

	tests := []struct {
		role, character string
	}{
		{"actor", ""},
		{"actor", "立花喜久雄"},
		{"director", ""},
	}
	for _, tc := range tests {
		first, err := s.CreateCredit(ctx, wid, pid, tc.role, tc.character)
		require.NoError(t, err)
		second, err := s.CreateCredit(ctx, wid, pid, tc.role, tc.character)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
	assert.Equal(t, 3, countOf(t, s, `SELECT COUNT(*) FROM credit`))
}

func TestGetOrCreateWorkPrefersExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateWork(ctx, WorkInput{Title: "国宝", Category: "映画", Year: 2025})
	require.NoError(t, err)
	require.NoError(t, s.AddExternalID(ctx, EntityWork, id, "site", "123", ""))

	got, err := s.GetOrCreateWork(ctx, WorkInput{
		Title:    "国宝（2025年）",
		External: &ExternalRef{Source: "site", Value: "123"},
	})
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, 1, countOf(t, s, `SELECT COUNT(*) FROM work`))

	other, err := s.GetOrCreateWork(ctx, WorkInput{
		Title:    "国宝（2025年）",
		External: &ExternalRef{Source: "site", Value: "999"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestGetOrCreateWorkDefaultCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateWork(ctx, WorkInput{Title: "名もなき作品"})
	require.NoError(t, err)
	d, err := s.WorkDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload.DefaultCategory, d.Category)
}

func TestAliasAndExternalIDIgnoreDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pid, err := s.GetOrCreatePerson(ctx, "吉沢亮")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AddAlias(ctx, EntityPerson, pid, "Yoshizawa Ryo"))
		require.NoError(t, s.AddExternalID(ctx, EntityPerson, pid, "eiga.com", "12345", "https://eiga.com/person/12345/"))
	}
	d, err := s.PersonDetail(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, []string{"Yoshizawa Ryo"}, d.Aliases)
	assert.Equal(t, []ExternalID{{Source: "eiga.com", Value: "12345", URL: "https://eiga.com/person/12345/"}}, d.ExternalIDs)
}

func TestUnifyWork(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	film, err := s.GetOrCreateWork(ctx, WorkInput{Title: "国宝", Category: "映画", Year: 2025})
	require.NoError(t, err)
	novel, err := s.GetOrCreateWork(ctx, WorkInput{Title: "国宝 (小説)", Category: "小説", Year: 2018})
	require.NoError(t, err)

	require.NoError(t, s.UnifyWork(ctx, "国宝", film, ""))
	require.NoError(t, s.UnifyWork(ctx, "国宝", novel, "original"))
	require.NoError(t, s.UnifyWork(ctx, "国宝", novel, "original"))

	members, err := s.UnifiedByTitle(ctx, "小説")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "国宝 (小説)", members[0].Title)
	assert.Equal(t, "original", members[0].Relation)
	assert.Equal(t, DefaultRelation, members[1].Relation)
}

func TestDetailNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PersonDetail(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.WorkDetail(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
