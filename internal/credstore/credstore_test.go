package credstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokenSet() *TokenSet {
	return &TokenSet{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "nope", "token.json"))

	ts, err := s.Load()
	assert.NoError(t, err)
	assert.Nil(t, ts)
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save(testTokenSet()))

	ts, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, "access-123", ts.AccessToken)
	assert.Equal(t, "refresh-456", ts.RefreshToken)
	assert.True(t, ts.ExpiresAt.Equal(testTokenSet().ExpiresAt))
}

func TestFileStore_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, NewFileStore(path).Save(testTokenSet()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "token.json"))

	require.NoError(t, s.Save(testTokenSet()))
	require.NoError(t, s.Save(testTokenSet()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_PartialSetReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"token":{"access_token":"a","refresh_token":"","expires_at":"2099-01-01T00:00:00Z"}}`), 0o600))

	ts, err := NewFileStore(path).Load()
	assert.NoError(t, err)
	assert.Nil(t, ts)
}

func TestFileStore_MissingTokenFieldReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"meta":{"channel_title":"x"}}`), 0o600))

	ts, err := NewFileStore(path).Load()
	assert.NoError(t, err)
	assert.Nil(t, ts)
}

func TestFileStore_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	ts, err := NewFileStore(path).Load()
	assert.Nil(t, ts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestFileStore_SaveRejectsPartial(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "token.json"))

	err := s.Save(&TokenSet{AccessToken: "a"})
	assert.ErrorIs(t, err, ErrIncomplete)

	ts, err := s.Load()
	assert.NoError(t, err)
	assert.Nil(t, ts)
}

func TestFileStore_ClearIdempotent(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, s.Save(testTokenSet()))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	ts, err := s.Load()
	assert.NoError(t, err)
	assert.Nil(t, ts)
}

func TestFileStore_MetaSurvivesTokenSave(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, s.Save(testTokenSet()))
	require.NoError(t, s.MergeMeta(map[string]string{"channel_title": "My Channel"}))

	refreshed := testTokenSet()
	refreshed.AccessToken = "access-789"
	require.NoError(t, s.Save(refreshed))

	meta, err := s.Meta()
	require.NoError(t, err)
	assert.Equal(t, "My Channel", meta["channel_title"])

	ts, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-789", ts.AccessToken)
}

func TestFileStore_MergeMetaWithoutToken(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "token.json"))

	err := s.MergeMeta(map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token stored")
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore(nil)

	ts, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, ts)

	require.NoError(t, m.Save(testTokenSet()))

	ts, err = m.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-123", ts.AccessToken)

	// Mutating the returned copy must not affect the stored set.
	ts.AccessToken = "mutated"
	again, _ := m.Load()
	assert.Equal(t, "access-123", again.AccessToken)

	assert.ErrorIs(t, m.Save(&TokenSet{RefreshToken: "r"}), ErrIncomplete)

	require.NoError(t, m.Clear())
	ts, err = m.Load()
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestTokenSet_Complete(t *testing.T) {
	var nilSet *TokenSet
	assert.False(t, nilSet.Complete())
	assert.True(t, testTokenSet().Complete())
	assert.False(t, (&TokenSet{AccessToken: "a", RefreshToken: "r"}).Complete())
}
