package keystore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_NoExistingFile_GeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Path: filepath.Join(dir, "keypair.bin")}

	key, err := Load(store)
	require.NoError(t, err)
	require.Len(t, key, 64)

	raw, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []byte(key), raw)
}

func TestLoad_ExistingFile_ReturnsSameKeyOnSubsequentLoad(t *testing.T) {
	dir := t.TempDir()
	store := &FileStore{Path: filepath.Join(dir, "keypair.bin")}

	first, err := Load(store)
	require.NoError(t, err)

	second, err := Load(store)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestFileStore_SealedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	var sealKey [32]byte
	for i := range sealKey {
		sealKey[i] = byte(i)
	}
	store := &FileStore{Path: filepath.Join(dir, "keypair.bin"), SealKey: &sealKey}

	key, err := Load(store)
	require.NoError(t, err)

	raw, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, []byte(key), raw)
}

func TestFileStore_CorruptFile_LoadRegeneratesFreshKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keypair.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a valid 64-byte key"), 0600))

	store := &FileStore{Path: path}
	key, err := Load(store)
	require.NoError(t, err)
	require.Len(t, key, 64)
}
