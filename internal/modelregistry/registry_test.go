package modelregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	require.NoError(t, r.Load())

	key, err := r.Register("", Model{Name: "builtin-yolo", Type: TypeBuiltin, NumClasses: 3})
	require.NoError(t, err)
	assert.Equal(t, "builtin-yolo", key)

	r2 := New(dir)
	require.NoError(t, r2.Load())
	models := r2.List()
	require.Contains(t, models, "builtin-yolo")
	assert.Equal(t, 3, models["builtin-yolo"].NumClasses)
}

func TestRegister_CustomModelDerivesKey(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	key, err := r.Register("", Model{Name: "uploaded", Type: TypeCustom, FileHash: "abcdef0123456789"})
	require.NoError(t, err)
	assert.Equal(t, "custom_abcdef012345", key)
}

func TestSelectAndHasUsableVisionModel(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	assert.False(t, r.HasUsableVisionModel())

	key, err := r.Register("", Model{Name: "m1", Type: TypeBuiltin})
	require.NoError(t, err)
	require.NoError(t, r.Select(key))

	assert.True(t, r.HasUsableVisionModel())
	m, ok := r.Selected()
	require.True(t, ok)
	assert.Equal(t, "m1", m.Name)
}

func TestSelect_UnknownKeyErrors(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	assert.Error(t, r.Select("does-not-exist"))
}

func TestRemove_ClearsSelection(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	key, _ := r.Register("", Model{Name: "m1", Type: TypeBuiltin})
	require.NoError(t, r.Select(key))

	require.NoError(t, r.Remove(key))
	assert.False(t, r.HasUsableVisionModel())
}

func TestSave_IsAtomic(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	_, err := r.Register("", Model{Name: "m1", Type: TypeBuiltin})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "no leftover temp file after a successful save")
	}
	_, err = os.Stat(filepath.Join(dir, "models_metadata.json"))
	assert.NoError(t, err)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("fake model weights"), 0o644))

	h, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, h, 32)
}
