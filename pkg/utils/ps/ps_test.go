package ps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPS(t *testing.T) {
	m, err := MemoryStatus()
	require.NoError(t, err)
	assert.NotZero(t, m.Total)

	_, err = CPUStatus()
	require.NoError(t, err)
}

func TestDirDiskUsage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "snapshots"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "snapshots", "a.jpg"), make([]byte, 100), 0660))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.avi"), make([]byte, 20), 0660))

	size, err := DirDiskUsage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(120), size)

	d, err := DiskUsage(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, d.Path)
	assert.NotEmpty(t, d.Total)
}
