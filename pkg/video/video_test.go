package video

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/frame"
	"cv-capture/pkg/publish"
)

func TestBuilder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.avi")
	b := NewBuilder(path, 10, 80)

	for i := 0; i < 3; i++ {
		ok, err := b.Add(frame.New(16, 8, 3))
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := b.Add(frame.New(8, 8, 3))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Close())
	assert.Equal(t, 3, b.GetCnt())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Size())
}

func TestBuilderWithoutFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.avi")
	b := NewBuilder(path, 10, 80)
	require.NoError(t, b.Close())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRecord(t *testing.T) {
	bus := publish.NewBus()
	ch, err := bus.Advertise("image_raw", 8)
	require.NoError(t, err)
	pairs, err := bus.Subscribe("image_raw", "recorder")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		ch.Publish(frame.New(16, 16, 1), calib.Record{})
	}
	require.NoError(t, bus.Close())

	path := filepath.Join(t.TempDir(), "rec.avi")
	require.NoError(t, Record(path, 5, pairs, zap.NewNop().Sugar()))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Size())
}
