package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "merge.json")
	f, err := Open(path, WithRunID("r1"))
	require.NoError(t, err)
	require.False(t, f.Done("ellis"))
	require.NoError(t, f.MarkDone("ellis"))
	require.NoError(t, f.MarkDone("smith"))
	require.True(t, f.Done("ellis"))

	g, err := Open(path)
	require.NoError(t, err)
	require.True(t, g.Done("ellis"))
	require.Equal(t, []string{"ellis", "smith"}, g.Buckets())
	require.Equal(t, "r1", g.state.RunID)

	h, err := Open(path, WithSince(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.False(t, h.Done("ellis"))

	require.NoError(t, g.Reset())
	require.False(t, g.Done("ellis"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, g.Reset())
}

func TestForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merge.json")
	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Forget("ellis"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, f.MarkDone("ellis"))
	require.NoError(t, f.MarkDone("smith"))
	require.NoError(t, f.Forget("ellis"))
	require.False(t, f.Done("ellis"))
	require.True(t, f.Done("smith"))

	g, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, []string{"smith"}, g.Buckets())
}

func TestOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merge.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
	_, err := Open(path)
	require.Error(t, err)
}
