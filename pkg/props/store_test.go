package props

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	s := NewMemStore()

	v, err := s.Get("sys.update.trigger")
	require.NoError(t, err)
	assert.Equal(t, "", v, "unset key should read as empty string")

	require.NoError(t, s.Set("sys.update.trigger", "1"))
	v, err = s.Get("sys.update.trigger")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// Setting empty clears the key
	require.NoError(t, s.Set("sys.update.trigger", ""))
	v, err = s.Get("sys.update.trigger")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("sys.startup.storage", "ABCD-1234"))
	v, err := s.Get("sys.startup.storage")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", v)

	require.NoError(t, s.Close())

	// Values survive reopen
	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	v, err = s.Get("sys.startup.storage")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", v)

	v, err = s.Get("sys.cust.storage")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}
