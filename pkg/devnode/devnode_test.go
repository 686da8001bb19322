package devnode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreate(t *testing.T) {
	tests := []struct {
		name        string
		mknodErr    error
		expectError bool
	}{
		{name: "success"},
		{name: "already exists", mknodErr: unix.EEXIST},
		{name: "permission denied", mknodErr: unix.EACCES, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			var gotMode uint32
			o := &unixOps{
				mknod: func(path string, mode uint32, dev int) error {
					gotPath = path
					gotMode = mode
					return tt.mknodErr
				},
			}

			err := o.Create("/dev/block/volumed/public:179:1", 179, 1)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/dev/block/volumed/public:179:1", gotPath)
			assert.Equal(t, uint32(unix.S_IFBLK|0600), gotMode)
		})
	}
}

func TestDestroy(t *testing.T) {
	o := &unixOps{unlink: func(path string) error { return unix.ENOENT }}
	assert.NoError(t, o.Destroy("/dev/block/volumed/public:179:1"),
		"absent node is tolerated")

	o = &unixOps{unlink: func(path string) error { return unix.EBUSY }}
	assert.Error(t, o.Destroy("/dev/block/volumed/public:179:1"))
}

func TestWipe(t *testing.T) {
	// A regular file stands in for the block device; the size ioctl is
	// injected since files don't answer BLKGETSIZE64.
	path := filepath.Join(t.TempDir(), "blockdev")
	payload := make([]byte, 3*wipeChunkSize/2)
	for i := range payload {
		payload[i] = 0xAB
	}
	require.NoError(t, os.WriteFile(path, payload, 0600))

	o := &unixOps{
		devSize: func(fd int) (int, error) { return len(payload), nil },
	}
	require.NoError(t, o.Wipe(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, len(payload))
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, b)
		}
	}
}

func TestWipeMissingDevice(t *testing.T) {
	o := &unixOps{
		devSize: func(fd int) (int, error) { return 0, nil },
	}
	assert.Error(t, o.Wipe(filepath.Join(t.TempDir(), "nope")))
}
