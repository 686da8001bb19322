package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlkidRead(t *testing.T) {
	output := "DEVNAME=/dev/sdb1\nTYPE=vfat\nUUID=ABCD-1234\nLABEL=SDCARD\n"
	r := &BlkidReader{execCommand: mockExecCommand(output, "", 0)}

	md, err := r.Read(context.Background(), "/dev/sdb1")
	require.NoError(t, err)
	assert.Equal(t, "vfat", md.Type)
	assert.Equal(t, "ABCD-1234", md.UUID)
	assert.Equal(t, "SDCARD", md.Label)
}

func TestBlkidReadNothingFound(t *testing.T) {
	// blkid exits 2 on blank media; that is empty metadata, not an error
	r := &BlkidReader{execCommand: mockExecCommand("", "", 2)}

	md, err := r.Read(context.Background(), "/dev/sdb1")
	require.NoError(t, err)
	assert.Equal(t, Metadata{}, md)
}

func TestBlkidReadFailure(t *testing.T) {
	r := &BlkidReader{execCommand: mockExecCommand("", "cannot open device", 4)}

	_, err := r.Read(context.Background(), "/dev/sdb1")
	assert.Error(t, err)
}

func TestParseBlkidExport(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Metadata
	}{
		{
			name:   "full",
			output: "TYPE=ntfs\nUUID=0123456789ABCDEF\nLABEL=Backup\n",
			want:   Metadata{Type: "ntfs", UUID: "0123456789ABCDEF", Label: "Backup"},
		},
		{
			name:   "no label",
			output: "TYPE=vfat\nUUID=ABCD-1234\n",
			want:   Metadata{Type: "vfat", UUID: "ABCD-1234"},
		},
		{
			name:   "label with equals sign",
			output: "TYPE=vfat\nLABEL=a=b\n",
			want:   Metadata{Type: "vfat", Label: "a=b"},
		},
		{
			name:   "empty",
			output: "",
			want:   Metadata{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBlkidExport(tt.output))
		})
	}
}
