package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultNamespace() Namespace {
	return Namespace{
		DevRoot:         "/dev/block/volumed",
		RawRoot:         "/mnt/media_rw",
		FuseDefaultRoot: "/mnt/runtime/default",
		FuseReadRoot:    "/mnt/runtime/read",
		FuseWriteRoot:   "/mnt/runtime/write",
		VisibleRoot:     "/storage",
	}
}

func TestStableName(t *testing.T) {
	// Without a UUID the volume id keys the session
	assert.Equal(t, "public:179:1", StableName("public:179:1", ""))

	// A UUID takes precedence
	assert.Equal(t, "ABCD-1234", StableName("public:179:1", "ABCD-1234"))
}

func TestNamespaceBuild(t *testing.T) {
	ns := defaultNamespace()

	p := ns.Build("public:179:1")
	assert.Equal(t, "/mnt/media_rw/public:179:1", p.Raw)
	assert.Equal(t, "/mnt/runtime/default/public:179:1", p.FuseDefault)
	assert.Equal(t, "/mnt/runtime/read/public:179:1", p.FuseRead)
	assert.Equal(t, "/mnt/runtime/write/public:179:1", p.FuseWrite)

	p = ns.Build("ABCD-1234")
	assert.Equal(t, "/mnt/media_rw/ABCD-1234", p.Raw)
	assert.Equal(t, "/mnt/runtime/write/ABCD-1234", p.FuseWrite)
}

func TestNamespacePaths(t *testing.T) {
	ns := defaultNamespace()

	assert.Equal(t, "/dev/block/volumed/public:179:1", ns.DevicePath("public:179:1"))
	assert.Equal(t, "/storage/ABCD-1234", ns.VisiblePath("ABCD-1234"))
}

func TestSessionPathsAll(t *testing.T) {
	p := defaultNamespace().Build("X")
	assert.Equal(t, []string{
		"/mnt/media_rw/X",
		"/mnt/runtime/default/X",
		"/mnt/runtime/read/X",
		"/mnt/runtime/write/X",
	}, p.All(), "raw must come first in preparation order")
}

func TestSafeStableName(t *testing.T) {
	tests := []struct {
		name string
		safe bool
	}{
		{"ABCD-1234", true},
		{"public:179:1", true},
		{"3239-6335", true},
		{"My_Card.01", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../../etc", false},
		{"a/b", false},
		{"name with spaces", false},
		{"evil\x00name", false},
		{"$(reboot)", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.safe, SafeStableName(tt.name), "name %q", tt.name)
	}
}
