package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobgate/blobgate/internal/storage"
)

func TestNormalizeFolderPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"/", "", false},
		{"a", "a/", false},
		{"/a/b", "a/b/", false},
		{"a/b/", "a/b/", false},
		{"a//b", "", true},
		{"a/./b", "", true},
		{"../a", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeFolderPath(tt.in)
			if tt.wantErr {
				assert.True(t, storage.IsBadRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeFilePath(t *testing.T) {
	got, err := NormalizeFilePath("/dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "dir/file.txt", got)

	for _, bad := range []string{"", "/", "dir/", "a/../b"} {
		_, err := NormalizeFilePath(bad)
		assert.True(t, storage.IsBadRequest(err), bad)
	}
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, "", ParentPath("a/"))
	assert.Equal(t, "", ParentPath("file.txt"))
	assert.Equal(t, "a/", ParentPath("a/b/"))
	assert.Equal(t, "a/b/", ParentPath("a/b/c.txt"))

	assert.Equal(t, "b", BaseName("a/b/"))
	assert.Equal(t, "c.txt", BaseName("a/b/c.txt"))
	assert.Equal(t, "", BaseName(""))
}
