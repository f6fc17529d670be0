package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDelimiter(t *testing.T) {
	entries := []BlobInfo{
		{Name: "a/b/y.txt", ContentLength: 2},
		{Name: "a/x.txt", ContentLength: 1},
		{Name: "b.txt"},
	}

	t.Run("Dual shape with delimiter", func(t *testing.T) {
		got := applyDelimiter(entries, "a/", Delimiter)
		assert.Equal(t, []BlobInfo{
			{Name: "a/b/", IsPrefix: true},
			{Name: "a/x.txt", ContentLength: 1},
		}, got)
	})

	t.Run("Root listing folds everything below the first segment", func(t *testing.T) {
		got := applyDelimiter(entries, "", Delimiter)
		assert.Equal(t, []string{"a/", "b.txt"}, blobNames(got))
		assert.True(t, got[0].IsPrefix)
	})

	t.Run("Common prefixes are reported once", func(t *testing.T) {
		got := applyDelimiter([]BlobInfo{
			{Name: "p/q/1"}, {Name: "p/q/2"}, {Name: "p/q/"},
		}, "p/", Delimiter)
		assert.Equal(t, []string{"p/q/"}, blobNames(got))
	})

	t.Run("No delimiter keeps a flat sorted listing", func(t *testing.T) {
		flat := append([]BlobInfo(nil), entries...)
		got := applyDelimiter(flat, "", "")
		assert.Equal(t, []string{"a/b/y.txt", "a/x.txt", "b.txt"}, blobNames(got))
	})

	t.Run("Entries outside the prefix are dropped", func(t *testing.T) {
		got := applyDelimiter(entries, "z/", Delimiter)
		assert.Empty(t, got)
	})
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"file.txt", true},
		{"a/b/c.txt", true},
		{"folder/", true},
		{"..data", true},
		{"", false},
		{"/leading", false},
		{"a//b", false},
		{"a/./b", false},
		{"a/../b", false},
		{"../up", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateKey(tt.key)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPath)
			}
		})
	}
}

func TestBlobInfo_IsFolder(t *testing.T) {
	assert.True(t, BlobInfo{Name: "a/"}.IsFolder())
	assert.True(t, BlobInfo{Name: "a", IsPrefix: true}.IsFolder())
	assert.False(t, BlobInfo{Name: "a"}.IsFolder())
}
