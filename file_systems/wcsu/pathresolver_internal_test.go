package wcsu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitParent(t *testing.T) {
	cases := []struct {
		path   string
		parent string
		name   string
	}{
		{"file", ".", "file"},
		{"/file", "/", "file"},
		{"a/b/c", "a/b", "c"},
		{"/a/b", "/a", "b"},
		{"a/", "a", ""},
	}

	for _, tc := range cases {
		parent, name := splitParent(tc.path)
		assert.Equalf(t, tc.parent, parent, "parent of %q", tc.path)
		assert.Equalf(t, tc.name, name, "name in %q", tc.path)
	}
}

func TestSplitComponents(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitComponents("a/b///"))
	assert.Equal(t, []string{"a", "", "b"}, splitComponents("a//b"))
	assert.Empty(t, splitComponents(""))
}
