package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty path", input: "", wantErr: true},
		{name: "blank path", input: "  ", wantErr: true},
		{name: "relative path", input: "./test", want: filepath.Join(cwd, "test")},
		{name: "dot segments", input: "a/../b", want: filepath.Join(cwd, "b")},
		{name: "home", input: "~", want: home},
		{name: "home child", input: "~/watched", want: filepath.Join(home, "watched")},
		{name: "tilde in name", input: "~watched", want: filepath.Join(cwd, "~watched")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureParent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a", "b", "settings.json")

	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(filepath.Join(dir, "a", "b")))
	assert.False(t, DirExists(file))

	// existing dir is fine
	require.NoError(t, EnsureParent(file))
}
