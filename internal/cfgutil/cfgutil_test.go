package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallet.db")

	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(path, []byte{1}, 0600))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestIsBareFileName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"wallet.db", true},
		{"my-wallet", true},
		{"", false},
		{"..", false},
		{"../wallet.db", false},
		{"/tmp/wallet.db", false},
		{"sub/wallet.db", false},
		{`sub\wallet.db`, false},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, IsBareFileName(test.name), test.name)
	}
}
