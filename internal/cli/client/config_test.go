package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	origDir := getConfigDirFunc
	origPath := getConfigPathFunc
	getConfigDirFunc = func() (string, error) { return dir, nil }
	getConfigPathFunc = func() (string, error) { return filepath.Join(dir, "config.json"), nil }
	t.Cleanup(func() {
		getConfigDirFunc = origDir
		getConfigPathFunc = origPath
	})

	return dir
}

func TestGlobalConfig_RoundTrip(t *testing.T) {
	withTempConfigDir(t)

	err := SaveGlobalConfig(&GlobalConfig{APIURL: "http://localhost:9999", OrgID: "org-1"})
	require.NoError(t, err)

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "http://localhost:9999", loaded.APIURL)
	assert.Equal(t, "org-1", loaded.OrgID)
}

func TestLoadGlobalConfig_MissingFileReturnsNil(t *testing.T) {
	withTempConfigDir(t)

	loaded, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveGlobalConfig_NilRejected(t *testing.T) {
	withTempConfigDir(t)

	assert.Error(t, SaveGlobalConfig(nil))
}
