package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestInitConfigReadsExplicitFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checker:\n  workers: 3\n"), 0o600))

	v := viper.New()
	used, err := initConfig(v, path)
	require.NoError(t, err)
	require.Equal(t, path, used)
	require.Equal(t, 3, v.GetInt("checker.workers"))
	require.Equal(t, -1, v.GetInt("checker.max_depth"))
}

func TestInitConfigWithoutFileUsesDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	used, err := initConfig(v, "")
	require.NoError(t, err)
	require.Empty(t, used)
	require.Equal(t, 10, v.GetInt("checker.workers"))
	require.True(t, v.GetBool("checker.check_extern"))
}

func TestInitConfigRejectsBrokenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checker: [unclosed\n"), 0o600))

	_, err := initConfig(viper.New(), path)
	require.Error(t, err)
}
