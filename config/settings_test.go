package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("GITHUB_REPOSITORY", "OpenFreeEnergy/gufe")

	v := viper.New()
	SetDefaults(v)
	v.AddConfigPath(t.TempDir())
	v.SetConfigName("nightly")

	s, err := LoadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8088", s.Listen)
	assert.Equal(t, "refs/heads/main", s.Ref)
	assert.Equal(t, "https://api.github.com", s.APIURL)
	assert.Equal(t, "env-token", s.Token)
	assert.Equal(t, "OpenFreeEnergy/gufe", s.Repository)
}

func TestLoadSettings_File(t *testing.T) {
	dir := t.TempDir()
	content := `
listen: 0.0.0.0:9000
repository: acme/widgets
token: file-token
secrets:
  pypi_token: abc
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nightly.yaml"), []byte(content), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetConfigFile(filepath.Join(dir, "nightly.yaml"))

	s, err := LoadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", s.Listen)
	assert.Equal(t, "acme/widgets", s.Repository)

	secrets := s.RunSecrets()
	assert.Equal(t, "abc", secrets["PYPI_TOKEN"])
	assert.Equal(t, "file-token", secrets["GITHUB_TOKEN"])
}

func TestNewViper_EnvOverride(t *testing.T) {
	t.Setenv("NIGHTLY_LISTEN", "127.0.0.1:1234")

	v := NewViper()
	assert.Equal(t, "127.0.0.1:1234", v.GetString("listen"))
}
