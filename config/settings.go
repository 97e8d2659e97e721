package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Settings configures the runner itself (not a workflow)
type Settings struct {
	WorkflowsDir string            `mapstructure:"workflows_dir"`
	StateDir     string            `mapstructure:"state_dir"`
	WorkDir      string            `mapstructure:"work_dir"`
	Listen       string            `mapstructure:"listen"`
	LogLevel     string            `mapstructure:"log_level"`
	Repository   string            `mapstructure:"repository"`
	Ref          string            `mapstructure:"ref"`
	ServerURL    string            `mapstructure:"server_url"`
	APIURL       string            `mapstructure:"api_url"`
	Token        string            `mapstructure:"token"`
	Secrets      map[string]string `mapstructure:"secrets"`
	Vars         map[string]any    `mapstructure:"vars"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workflows_dir", filepath.Join(".nightly", "workflows"))
	v.SetDefault("state_dir", defaultStateDir())
	v.SetDefault("work_dir", ".")
	v.SetDefault("listen", "127.0.0.1:8088")
	v.SetDefault("log_level", "info")
	v.SetDefault("ref", "refs/heads/main")
	v.SetDefault("server_url", "https://github.com")
	v.SetDefault("api_url", "https://api.github.com")
}

// NewViper creates a viper instance reading nightly.yaml and NIGHTLY_* variables
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigName("nightly")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(filepath.Join(userConfigDir(), "nightly"))
	v.SetEnvPrefix("NIGHTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads the config file (if any) and decodes the settings.
// A missing config file is not an error.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}

	if s.Token == "" {
		s.Token = os.Getenv("GITHUB_TOKEN")
	}
	if s.Repository == "" {
		s.Repository = os.Getenv("GITHUB_REPOSITORY")
	}
	return &s, nil
}

// RunSecrets returns the secrets exposed to workflows; GITHUB_TOKEN comes from the token setting
func (s *Settings) RunSecrets() map[string]string {
	out := make(map[string]string, len(s.Secrets)+1)
	for k, v := range s.Secrets {
		out[strings.ToUpper(k)] = v
	}
	if s.Token != "" {
		out["GITHUB_TOKEN"] = s.Token
	}
	return out
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "nightly")
	}
	return ".nightly"
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}
