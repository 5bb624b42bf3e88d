package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Runtime struct {
	HTTPAddr      string
	CacheMaxItems int
	ObsBuffer     int
	LogLevel      string
	LogFormat     string
	ExitPolicy    string
	Root          string
}

var defaults = map[string]any{
	"http_addr":       ":8080",
	"cache_max_items": 1024,
	"obs_buffer":      4096,
	"log_level":       "info",
	"log_format":      "human",
	"exit_policy":     "exit_code == 0",
	"root":            ".",
}

// Load reads CLOUDMAKE_* environment variables and, when path is set, a
// config file. Environment wins over the file.
func Load(path string) (Runtime, error) {
	v := viper.New()
	v.SetEnvPrefix("cloudmake")
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Runtime{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return Runtime{
		HTTPAddr:      v.GetString("http_addr"),
		CacheMaxItems: atLeast(v, "cache_max_items", 1),
		ObsBuffer:     atLeast(v, "obs_buffer", 1),
		LogLevel:      v.GetString("log_level"),
		LogFormat:     v.GetString("log_format"),
		ExitPolicy:    v.GetString("exit_policy"),
		Root:          v.GetString("root"),
	}, nil
}

// atLeast falls back to the default when the value is unparsable or below
// min.
func atLeast(v *viper.Viper, key string, min int) int {
	n := v.GetInt(key)
	if n < min {
		return defaults[key].(int)
	}
	return n
}
