package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds every runtime option. Values come from an optional TOML file
// with flag/environment overrides applied on top by the cmd package; every
// option has a default so the reader starts with no configuration at all.
type Config struct {
	DataDir                 string `toml:"data_dir"`
	AppName                 string `toml:"app_name"`
	Debug                   bool   `toml:"debug"`
	Port                    int    `toml:"port"`
	ArticlesPerPage         int    `toml:"articles_per_page"`
	ArticleRetentionDays    int    `toml:"article_retention_days"`
	RefreshIntervalSeconds  int    `toml:"refresh_interval_seconds"`
	MaxArticleContentLength int    `toml:"max_article_content_length"`
	UserKeyLength           int    `toml:"user_key_length"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:                 "data",
		AppName:                 "E-Ink Reader",
		Debug:                   false,
		Port:                    8080,
		ArticlesPerPage:         5,
		ArticleRetentionDays:    90,
		RefreshIntervalSeconds:  3600, // 1 hour
		MaxArticleContentLength: 50000,
		UserKeyLength:           8,
	}
}

// Load reads a TOML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// DatabasePath is the full path to the SQLite database file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "eink_reader.db")
}
