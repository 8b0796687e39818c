// Package config resolves process-level startup configuration: the
// project root, the optional IDE shard key, and defaults for anything
// not supplied on the command line. Database-resident tunables (compact
// thresholds, context-pressure bands) live in the `config` SQL table
// instead; see internal/storage/sqlite/config.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds resolved process-level settings.
type Config struct {
	ProjectRoot string
	IDE         string
	Mode        string
}

// Load resolves configuration by layering, highest precedence first:
// explicit flags, ENGRAM_-prefixed environment variables, a discovered
// .engram/config.yaml (or config.toml) walked up from the project root,
// then hardcoded defaults.
func Load(projectRoot, ide, mode string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("ide", "")
	v.SetDefault("mode", "universal")

	if projectRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			projectRoot = cwd
		}
	}
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	configured := false
	for dir := projectRoot; ; {
		candidate := filepath.Join(dir, ".engram", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			v.SetConfigFile(candidate)
			configured = true
			break
		}
		tomlCandidate := filepath.Join(dir, ".engram", "config.toml")
		if _, err := os.Stat(tomlCandidate); err == nil {
			// TOML configs bypass viper's reader: decode strictly so a
			// typo'd key surfaces at startup instead of being ignored.
			var fileCfg struct {
				IDE  string `toml:"ide"`
				Mode string `toml:"mode"`
			}
			if _, err := toml.DecodeFile(tomlCandidate, &fileCfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", tomlCandidate, err)
			}
			if fileCfg.IDE != "" {
				v.SetDefault("ide", fileCfg.IDE)
			}
			if fileCfg.Mode != "" {
				v.SetDefault("mode", fileCfg.Mode)
			}
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if !configured {
		if home, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(home, "engramd", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				configured = true
			}
		}
	}

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configured {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	if ide == "" {
		ide = v.GetString("ide")
	}
	if mode == "" {
		mode = v.GetString("mode")
	}

	return &Config{ProjectRoot: projectRoot, IDE: ide, Mode: mode}, nil
}

// DBPath returns the path to the database shard for this
// configuration: memory.db, or memory-<ide>.db when sharded.
func (c *Config) DBPath() string {
	name := "memory.db"
	if c.IDE != "" {
		name = "memory-" + c.IDE + ".db"
	}
	return filepath.Join(c.ProjectRoot, ".engram", name)
}

// EngramDir returns <project_root>/.engram.
func (c *Config) EngramDir() string {
	return filepath.Join(c.ProjectRoot, ".engram")
}

// BackupDir returns <project_root>/.engram/backups.
func (c *Config) BackupDir() string {
	return filepath.Join(c.EngramDir(), "backups")
}
