// Copyright (c) 2023-2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config loads alertcore's YAML configuration, covering the keys
// named in spec.md §6: global instance type and lock timeout, per-database
// connection settings, mediawiki/tag display settings, and per-engine
// ingestion settings.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/atomicfile"
)

// Load reads and parses the YAML configuration file at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save renders cfg back to YAML and writes it atomically to path.
func Save(fs afero.Fs, path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if err := atomicfile.WriteFileWithFs(fs, path, data, 0o640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Config is the root alertcore configuration.
type Config struct {
	Global     GlobalConfig                `yaml:"global"`
	Databases  map[string]DatabaseConfig    `yaml:"-"`
	MediaWiki  MediaWikiConfig              `yaml:"mediawiki"`
	Tags       map[string]string            `yaml:"tags"`
	TagCSS     map[string]string            `yaml:"tag_css_class"`
	Engines    map[string]EngineConfig      `yaml:"-"`
}

// GlobalConfig holds the `global.*` keys.
type GlobalConfig struct {
	InstanceType alertconst.InstanceType `yaml:"instance_type"`
	LockTimeout  Duration                `yaml:"lock_timeout"`
}

// DatabaseConfig holds the `database_<name>.*` keys. Charset is fixed to
// utf8 per spec.md §6 and is not configurable.
type DatabaseConfig struct {
	Hostname   string `yaml:"hostname"`
	Port       int    `yaml:"port"`
	UnixSocket string `yaml:"unix_socket"`
	Database   string `yaml:"database"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
}

const defaultDatabasePort = 3306

// Charset is fixed, matching spec.md §6's MySQL wire convention.
const Charset = "utf8"

// MediaWikiConfig holds the `mediawiki.*` keys used to build an Event's
// wiki link.
type MediaWikiConfig struct {
	Domain string `yaml:"domain"`
}

// EngineConfig holds the per-engine keys named in spec.md §6: bro-smtp and
// mailbox collection settings.
type EngineConfig struct {
	BroSMTPDir          string        `yaml:"bro_smtp_dir"`
	CollectionDir       string        `yaml:"collection_dir"`
	CollectionFrequency time.Duration `yaml:"collection_frequency"`
	ArchiveDir          string        `yaml:"archive_dir"`
	CacheDir            string        `yaml:"cache_dir"`
}

// rawEngineConfig mirrors EngineConfig with CollectionFrequency left as a
// plain string, since yaml.v3 has no built-in decoding of a bare
// time.Duration field from a duration string such as "5s".
type rawEngineConfig struct {
	BroSMTPDir          string `yaml:"bro_smtp_dir"`
	CollectionDir       string `yaml:"collection_dir"`
	CollectionFrequency string `yaml:"collection_frequency"`
	ArchiveDir          string `yaml:"archive_dir"`
	CacheDir            string `yaml:"cache_dir"`
}

// UnmarshalYAML implements yaml.Unmarshaler so CollectionFrequency parses
// through time.ParseDuration instead of yaml.v3's default (and, for
// time.Duration, non-functional) scalar decoding.
func (e *EngineConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw rawEngineConfig

	if err := value.Decode(&raw); err != nil {
		return err
	}

	e.BroSMTPDir = raw.BroSMTPDir
	e.CollectionDir = raw.CollectionDir
	e.ArchiveDir = raw.ArchiveDir
	e.CacheDir = raw.CacheDir

	if raw.CollectionFrequency != "" {
		d, err := time.ParseDuration(raw.CollectionFrequency)
		if err != nil {
			return fmt.Errorf("invalid collection_frequency %q: %w", raw.CollectionFrequency, err)
		}

		e.CollectionFrequency = d
	}

	return nil
}

// rawConfig mirrors Config but with plain map-of-interface fields for the
// dynamically-prefixed keys (database_<name>, engine sections), following
// the teacher's rawConfig -> Config.UnmarshalYAML post-processing pattern.
type rawConfig struct {
	Global    GlobalConfig           `yaml:"global"`
	MediaWiki MediaWikiConfig        `yaml:"mediawiki"`
	Tags      map[string]string      `yaml:"tags"`
	TagCSS    map[string]string      `yaml:"tag_css_class"`
	Rest      map[string]interface{} `yaml:",inline"`
}

const (
	databasePrefix = "database_"
	enginePrefix   = "engine_"
)

// UnmarshalYAML implements yaml.Unmarshaler. It splits out the
// dynamically-named `database_<name>` and `engine_<name>` sections into
// Config.Databases and Config.Engines.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw rawConfig

	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Global = raw.Global
	c.MediaWiki = raw.MediaWiki
	c.Tags = raw.Tags
	c.TagCSS = raw.TagCSS
	c.Databases = make(map[string]DatabaseConfig)
	c.Engines = make(map[string]EngineConfig)

	for key, value := range raw.Rest {
		switch {
		case strings.HasPrefix(key, databasePrefix):
			var db DatabaseConfig
			if err := decodeSection(value, &db); err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}

			if db.Port == 0 {
				db.Port = defaultDatabasePort
			}

			c.Databases[strings.TrimPrefix(key, databasePrefix)] = db
		case strings.HasPrefix(key, enginePrefix):
			var eng EngineConfig
			if err := decodeSection(value, &eng); err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}

			c.Engines[strings.TrimPrefix(key, enginePrefix)] = eng
		}
	}

	return nil
}

// decodeSection re-marshals a generically-decoded inline section and
// unmarshals it into a concrete type, since yaml.v3's inline map capture
// only yields interface{} values.
func decodeSection(value interface{}, out interface{}) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, out)
}

// Duration wraps time.Duration with a "MM:SS" YAML representation, matching
// the `lock_timeout` format spec.md §4.2 and §6 name.
type Duration struct {
	time.Duration
}

// String renders the duration as MM:SS.
func (d Duration) String() string {
	total := int(d.Duration / time.Second)
	minutes := total / 60
	seconds := total % 60

	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// UnmarshalYAML parses a "MM:SS" string into a Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parts := strings.SplitN(value.Value, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid MM:SS duration %q", value.Value)
	}

	minutes, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid minutes in %q: %w", value.Value, err)
	}

	seconds, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid seconds in %q: %w", value.Value, err)
	}

	d.Duration = time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second

	return nil
}

// MarshalYAML renders the duration as "MM:SS".
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

