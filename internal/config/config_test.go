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

package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ace-correlate/alertcore/internal/alertconst"
)

const testYAML = `
global:
  instance_type: PRODUCTION
  lock_timeout: "00:30"
mediawiki:
  domain: wiki.example.com
tags:
  whitelisted: special
tag_css_class:
  special: label-warning
database_ace:
  hostname: db.example.com
  database: ace
  username: ace
  password: secret
engine_email:
  bro_smtp_dir: /opt/alertcore/scan_targets/smtp_stream
  collection_frequency: 5s
`

func TestLoadConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/saq.yaml", []byte(testYAML), 0o640))

	cfg, err := Load(fs, "/etc/saq.yaml")
	require.NoError(t, err)

	require.Equal(t, alertconst.InstanceProduction, cfg.Global.InstanceType)
	require.Equal(t, 30*time.Second, cfg.Global.LockTimeout.Duration)
	require.Equal(t, "wiki.example.com", cfg.MediaWiki.Domain)
	require.Equal(t, "special", cfg.Tags["whitelisted"])
	require.Equal(t, "label-warning", cfg.TagCSS["special"])

	db, ok := cfg.Databases["ace"]
	require.True(t, ok)
	require.Equal(t, "db.example.com", db.Hostname)
	require.Equal(t, defaultDatabasePort, db.Port)
	require.Equal(t, "ace", db.Database)

	eng, ok := cfg.Engines["email"]
	require.True(t, ok)
	require.Equal(t, "/opt/alertcore/scan_targets/smtp_stream", eng.BroSMTPDir)
	require.Equal(t, 5*time.Second, eng.CollectionFrequency)
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{Duration: 90 * time.Second}
	require.Equal(t, "01:30", d.String())

	var parsed Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"01:30"`), &parsed))
	require.Equal(t, d.Duration, parsed.Duration)
}

func TestSaveConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/saq.yaml", []byte(testYAML), 0o640))

	cfg, err := Load(fs, "/etc/saq.yaml")
	require.NoError(t, err)

	require.NoError(t, Save(fs, "/etc/saq2.yaml", cfg))

	reloaded, err := Load(fs, "/etc/saq2.yaml")
	require.NoError(t, err)
	require.Equal(t, cfg.Global.InstanceType, reloaded.Global.InstanceType)
}
