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

// Package pathutil resolves alertcore's on-disk layout relative to its home
// directory, the way the original project resolved everything relative to
// SAQ_HOME.
package pathutil

import (
	"os"
	"path/filepath"
)

const defaultHome = "/opt/alertcore"

// Home returns the alertcore home directory. SAQ_HOME overrides the default,
// matching the env-var override the original project used for every relative
// path in its configuration.
func Home() string {
	if home := os.Getenv("SAQ_HOME"); home != "" {
		return filepath.Clean(home)
	}

	return defaultHome
}

// HomePath joins path beneath the alertcore home directory.
func HomePath(path string) string {
	return filepath.Join(Home(), filepath.Clean(path))
}

// StorageDir returns the root directory under which each alert's evidence
// directory (storage_dir) is created.
func StorageDir() string {
	return HomePath("data")
}

// AlertStorageDir returns the storage directory for a single alert, keyed by
// its UUID.
func AlertStorageDir(uuid string) string {
	return filepath.Join(StorageDir(), uuid)
}

// BroSMTPDir returns the directory bro-smtp ingestion watches for reassembled
// SMTP transaction files and their ".ready" sentinels.
func BroSMTPDir() string {
	return HomePath(filepath.Join("scan_targets", "smtp_stream"))
}

// ConfigPath returns the path to alertcore's YAML configuration file.
func ConfigPath() string {
	if cfg := os.Getenv("SAQ_CONFIG"); cfg != "" {
		return filepath.Clean(cfg)
	}

	return HomePath("etc/saq.yaml")
}
