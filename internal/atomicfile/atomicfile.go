// Copyright (c) 2023-2024 Canonical Ltd
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

package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteFileWithFs writes data to a temporary filename.*.tmp on fs, then
// renames it over filename, so a crash mid-write never leaves a truncated
// file in its place. Every caller in this module already threads an
// afero.Fs for testability (config.Load, alertstore.Store), so this is the
// only writer; there is no direct-os.File variant.
// However on non-Unix platforms os.Rename is not an atomic operation, hence
// the whole write is not atomic there.
//
//nolint:nonamedreturns // named return is needed for cleanup
func WriteFileWithFs(fs afero.Fs, filename string, data []byte, perm os.FileMode) (err error) {
	tf, err := afero.TempFile(fs, filepath.Dir(filename), filepath.Base(filename)+".*.tmp")
	if err != nil {
		return err
	}

	tname := tf.Name()

	defer func() {
		if err != nil {
			//nolint:errcheck,gosec // we already return a more important error
			tf.Close()
			//nolint:errcheck,gosec // we already return a more important error
			fs.Remove(tname)
		}
	}()

	if _, err := tf.Write(data); err != nil {
		return err
	}

	if err := tf.Close(); err != nil {
		return err
	}

	if err := fs.Chmod(tname, perm); err != nil {
		return err
	}

	return fs.Rename(tname, filename)
}
