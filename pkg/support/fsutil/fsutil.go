// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to FileExists(%q)", path)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user or some other filesystem error (e.g: `~unknown/...`)
func ReplaceTildeInDir(dir string) (string, error) {
	if len(dir) == 0 || dir[0] != '~' {
		return dir, nil
	}
	var userName string
	if dir != "~" && !strings.HasPrefix(dir, "~/") {
		sepIdx := strings.IndexRune(dir, '/')
		if sepIdx == -1 {
			userName = dir[1:]
		} else {
			userName = dir[1:sepIdx]
		}
	}
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, dir[1+len(userName):]), nil
}

// WriteFileAtomic writes the contents generated by write into a temporary file next to path, and
// then renames it to path.
//
// Readers never observe a partially written file, even if several workers (or processes) race to
// write the same path: the last rename wins.
func WriteFileAtomic(path string, write func(w io.Writer) error) (err error) {
	tmpPath := path + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", path)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()
	if err = write(f); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "while writing %q", tmpPath)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", tmpPath)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", tmpPath, path)
	}
	return nil
}
