// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"io"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplaceTildeInDir(t *testing.T) {
	got, err := ReplaceTildeInDir("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)

	usr, err := user.Current()
	require.NoError(t, err)
	got, err = ReplaceTildeInDir("~/data")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "data"), got)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bin")
	require.NoError(t, WriteFileAtomic(target, func(w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	}))
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	// A failed write leaves neither the target nor temporary files behind.
	failing := filepath.Join(dir, "failing.bin")
	err = WriteFileAtomic(failing, func(w io.Writer) error { return errors.New("boom") })
	require.Error(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.bin", entries[0].Name())
}
