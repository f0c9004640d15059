// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imgfiles resolves path specifications (directories and manifest files) into sorted
// lists of image files.
package imgfiles

import (
	"bufio"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/rgbir/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// HelpURL is included in file resolution errors.
const HelpURL = "https://docs.ultralytics.com/datasets"

var (
	// ErrNotFound is returned (wrapped) when a given path doesn't exist.
	ErrNotFound = errors.New("path does not exist")

	// ErrNoImages is returned (wrapped) when no image files are found.
	ErrNoImages = errors.New("no images found")
)

// Formats holds the recognized image file extensions, in lower case and without the leading dot.
//
// These are the formats that can be decoded: see the imports of the imgcache package.
var Formats = sets.MakeWith("bmp", "gif", "jpeg", "jpg", "png", "tif", "tiff", "webp")

// IsImage returns whether the path has one of the recognized image Formats (case-insensitive).
func IsImage(path string) bool {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return false
	}
	return Formats.Has(strings.ToLower(path[dot+1:]))
}

// Find expands paths into the sorted list of image files they refer to:
//
//   - Directories are walked recursively. Hidden files and directories (starting with ".") are skipped.
//   - Files are read as manifests: one path per line. Lines starting with "./" are relative to the
//     manifest's directory.
//
// Only files with one of the recognized Formats are returned, sorted and without duplicates.
// If fraction < 1, only the first round(n*fraction) files are kept.
//
// prefix is prepended to error messages, to identify the modality (or dataset) being loaded.
func Find(paths []string, prefix string, fraction float64) ([]string, error) {
	files, err := find(paths, prefix)
	if err != nil {
		return nil, errors.WithMessagef(err, "%sError loading data from %v\nSee %s", prefix, paths, HelpURL)
	}
	if fraction < 1 {
		keep := int(math.RoundToEven(float64(len(files)) * fraction))
		klog.V(1).Infof("%susing %d out of %d images (fraction=%g)", prefix, keep, len(files), fraction)
		files = files[:keep]
	}
	return files, nil
}

func find(paths []string, prefix string) ([]string, error) {
	var files []string
	for _, p := range paths {
		p = filepath.Clean(p)
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, errors.Wrapf(ErrNotFound, "%s%s", prefix, p)
			}
			return nil, errors.Wrapf(err, "%sfailed to stat %s", prefix, p)
		}
		var found []string
		if info.IsDir() {
			found, err = walkDir(p)
		} else {
			found, err = ReadManifest(p)
		}
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	files = slices.DeleteFunc(files, func(f string) bool { return !IsImage(f) })
	if len(files) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "%sin %v", prefix, paths)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// walkDir returns all regular files under dir.
func walkDir(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list files in %s", dir)
	}
	return files, nil
}

// ReadManifest returns the paths listed in a manifest file, one per line.
// Entries starting with "./" are made relative to the manifest's directory, other entries are returned as is.
func ReadManifest(manifestPath string) ([]string, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %s", manifestPath)
	}
	defer func() { _ = f.Close() }()

	parent := filepath.Dir(manifestPath)
	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "./") {
			line = filepath.Join(parent, line[2:])
		}
		files = append(files, filepath.FromSlash(line))
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", manifestPath)
	}
	return files, nil
}
