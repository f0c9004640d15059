// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide functionality missing from the standard slices package.
package xslices

import (
	"flag"
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// Iota returns a slice of incremental values, starting with start and of length len.
// Eg: Iota(3, 2) -> []int{3, 4}
func Iota[T constraints.Integer](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Chunks splits slice in consecutive sub-slices of size elements. The last one may be smaller.
// The chunks share the underlying array of slice.
func Chunks[T any](slice []T, size int) (chunks [][]T) {
	if size <= 0 {
		return nil
	}
	for start := 0; start < len(slice); start += size {
		end := min(start+size, len(slice))
		chunks = append(chunks, slice[start:end:end])
	}
	return
}

// Flag creates a flag for []T with the given name, description and default value.
// The flag value is a comma-separated list, and each element is converted by parserFn.
func Flag[T any](name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	return FlagSet(flag.CommandLine, name, defaultValue, usage, parserFn)
}

// FlagSet is like Flag, but the flag is defined in the given flag.FlagSet.
func FlagSet[T any](flagSet *flag.FlagSet, name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &sliceFlag[T]{
		parsedSlice: defaultValue,
		parserFn:    parserFn,
	}
	flagSet.Var(f, name, usage)
	return &f.parsedSlice
}

// sliceFlag implements flag.Value for a slice of T.
type sliceFlag[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	if f == nil || len(f.parsedSlice) == 0 {
		return ""
	}
	parts := make([]string, len(f.parsedSlice))
	for ii, elem := range f.parsedSlice {
		parts[ii] = fmt.Sprint(elem)
	}
	return strings.Join(parts, ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	f.parsedSlice = make([]T, 0)
	for _, part := range strings.Split(listStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := f.parserFn(part)
		if err != nil {
			return err
		}
		f.parsedSlice = append(f.parsedSlice, value)
	}
	return nil
}
