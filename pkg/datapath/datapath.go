// Package datapath reads and writes values in an execution context using
// dotted reference paths such as "$.forward.statusCode".
package datapath

import (
	"errors"
	"fmt"
	"strings"
)

const Root = "$"

var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrPathNotFound = errors.New("path not found")
	ErrRootWrite    = errors.New("cannot replace the context root")
	ErrNotAnObject  = errors.New("path traverses a non-object value")
)

// Parse splits a reference path into its field segments. "$" yields no segments.
func Parse(path string) ([]string, error) {
	if path == Root {
		return nil, nil
	}

	if !strings.HasPrefix(path, Root+".") {
		return nil, fmt.Errorf("%w %q: must be %q or start with %q", ErrInvalidPath, path, Root, Root+".")
	}

	segments := strings.Split(path[len(Root)+1:], ".")
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("%w %q: empty segment", ErrInvalidPath, path)
		}
	}

	return segments, nil
}

func Validate(path string) error {
	_, err := Parse(path)

	return err
}

// Get returns the value at path. An empty path is treated as the root.
func Get(data any, path string) (any, error) {
	if path == "" {
		path = Root
	}

	segments, err := Parse(path)
	if err != nil {
		return nil, err
	}

	current := data
	for i, segment := range segments {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, joinPrefix(segments[:i+1]))
		}

		current, ok = object[segment]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, joinPrefix(segments[:i+1]))
		}
	}

	return current, nil
}

// Exists reports whether a value is present at path.
func Exists(data any, path string) bool {
	_, err := Get(data, path)

	return err == nil
}

// Set stores value at path, creating intermediate objects. Writing the root is
// rejected so a step result can never replace the whole context.
func Set(data map[string]any, path string, value any) error {
	segments, err := Parse(path)
	if err != nil {
		return err
	}

	if len(segments) == 0 {
		return ErrRootWrite
	}

	current := data
	for i, segment := range segments[:len(segments)-1] {
		next, exists := current[segment]
		if !exists || next == nil {
			child := make(map[string]any)
			current[segment] = child
			current = child

			continue
		}

		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAnObject, joinPrefix(segments[:i+1]))
		}

		current = child
	}

	current[segments[len(segments)-1]] = value

	return nil
}

func joinPrefix(segments []string) string {
	return Root + "." + strings.Join(segments, ".")
}
