// Package export serializes the captured entries for download.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/itchyny/gojq"

	"apimon/internal/types"
)

// FileName returns the download name for an export taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("api-monitor-%d.json", t.UnixMilli())
}

// JSON renders entries as indented JSON. An empty list renders as [].
func JSON(entries []types.Entry) ([]byte, error) {
	if entries == nil {
		entries = []types.Entry{}
	}
	return marshalIndent(entries)
}

// Transform runs the jq program expr over the entry list and renders its
// results as indented JSON. A program yielding several values renders them
// as an array.
func Transform(ctx context.Context, entries []types.Entry, expr string) ([]byte, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse jq %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile jq %q: %w", expr, err)
	}

	// gojq only accepts plain JSON values.
	raw, err := JSON(entries)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("run jq %q: %w", expr, err)
		}
		results = append(results, v)
	}
	if len(results) == 1 {
		return marshalIndent(results[0])
	}
	if results == nil {
		results = []any{}
	}
	return marshalIndent(results)
}

// WriteFile writes data into dir under FileName(t) and returns the path.
func WriteFile(dir string, t time.Time, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(t))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
