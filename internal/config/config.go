// Package config persists and validates the four chunking parameters
// through the index provider's Config table.
package config

import (
	"context"
	"strconv"

	"github.com/arrowstore/ddstore/chunker"
	"github.com/arrowstore/ddstore/internal/errors"
	"github.com/arrowstore/ddstore/internal/index"
)

const (
	keyMinChunkSize       = "min_chunk_size"
	keyMaxChunkSize       = "max_chunk_size"
	keyShiftCount         = "shift_count"
	keyBoundaryCheckBytes = "boundary_check_bytes"
)

// Create validates params and writes them to idx. It must only be called
// once, when the index is first initialized.
func Create(ctx context.Context, idx index.Provider, params chunker.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	for _, kv := range [][2]string{
		{keyMinChunkSize, strconv.Itoa(params.MinChunkSize)},
		{keyMaxChunkSize, strconv.Itoa(params.MaxChunkSize)},
		{keyShiftCount, strconv.Itoa(params.ShiftCount)},
		{keyBoundaryCheckBytes, strconv.Itoa(params.BoundaryCheckBytes)},
	} {
		if err := idx.AddConfigValue(ctx, kv[0], kv[1]); err != nil {
			return errors.Index(err, "write chunking config")
		}
	}
	return nil
}

// Load reads the four chunking parameters back from idx and re-validates
// them, so a tampered or corrupted config entry is caught on open rather
// than silently accepted.
func Load(ctx context.Context, idx index.Provider) (chunker.Params, error) {
	var p chunker.Params
	vals := make(map[string]int, 4)
	for _, key := range []string{keyMinChunkSize, keyMaxChunkSize, keyShiftCount, keyBoundaryCheckBytes} {
		raw, ok, err := idx.GetConfigValue(ctx, key)
		if err != nil {
			return p, errors.Index(err, "read chunking config")
		}
		if !ok {
			return p, errors.Integrityf("missing config value %q", key)
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, errors.Integrityf("config value %q is not an integer: %q", key, raw)
		}
		vals[key] = n
	}

	p = chunker.Params{
		MinChunkSize:       vals[keyMinChunkSize],
		MaxChunkSize:       vals[keyMaxChunkSize],
		ShiftCount:         vals[keyShiftCount],
		BoundaryCheckBytes: vals[keyBoundaryCheckBytes],
	}
	if err := p.Validate(); err != nil {
		return p, errors.Wrap(err, errors.KindIntegrityError, "persisted chunking config failed validation")
	}
	return p, nil
}
