package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/arrowstore/ddstore/chunker"
	"github.com/arrowstore/ddstore/dedupe"
	"github.com/arrowstore/ddstore/internal/chunkstore"
	"github.com/arrowstore/ddstore/internal/chunkstore/local"
	"github.com/arrowstore/ddstore/internal/chunkstore/s3"
	"github.com/arrowstore/ddstore/internal/debug"
	"github.com/arrowstore/ddstore/internal/dedupelog"
	"github.com/arrowstore/ddstore/internal/errors"
	"github.com/arrowstore/ddstore/internal/index/sqlite"
)

// verboseSink prints structured progress events to stderr when --verbose is
// set.
func verboseSink() dedupelog.EventSink {
	if !gopts.Verbose {
		return dedupelog.NopSink()
	}
	return dedupelog.FuncSink(func(e dedupelog.Event) {
		switch e.Kind {
		case dedupelog.WriteBegin:
			fmt.Fprintf(os.Stderr, "write %s: begin\n", e.Key)
		case dedupelog.ChunkEmitted:
			status := "new"
			if e.Deduped {
				status = "dedup"
			}
			fmt.Fprintf(os.Stderr, "write %s: chunk %s (%d bytes, %s)\n", e.Key, e.ChunkKey, e.ChunkLength, status)
		case dedupelog.WriteCommit:
			fmt.Fprintf(os.Stderr, "write %s: commit\n", e.Key)
		case dedupelog.WriteRollback:
			fmt.Fprintf(os.Stderr, "write %s: rolled back: %v\n", e.Key, e.Err)
		case dedupelog.DeleteBegin:
			fmt.Fprintf(os.Stderr, "delete %s: begin\n", e.Key)
		case dedupelog.DeleteCommit:
			fmt.Fprintf(os.Stderr, "delete %s: commit\n", e.Key)
		}
	})
}

func openStore(chunkDir string) (chunkstore.Store, error) {
	if chunkDir == "" {
		return nil, errors.InvalidArgument("--chunks is required")
	}
	if strings.HasPrefix(chunkDir, "s3:") {
		u, err := s3.ParseURL(chunkDir)
		if err != nil {
			return nil, err
		}
		debugf("opening s3 chunk store at %#v", u)
		return s3.Open(u)
	}
	debugf("opening local chunk store at %s", chunkDir)
	return local.New(chunkDir)
}

// openEngine opens an existing index at indexPath together with the chunk
// store named by --chunks.
func openEngine(ctx context.Context, indexPath string) (*dedupe.Engine, error) {
	idx, err := sqlite.Open(indexPath)
	if err != nil {
		return nil, err
	}
	store, err := openStore(gopts.ChunkDir)
	if err != nil {
		idx.Close()
		return nil, err
	}
	return dedupe.Open(ctx, idx, store, dedupe.WithEventSink(verboseSink()))
}

func parseParams(spec string) (chunker.Params, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return chunker.Params{}, errors.InvalidArgumentf(
			"--params must be min,max,shift,boundary, got %q", spec)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return chunker.Params{}, errors.InvalidArgumentf("invalid --params value %q: %v", p, err)
		}
		vals[i] = n
	}
	return chunker.Params{
		MinChunkSize:       vals[0],
		MaxChunkSize:       vals[1],
		ShiftCount:         vals[2],
		BoundaryCheckBytes: vals[3],
	}, nil
}

func debugf(format string, args ...interface{}) { debug.Log(format, args...) }
