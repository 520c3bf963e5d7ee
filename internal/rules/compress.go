package rules

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"labsync/internal/queue"
)

// compressChunkSize is the uncompressed span covered by one gzip member in a
// .cbin file. Readers can seek to any chunk without inflating the rest.
const compressChunkSize = 1 << 20

const (
	rawSuffix        = ".ap.bin"
	compressedSuffix = ".ap.cbin"
	chunkIndexSuffix = ".ap.ch"
)

// EphysCompression compresses raw wideband recordings before upload. Each
// *.ap.bin becomes a chunked-gzip *.ap.cbin plus a *.ap.ch index describing
// the chunk boundaries, and the raw original moves to the processed record.
func EphysCompression() Rule {
	return Rule{
		Name:      "ephys-compression",
		Pattern:   "*" + rawSuffix,
		Transform: compressRecordings,
	}
}

type chunkIndex struct {
	ChunkSize    int64   `json:"chunk_size"`
	NChunks      int     `json:"n_chunks"`
	SizeOriginal int64   `json:"size_original"`
	Offsets      []int64 `json:"chunk_offsets"`
}

func compressRecordings(ctx context.Context, env Env, files []queue.StagedFile) (consumed, produced []string, err error) {
	for _, file := range files {
		if !strings.HasSuffix(file.Path, rawSuffix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		base := strings.TrimSuffix(file.Path, rawSuffix)
		cbinRel := base + compressedSuffix
		indexRel := base + chunkIndexSuffix

		index, err := compressFile(env.StagedPath(file.Path), env.StagedPath(cbinRel))
		if err != nil {
			return nil, nil, fmt.Errorf("compress %s: %w", file.Path, err)
		}
		if err := writeChunkIndex(env.StagedPath(indexRel), index); err != nil {
			return nil, nil, fmt.Errorf("write chunk index for %s: %w", file.Path, err)
		}

		consumed = append(consumed, file.Path)
		produced = append(produced, cbinRel, indexRel)
	}
	return consumed, produced, nil
}

// compressFile writes src as a sequence of independent gzip members and
// returns the index describing where each member starts.
func compressFile(src, dst string) (*chunkIndex, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	index := &chunkIndex{ChunkSize: compressChunkSize}
	buf := make([]byte, compressChunkSize)
	var written int64
	for {
		n, readErr := io.ReadFull(in, buf)
		if n > 0 {
			index.Offsets = append(index.Offsets, written)
			gz := gzip.NewWriter(out)
			if _, err := gz.Write(buf[:n]); err != nil {
				return nil, err
			}
			if err := gz.Close(); err != nil {
				return nil, err
			}
			pos, err := out.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			written = pos
			index.NChunks++
			index.SizeOriginal += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}
	// Closing offset so readers know the span of the final chunk.
	index.Offsets = append(index.Offsets, written)

	if err := out.Sync(); err != nil {
		return nil, err
	}
	return index, nil
}

func writeChunkIndex(path string, index *chunkIndex) error {
	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}
