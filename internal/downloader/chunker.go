package downloader

import "fmt"

// planChunks computes the chunk plan for a file of the given size, following
// the teacher's ChunkFile/ChunkData offset arithmetic (pkg/content/chunker.go)
// but producing byte ranges for HTTP Range requests instead of materialized
// chunk buffers — §3 "Chunk plan": files at or below cfg.ChunkThreshold get a
// single whole-file range, larger files split into cfg.ChunkSize pieces.
func planChunks(size int64, cfg Config) ([]ChunkRange, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid file size: %d", size)
	}
	if size == 0 {
		return []ChunkRange{{Index: 0, Start: 0, End: 0}}, nil
	}
	if size <= cfg.ChunkThreshold || cfg.ChunkSize <= 0 {
		return []ChunkRange{{Index: 0, Start: 0, End: size - 1}}, nil
	}

	numChunks := (size + cfg.ChunkSize - 1) / cfg.ChunkSize
	plan := make([]ChunkRange, 0, numChunks)
	var offset int64
	for i := 0; offset < size; i++ {
		end := offset + cfg.ChunkSize - 1
		if end > size-1 {
			end = size - 1
		}
		plan = append(plan, ChunkRange{Index: i, Start: offset, End: end})
		offset = end + 1
	}
	return plan, nil
}

// assemble concatenates a task's chunk buffers in index order once every
// chunk has arrived. Used by the non-progressive path, where nothing is
// written to the store until the whole file is verified.
func assemble(chunkData map[int][]byte, plan []ChunkRange) []byte {
	total := 0
	for _, c := range plan {
		total += int(c.Len())
	}
	out := make([]byte, 0, total)
	for _, c := range plan {
		out = append(out, chunkData[c.Index]...)
	}
	return out
}
