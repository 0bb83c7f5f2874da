package store

import (
	"fmt"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// ChunkStore is the ordered chunk collection with an id index built once.
type ChunkStore struct {
	chunks  []Chunk
	ordinal map[string]int
}

// NewChunkStore validates chunks and freezes their order. The slice is copied.
func NewChunkStore(chunks []Chunk) (*ChunkStore, error) {
	if len(chunks) == 0 {
		return nil, rerrors.BuildError("non_empty_corpus", "cannot build an index from zero chunks").
			WithIntDetail("corpus_size", 0)
	}

	cs := &ChunkStore{
		chunks:  make([]Chunk, len(chunks)),
		ordinal: make(map[string]int, len(chunks)),
	}
	copy(cs.chunks, chunks)

	for i, c := range cs.chunks {
		if err := c.validate(); err != nil {
			return nil, err.WithIntDetail("row", i).WithIntDetail("corpus_size", len(chunks))
		}
		if prev, dup := cs.ordinal[c.ChunkID]; dup {
			return nil, rerrors.BuildError("unique_chunk_id",
				fmt.Sprintf("duplicate chunk_id %q at rows %d and %d", c.ChunkID, prev, i)).
				WithIntDetail("row", i).
				WithIntDetail("corpus_size", len(chunks))
		}
		cs.ordinal[c.ChunkID] = i
	}

	return cs, nil
}

// Len returns the number of chunks.
func (cs *ChunkStore) Len() int { return len(cs.chunks) }

// At returns the chunk at ordinal i.
func (cs *ChunkStore) At(i int) Chunk { return cs.chunks[i] }

// Get looks a chunk up by id.
func (cs *ChunkStore) Get(id string) (Chunk, bool) {
	i, ok := cs.ordinal[id]
	if !ok {
		return Chunk{}, false
	}
	return cs.chunks[i], true
}

// Ordinal returns the build position of id.
func (cs *ChunkStore) Ordinal(id string) (int, bool) {
	i, ok := cs.ordinal[id]
	return i, ok
}

// IDs returns chunk ids in build order.
func (cs *ChunkStore) IDs() []string {
	ids := make([]string, len(cs.chunks))
	for i, c := range cs.chunks {
		ids[i] = c.ChunkID
	}
	return ids
}

// Texts returns chunk texts in build order.
func (cs *ChunkStore) Texts() []string {
	texts := make([]string, len(cs.chunks))
	for i, c := range cs.chunks {
		texts[i] = c.Text
	}
	return texts
}
