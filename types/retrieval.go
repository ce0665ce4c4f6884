package types

// ChunkContext is one retrieved span of document text together with its
// document association and similarity score. Immutable once produced by
// retrieval. Higher score means more relevant; the score is not guaranteed
// to be bounded to [0,1] across vector store backends.
type ChunkContext struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// ChunkRef is a compact chunk reference used in intermediate tool frames,
// where carrying the full chunk text would bloat the event payload.
type ChunkRef struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
}

// Ref returns the compact reference for a chunk.
func (c ChunkContext) Ref() ChunkRef {
	return ChunkRef{ChunkID: c.ChunkID, DocumentID: c.DocumentID}
}

// RetrievalResult is the merged outcome of one retrieval call across all
// language variants.
//
// Invariants:
//   - Chunks is sorted by descending Score; ties keep discovery order, so a
//     chunk found by an earlier-processed language variant precedes one found
//     later.
//   - DocumentIDs is the set of all chunk DocumentIDs, in first-seen order.
type RetrievalResult struct {
	DocumentIDs []string       `json:"document_ids"`
	Chunks      []ChunkContext `json:"chunks"`
}

// Empty reports whether the result carries no documents and no chunks.
func (r RetrievalResult) Empty() bool {
	return len(r.DocumentIDs) == 0 && len(r.Chunks) == 0
}
