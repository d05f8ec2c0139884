package models

import "time"

// BlockMeta carries provenance for a raw text block.
type BlockMeta struct {
	SourceFile  string    `json:"source_file"`
	ContentType string    `json:"content_type"`
	SHA1        string    `json:"sha1"`
	PageNo      int       `json:"page_no,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RawBlock is an immutable extracted text block produced by a DocumentParser.
type RawBlock struct {
	Text string    `json:"text"`
	Meta BlockMeta `json:"meta"`
}

// ChunkPayload locates a chunk within its source document. Chunks sharing a
// SHA1 form a dense, gap-free ChunkIndex sequence starting at 0.
type ChunkPayload struct {
	SourceFile string `json:"source_file"`
	SHA1       string `json:"sha1"`
	ChunkIndex int    `json:"chunk_index"`
	TokenLen   int    `json:"token_len"`
	PageNo     int    `json:"page_no,omitempty"`
}

// Chunk is a token-bounded slice of raw text with defined neighbor structure.
type Chunk struct {
	Text    string       `json:"text"`
	Payload ChunkPayload `json:"payload"`
}

// Ref returns the evidence pointer for this chunk.
func (c Chunk) Ref() EvidenceRef {
	return EvidenceRef{
		SourceFile: c.Payload.SourceFile,
		SHA1:       c.Payload.SHA1,
		ChunkIndex: c.Payload.ChunkIndex,
	}
}
