package service

import (
	"strings"
)

// ChunkConfig controls how document text is split for embedding.
type ChunkConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// TextChunk is one emitted segment with its position in the source text.
type TextChunk struct {
	Content    string
	ChunkIndex int
	StartChar  int
	EndChar    int
}

// ChunkText splits text into overlapping, ordered segments. Paragraphs are
// accumulated until adding the next one would exceed ChunkSize; the buffer is
// then emitted and the next buffer is seeded with an overlap tail from the
// end of the emitted chunk. A single paragraph longer than ChunkSize is
// emitted whole rather than subdivided. Pure function of its input.
func ChunkText(text string, cfg ChunkConfig) []TextChunk {
	if cfg.ChunkSize <= 0 {
		cfg = DefaultChunkConfig()
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	chunks := make([]TextChunk, 0, 8)
	buffer := ""
	start := 0

	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		end := start + len(content)
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, TextChunk{
			Content:    content,
			ChunkIndex: len(chunks),
			StartChar:  start,
			EndChar:    end,
		})
	}

	for _, para := range paragraphs {
		candidate := para
		if buffer != "" {
			candidate = buffer + "\n\n" + para
		}

		if len(candidate) > cfg.ChunkSize && buffer != "" {
			emitted := strings.TrimSpace(buffer)
			emit(emitted)

			tail := overlapTail(emitted, cfg.ChunkOverlap)
			// Offsets are approximate: the next chunk starts where the
			// overlap tail begins in the emitted chunk.
			start += len(emitted) - len(tail)
			if tail != "" {
				buffer = tail + "\n\n" + para
			} else {
				buffer = para
			}
		} else {
			buffer = candidate
		}
	}

	emit(buffer)

	return chunks
}

// splitParagraphs splits text on blank-line boundaries, dropping empty parts.
func splitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			paragraphs = append(paragraphs, part)
		}
	}
	return paragraphs
}

// overlapTail extracts the overlap seed from the end of an emitted chunk,
// preferring a sentence boundary when one falls in the second half of the
// tail.
func overlapTail(chunk string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	if len(chunk) <= overlap {
		return chunk
	}

	tail := chunk[len(chunk)-overlap:]
	if idx := strings.LastIndex(tail, ". "); idx > overlap/2 {
		return tail[idx+2:]
	}
	return tail
}
