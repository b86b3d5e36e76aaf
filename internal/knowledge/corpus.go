package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxChunkRunes bounds a chunk so a handful of retrieved chunks fit
// comfortably in one generation prompt.
const maxChunkRunes = 1200

// Chunk is a retrievable unit of reference text. Chunks are immutable after
// the index is built; Score is only populated on retrieval results.
type Chunk struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Ordinal int     `json:"ordinal"`
	Text    string  `json:"text"`
	Score   float64 `json:"score,omitempty"`
}

// LoadCorpus parses the fixed set of reference documents under dir into
// chunks. Only .txt and .md files are considered.
func LoadCorpus(dir string) ([]Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var chunks []Chunk
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus document %s: %w", entry.Name(), err)
		}

		for i, text := range splitDocument(string(raw)) {
			chunks = append(chunks, Chunk{
				ID:      fmt.Sprintf("%s#%d", entry.Name(), i),
				Source:  entry.Name(),
				Ordinal: i,
				Text:    text,
			})
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("corpus directory %s contains no usable documents", dir)
	}
	return chunks, nil
}

// splitDocument packs paragraphs into chunks of at most maxChunkRunes.
// Paragraph boundaries are preserved; a single oversized paragraph becomes
// its own chunk rather than being split mid-sentence.
func splitDocument(text string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	var chunks []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(p)) > maxChunkRunes {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
