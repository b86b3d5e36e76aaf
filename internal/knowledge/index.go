package knowledge

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blugelabs/bluge"
	"github.com/sirupsen/logrus"

	"github.com/skinsight/skinsight-api/internal/logger"
)

// Index is a persisted similarity index over the reference corpus.
// It is read-only after Open and safe for concurrent retrieval.
type Index struct {
	reader *bluge.Reader
}

// Open loads the persisted index at indexDir, building it from corpusDir
// first when no index exists yet. The index and the corpus are versioned
// together: after editing the corpus, remove indexDir to force a rebuild.
func Open(indexDir, corpusDir string) (*Index, error) {
	if indexMissing(indexDir) {
		if err := build(indexDir, corpusDir); err != nil {
			return nil, fmt.Errorf("failed to build knowledge index: %w", err)
		}
	}

	reader, err := bluge.OpenReader(bluge.DefaultConfig(indexDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge index: %w", err)
	}
	return &Index{reader: reader}, nil
}

func indexMissing(indexDir string) bool {
	entries, err := os.ReadDir(indexDir)
	return err != nil || len(entries) == 0
}

func build(indexDir, corpusDir string) error {
	chunks, err := LoadCorpus(corpusDir)
	if err != nil {
		return err
	}

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(indexDir))
	if err != nil {
		return fmt.Errorf("failed to open index writer: %w", err)
	}
	defer writer.Close()

	batch := bluge.NewBatch()
	for _, c := range chunks {
		doc := bluge.NewDocument(c.ID)
		doc.AddField(bluge.NewTextField("text", c.Text).StoreValue())
		doc.AddField(bluge.NewKeywordField("source", c.Source).StoreValue())
		batch.Insert(doc)
	}
	if err := writer.Batch(batch); err != nil {
		return fmt.Errorf("failed to index corpus: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"chunks": len(chunks),
		"path":   indexDir,
	}).Info("Knowledge index built")
	return nil
}

// Retrieve returns at most k chunks relevant to the given condition label,
// ordered by descending similarity to a query synthesized from the label.
func (i *Index) Retrieve(ctx context.Context, label string, k int) ([]Chunk, error) {
	query := bluge.NewMatchQuery(queryText(label)).SetField("text")
	request := bluge.NewTopNSearch(k, query)

	iter, err := i.reader.Search(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}

	var chunks []Chunk
	match, err := iter.Next()
	for err == nil && match != nil {
		chunk := Chunk{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				chunk.ID = string(value)
			case "text":
				chunk.Text = string(value)
			case "source":
				chunk.Source = string(value)
			}
			return true
		})
		if visitErr != nil {
			return nil, fmt.Errorf("failed to load chunk fields: %w", visitErr)
		}
		chunk.Ordinal = ordinalFromID(chunk.ID)
		chunks = append(chunks, chunk)
		match, err = iter.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("index iteration failed: %w", err)
	}
	return chunks, nil
}

func (i *Index) Close() error {
	return i.reader.Close()
}

// queryText synthesizes the retrieval query for a condition label. The
// label alone is too sparse to rank treatment passages well.
func queryText(label string) string {
	return strings.ToLower(label) + " skin condition causes treatment skincare routine products"
}

func ordinalFromID(id string) int {
	_, suffix, ok := strings.Cut(id, "#")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return n
}
