package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "acne.md"), []byte(
		"Acne is a common skin condition where pores clog with oil and dead skin. "+
			"Treatment of acne usually starts with gentle cleansing.\n\n"+
			"Salicylic acid and benzoyl peroxide are common over-the-counter acne products."), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "keratosis.md"), []byte(
		"Keratosis pilaris causes rough bumps on the skin. "+
			"Moisturizers with urea help the keratosis condition."), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "milia.md"), []byte(
		"Milia are tiny white cysts of keratin under the skin. "+
			"Milia often clear without treatment; exfoliating products can help."), 0o644))

	return dir
}

func TestIndex_BuildAndRetrieve(t *testing.T) {
	corpusDir := writeCorpus(t)
	indexDir := t.TempDir()

	idx, err := Open(indexDir, corpusDir)
	require.NoError(t, err)
	defer idx.Close()

	chunks, err := idx.Retrieve(context.Background(), "Acne", 4)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.LessOrEqual(t, len(chunks), 4)

	// Best match comes from the acne document and scores are descending.
	require.Equal(t, "acne.md", chunks[0].Source)
	for i := 1; i < len(chunks); i++ {
		require.LessOrEqual(t, chunks[i].Score, chunks[i-1].Score)
	}
}

func TestIndex_KLimitsResults(t *testing.T) {
	corpusDir := writeCorpus(t)
	indexDir := t.TempDir()

	idx, err := Open(indexDir, corpusDir)
	require.NoError(t, err)
	defer idx.Close()

	chunks, err := idx.Retrieve(context.Background(), "Milia", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "milia.md", chunks[0].Source)
}

func TestIndex_LoadsPersistedIndexWithoutCorpus(t *testing.T) {
	corpusDir := writeCorpus(t)
	indexDir := t.TempDir()

	idx, err := Open(indexDir, corpusDir)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// The corpus is gone, so a second Open can only succeed by loading
	// the persisted index.
	require.NoError(t, os.RemoveAll(corpusDir))

	reopened, err := Open(indexDir, corpusDir)
	require.NoError(t, err)
	defer reopened.Close()

	chunks, err := reopened.Retrieve(context.Background(), "Keratosis", 4)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	require.Equal(t, "keratosis.md", chunks[0].Source)
}

func TestOpen_FailsWithoutIndexOrCorpus(t *testing.T) {
	_, err := Open(t.TempDir(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
