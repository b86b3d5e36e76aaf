package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skinsight/skinsight-api/internal/classifier"
	apperrors "github.com/skinsight/skinsight-api/internal/errors"
	"github.com/skinsight/skinsight-api/internal/knowledge"
	"github.com/skinsight/skinsight-api/internal/store"
)

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	return f.data, f.err
}

type fakeClassifier struct {
	result classifier.Result
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, t *classifier.Tensor) (classifier.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeClassifier) Labels() []string {
	return []string{"Acne", "Keratosis", "Milia"}
}

type fakeRetriever struct {
	chunks []knowledge.Chunk
	err    error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, label string, k int) ([]knowledge.Chunk, error) {
	return f.chunks, f.err
}

type fakeGenerator struct {
	text     string
	err      error
	calls    int
	passages []string
}

func (f *fakeGenerator) Generate(ctx context.Context, label string, passages []string) (string, error) {
	f.calls++
	f.passages = passages
	return f.text, f.err
}

type fakeResults struct {
	upserts []store.SessionResult
	err     error
}

func (f *fakeResults) UpsertResult(sessionID string, result store.SessionResult) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, result)
	return nil
}

func imageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testPipeline(t *testing.T) (*Pipeline, *fakeClassifier, *fakeGenerator, *fakeResults) {
	t.Helper()
	cls := &fakeClassifier{result: classifier.Result{Label: "Acne", Confidence: 0.91}}
	gen := &fakeGenerator{text: "Use a gentle cleanser."}
	results := &fakeResults{}
	p := New(Params{
		Fetcher:    &fakeFetcher{data: imageBytes(t)},
		Classifier: cls,
		Retriever: &fakeRetriever{chunks: []knowledge.Chunk{
			{Text: "passage one"},
			{Text: "passage two"},
		}},
		Generator:  gen,
		Results:    results,
		ImageSize:  32,
		RetrievalK: 4,
	})
	return p, cls, gen, results
}

func TestRun_HappyPath(t *testing.T) {
	p, _, gen, results := testPipeline(t)

	result, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	require.Equal(t, "Acne", result.AcneType)
	require.Equal(t, float32(0.91), result.Confidence)
	require.Equal(t, "Use a gentle cleanser.", result.Recommendation)
	require.False(t, result.ClassifiedAt.IsZero())

	require.Len(t, results.upserts, 1)
	require.Equal(t, result, results.upserts[0])

	// Passages reach the generator in retrieval order.
	require.Equal(t, []string{"passage one", "passage two"}, gen.passages)
}

func TestRun_GeneratorFailureDegrades(t *testing.T) {
	p, _, gen, results := testPipeline(t)
	gen.err = apperrors.NewGenerationError("service down", nil)

	result, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	require.Equal(t, "Acne", result.AcneType)
	require.Empty(t, result.Recommendation)
	require.Len(t, results.upserts, 1)
}

func TestRun_RetrievalFailureSkipsGeneration(t *testing.T) {
	p, _, gen, results := testPipeline(t)
	p.retriever = &fakeRetriever{err: apperrors.NewRetrievalError("index gone", nil)}

	result, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	require.Empty(t, result.Recommendation)
	require.Zero(t, gen.calls)
	require.Len(t, results.upserts, 1)
}

func TestRun_NoRetrieverDegrades(t *testing.T) {
	p, _, gen, results := testPipeline(t)
	p.retriever = nil

	result, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	require.Equal(t, "Acne", result.AcneType)
	require.Empty(t, result.Recommendation)
	require.Zero(t, gen.calls)
	require.Len(t, results.upserts, 1)
}

func TestRun_FetchFailureAbortsBeforeClassifier(t *testing.T) {
	p, cls, _, results := testPipeline(t)
	p.fetcher = &fakeFetcher{err: apperrors.NewAcquisitionError(
		"failed to download image: status code 404", nil)}

	_, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.Error(t, err)
	require.Equal(t, apperrors.StageAcquisition, apperrors.StageOf(err))

	require.Zero(t, cls.calls)
	require.Empty(t, results.upserts, "nothing persisted on a fatal failure")
}

func TestRun_PayloadTooLargePropagates(t *testing.T) {
	p, cls, _, results := testPipeline(t)
	p.fetcher = &fakeFetcher{err: apperrors.NewPayloadTooLargeError("image exceeds limit", nil)}

	_, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.Error(t, err)
	require.Equal(t, http.StatusRequestEntityTooLarge, apperrors.GetStatusCode(err))
	require.Zero(t, cls.calls)
	require.Empty(t, results.upserts)
}

func TestRun_CorruptImageAbortsBeforeClassifier(t *testing.T) {
	p, cls, _, results := testPipeline(t)
	p.fetcher = &fakeFetcher{data: []byte("definitely not an image")}

	_, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.Error(t, err)
	require.Equal(t, apperrors.StageAcquisition, apperrors.StageOf(err))
	require.Zero(t, cls.calls)
	require.Empty(t, results.upserts)
}

func TestRun_ClassifierFailureAborts(t *testing.T) {
	p, cls, _, results := testPipeline(t)
	cls.err = errors.New("shape mismatch")

	_, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.Error(t, err)
	require.Equal(t, apperrors.StageClassification, apperrors.StageOf(err))
	require.Contains(t, err.Error(), "model failed to classify the image")
	require.Empty(t, results.upserts)
}

func TestRun_SessionNotFoundOnPersist(t *testing.T) {
	p, _, _, results := testPipeline(t)
	results.err = store.ErrSessionNotFound

	_, err := p.Run(context.Background(), "missing", "https://cdn.example.com/a.jpg")
	require.Error(t, err)
	require.Equal(t, apperrors.StagePersistence, apperrors.StageOf(err))
	require.Equal(t, http.StatusNotFound, apperrors.GetStatusCode(err))
}

func TestRun_FailedRunLeavesStoreUnchanged(t *testing.T) {
	sessions, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer sessions.Close()

	sess, err := sessions.CreateSession("user-1", "chin")
	require.NoError(t, err)

	prior := store.SessionResult{AcneType: "Keratosis", Confidence: 0.7}
	require.NoError(t, sessions.UpsertResult(sess.SessionID, prior))

	p, _, _, _ := testPipeline(t)
	p.results = sessions
	p.fetcher = &fakeFetcher{err: apperrors.NewAcquisitionError(
		"failed to download image: status code 404", nil)}

	_, err = p.Run(context.Background(), sess.SessionID, "https://cdn.example.com/gone.jpg")
	require.Error(t, err)

	// The prior result is still visible after the aborted run.
	latest, err := sessions.GetLatestResult(sess.SessionID)
	require.NoError(t, err)
	require.Equal(t, "Keratosis", latest.AcneType)
	require.Equal(t, float32(0.7), latest.Confidence)
}

func TestRun_LastWriteWinsAcrossRuns(t *testing.T) {
	p, cls, _, results := testPipeline(t)

	_, err := p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	cls.result = classifier.Result{Label: "Milia", Confidence: 0.55}
	_, err = p.Run(context.Background(), "sess-1", "https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	require.Len(t, results.upserts, 2)
	require.Equal(t, "Milia", results.upserts[1].AcneType)
}
