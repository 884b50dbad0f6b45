package retriever

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain/ports"
	"conductor/internal/domain/task"
)

func TestHashEmbedderIsNormalizedAndStable(t *testing.T) {
	a, _ := HashEmbedder{}.Embed(context.Background(), "Release notes for the launch")
	b, _ := HashEmbedder{}.Embed(context.Background(), "release NOTES for the launch!")
	require.Len(t, a, hashDimensions)
	assert.Equal(t, a, b)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-4)
}

type countingEmbedder struct{ calls int }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return HashEmbedder{}.Embed(ctx, text)
}

func TestCachedEmbedder(t *testing.T) {
	base := &countingEmbedder{}
	cached, err := NewCachedEmbedder(base, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _ = cached.Embed(context.Background(), "same")
	}
	assert.Equal(t, 1, base.calls)
}

func TestVectorRetrieverIndexesAndRetrieves(t *testing.T) {
	r, err := NewVectorRetriever(Config{TopK: 2}, HashEmbedder{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	refs, err := r.Retrieve(ctx, ports.RetrievalQuery{Task: task.Task{Title: "anything"}})
	require.NoError(t, err)
	assert.Empty(t, refs, "empty store returns nothing")

	for _, a := range []ports.Artifact{
		{ID: "a1", TaskID: "t1", DirectiveID: "d", Text: "pricing table for the enterprise plan", CreatedAt: time.Now()},
		{ID: "a2", TaskID: "t2", DirectiveID: "d", Text: "launch announcement draft for the blog", CreatedAt: time.Now()},
		{ID: "a3", TaskID: "t3", DirectiveID: "d", Text: "   "},
	} {
		require.NoError(t, r.Index(ctx, a))
	}
	assert.Equal(t, 2, r.Count())

	refs, err = r.Retrieve(ctx, ports.RetrievalQuery{DirectiveID: "d", Task: task.Task{ID: "t9", Title: "blog launch announcement"}})
	require.NoError(t, err)
	require.NotEmpty(t, refs)
	assert.Equal(t, "a2", refs[0].ID)
	assert.Equal(t, "artifact:t2", refs[0].Source)
}

func TestWebRetrieverFetchesPayloadURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Spec</title><script>x()</script></head>
<body><nav>menu</nav><h1>Overview</h1><p>The   service exposes a queue.</p><ul><li>one</li></ul></body></html>`))
	}))
	defer srv.Close()

	w := NewWebRetriever(Noop{}, 0, srv.Client(), nil)
	refs, err := w.Retrieve(context.Background(), ports.RetrievalQuery{Task: task.Task{ID: "t", PayloadRef: srv.URL}})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Contains(t, refs[0].Content, "# Spec")
	assert.Contains(t, refs[0].Content, "The service exposes a queue.")
	assert.Contains(t, refs[0].Content, "- one")
	assert.False(t, strings.Contains(refs[0].Content, "menu"))

	refs, err = w.Retrieve(context.Background(), ports.RetrievalQuery{Task: task.Task{PayloadRef: "artifact-1"}})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestNewSelectsKind(t *testing.T) {
	r, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, r)

	r, err = New(Config{Kind: KindChromem, FetchURLs: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebRetriever{}, r)

	_, err = New(Config{Kind: "magic"}, nil)
	assert.Error(t, err)
}
