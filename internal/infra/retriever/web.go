package retriever

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"conductor/internal/domain/ports"
	"conductor/internal/shared/logging"
)

const maxPageBytes = 2 << 20

// WebRetriever fetches http(s) payload references and prepends the page text
// to the inner retriever's results.
type WebRetriever struct {
	inner     ports.Retriever
	client    *http.Client
	maxTokens int
	logger    logging.Logger
}

// NewWebRetriever wraps inner. A nil client uses a 20s timeout.
func NewWebRetriever(inner ports.Retriever, maxTokens int, client *http.Client, logger logging.Logger) *WebRetriever {
	if inner == nil {
		inner = Noop{}
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &WebRetriever{inner: inner, client: client, maxTokens: maxTokens, logger: logging.OrNop(logger)}
}

func (w *WebRetriever) Retrieve(ctx context.Context, query ports.RetrievalQuery) ([]ports.Reference, error) {
	refs, err := w.inner.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	ref := strings.TrimSpace(query.Task.PayloadRef)
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return refs, nil
	}
	page, err := w.fetch(ctx, ref)
	if err != nil {
		w.logger.Warn("fetch %s for task %s failed: %v", ref, query.Task.ID, err)
		return refs, nil
	}
	fetched := trimToBudget([]ports.Reference{{ID: ref, Source: ref, Content: page}}, w.maxTokens)
	return append(fetched, refs...), nil
}

func (w *WebRetriever) Index(ctx context.Context, artifact ports.Artifact) error {
	return w.inner.Index(ctx, artifact)
}

func (w *WebRetriever) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "conductor/1.0")
	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return strings.TrimSpace(string(body)), nil
	}
	return HTMLToText(string(body))
}

// HTMLToText extracts readable text from an HTML document.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside, iframe").Remove()

	var sb strings.Builder
	if title := strings.TrimSpace(doc.Find("title").Text()); title != "" {
		sb.WriteString("# " + title + "\n\n")
	}
	doc.Find("h1, h2, h3, p, li, pre").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			sb.WriteString("- ")
		}
		sb.WriteString(text + "\n")
	})
	return strings.TrimSpace(sb.String()), nil
}
