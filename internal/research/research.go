// Package research discovers item data on the web for task list
// construction: it searches for pages matching the user's query, pulls
// their text, and asks the LLM to extract the list of item names.
package research

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/jonathan/repetition-orchestrator/internal/fetch"
	"github.com/jonathan/repetition-orchestrator/internal/llm"
	"github.com/jonathan/repetition-orchestrator/internal/prompts"
)

// DefaultMaxPages caps how many search results are fetched per discovery.
const DefaultMaxPages = 3

// maxCorpusChars caps the text handed to the extraction model.
const maxCorpusChars = 60000

// Researcher handles external item discovery via Google Custom Search.
type Researcher struct {
	svc        *customsearch.Service
	cx         string
	client     llm.Client
	maxPages   int
	useBrowser bool
	verbose    bool
}

// Option customizes a Researcher.
type Option func(*Researcher)

// WithMaxPages sets how many search result pages are fetched.
func WithMaxPages(n int) Option {
	return func(r *Researcher) {
		if n > 0 {
			r.maxPages = n
		}
	}
}

// WithBrowser enables headless-browser rendering for JS-heavy pages.
func WithBrowser(enabled bool) Option {
	return func(r *Researcher) { r.useBrowser = enabled }
}

// WithVerbose enables debug output.
func WithVerbose(enabled bool) Option {
	return func(r *Researcher) { r.verbose = enabled }
}

// NewResearcher creates a new Researcher instance.
func NewResearcher(ctx context.Context, searchAPIKey, cx string, client llm.Client, opts ...Option) (*Researcher, error) {
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(searchAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	r := &Researcher{
		svc:      svc,
		cx:       cx,
		client:   client,
		maxPages: DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Items searches the web for the query, gathers page text, and extracts
// the ordered list of item names. It implements resolver.ItemSource.
func (r *Researcher) Items(ctx context.Context, query string) ([]string, error) {
	links, err := r.searchLinks(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("no search results found for %q", query)
	}

	corpus := r.buildCorpus(ctx, links)
	if strings.TrimSpace(corpus) == "" {
		return nil, fmt.Errorf("no page content could be fetched for %q", query)
	}

	return r.extractItems(ctx, query, corpus)
}

// searchLinks returns the top result links for the query.
func (r *Researcher) searchLinks(ctx context.Context, query string) ([]string, error) {
	resp, err := r.svc.Cse.List().Context(ctx).Cx(r.cx).Q(query).Num(int64(r.maxPages)).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var links []string
	seen := make(map[string]bool)
	for _, item := range resp.Items {
		if item.Link == "" || seen[item.Link] {
			continue
		}
		seen[item.Link] = true
		links = append(links, item.Link)
	}
	return links, nil
}

// buildCorpus fetches each link and concatenates the extracted text,
// skipping pages that fail to fetch.
func (r *Researcher) buildCorpus(ctx context.Context, links []string) string {
	var sb strings.Builder
	for _, link := range links {
		text, err := r.pageText(ctx, link)
		if err != nil {
			if r.verbose {
				fmt.Printf("Warning: skipping %s: %v\n", link, err)
			}
			continue
		}
		if r.verbose {
			fmt.Printf("Fetched %d chars from %s\n", len(text), ExtractDomain(link))
		}
		sb.WriteString(fmt.Sprintf("## Source: %s\n%s\n\n", link, text))
		if sb.Len() > maxCorpusChars {
			break
		}
	}
	corpus := sb.String()
	if len(corpus) > maxCorpusChars {
		corpus = corpus[:maxCorpusChars]
	}
	return corpus
}

func (r *Researcher) pageText(ctx context.Context, link string) (string, error) {
	result, err := fetch.URL(ctx, link, nil)
	if err != nil {
		return "", err
	}

	text, err := fetch.ExtractMainText(result.HTML, fetch.ListPageSelectors())
	if err != nil {
		return "", err
	}

	if r.useBrowser && fetch.ShouldUseBrowser(text) {
		html, berr := fetch.BrowserSimple(ctx, link, r.verbose)
		if berr == nil {
			if rendered, terr := fetch.ExtractMainText(html, fetch.ListPageSelectors()); terr == nil {
				text = rendered
			}
		}
	}

	return text, nil
}

// extractItems asks the LLM for the item names present in the corpus.
func (r *Researcher) extractItems(ctx context.Context, query, corpus string) ([]string, error) {
	template, err := prompts.Get("research.json", "extract-items")
	if err != nil {
		return nil, err
	}
	prompt := prompts.Format(template, map[string]string{
		"Query":  query,
		"Corpus": corpus,
	})

	raw, err := r.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, fmt.Errorf("item extraction failed: %w", err)
	}

	items, err := ParseItems(raw)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ExtractDomain strips scheme and path from a URL, returning the host.
func ExtractDomain(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "www.")
	if idx := strings.Index(url, "/"); idx >= 0 {
		return url[:idx]
	}
	return url
}
