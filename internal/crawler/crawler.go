// Package crawler fetches a site's pages breadth-first and turns them into
// documents ready for indexing.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kotae-ai/kotae/internal/convert"
	"github.com/kotae-ai/kotae/internal/identity"
	"github.com/kotae-ai/kotae/internal/models"
)

const (
	defaultMaxDepth    = 2
	defaultMaxPages    = 50
	defaultFetchLimit  = 2 << 20 // bytes per page
	defaultHTTPTimeout = 15 * time.Second
)

// Crawler walks a link tree in waves: every page of one depth level is
// fetched concurrently and jointly awaited before the next level starts.
// A visited set guards against cycles, and a global page cap bounds the walk.
type Crawler struct {
	client   *http.Client
	maxDepth int
	maxPages int
	sameHost bool
	logger   *zap.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

func WithMaxDepth(d int) Option {
	return func(c *Crawler) {
		if d >= 0 {
			c.maxDepth = d
		}
	}
}

func WithMaxPages(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) { c.client = client }
}

// WithAnyHost lifts the restriction to the start page's host.
func WithAnyHost() Option {
	return func(c *Crawler) { c.sameHost = false }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// New creates a Crawler.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		maxDepth: defaultMaxDepth,
		maxPages: defaultMaxPages,
		sameHost: true,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type page struct {
	doc   *models.DocumentInput
	links []string
}

// Crawl fetches startURL and the pages it links to, breadth-first up to the
// configured depth and page cap. Fetch failures on non-root pages are logged
// and skipped; a failing root is an error.
func (c *Crawler) Crawl(ctx context.Context, startURL string) ([]*models.DocumentInput, error) {
	root, err := url.Parse(startURL)
	if err != nil || root.Scheme == "" || root.Host == "" {
		return nil, fmt.Errorf("%w: invalid start url %q", models.ErrValidation, startURL)
	}

	visited := map[string]bool{normalizeURL(root): true}
	wave := []string{root.String()}
	var docs []*models.DocumentInput

	for depth := 0; depth <= c.maxDepth && len(wave) > 0; depth++ {
		pages, err := c.fetchWave(ctx, wave, depth == 0)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, p := range pages {
			if p.doc != nil {
				docs = append(docs, p.doc)
			}
			for _, link := range p.links {
				u, err := url.Parse(link)
				if err != nil {
					continue
				}
				if c.sameHost && u.Host != root.Host {
					continue
				}
				key := normalizeURL(u)
				if visited[key] || len(visited) >= c.maxPages {
					continue
				}
				visited[key] = true
				next = append(next, u.String())
			}
		}
		wave = next
	}

	c.logger.Info("crawl finished",
		zap.String("start", startURL),
		zap.Int("pages", len(docs)))
	return docs, nil
}

// fetchWave launches one fetch per URL and waits for the whole wave.
func (c *Crawler) fetchWave(ctx context.Context, urls []string, isRoot bool) ([]*page, error) {
	var (
		mu    sync.Mutex
		pages []*page
		wg    sync.WaitGroup
	)
	errChan := make(chan error, len(urls))
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			p, err := c.fetchPage(ctx, u)
			if err != nil {
				if isRoot {
					errChan <- err
					return
				}
				c.logger.Warn("page fetch failed", zap.String("url", u), zap.Error(err))
				return
			}
			mu.Lock()
			pages = append(pages, p)
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}
	return pages, nil
}

func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text/plain") {
		return nil, fmt.Errorf("fetch %s: unsupported content type %s", pageURL, ct)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultFetchLimit))
	if err != nil {
		return nil, err
	}

	base := resp.Request.URL
	doc := &models.DocumentInput{
		ID:      identity.DocIDFromURL(base.String()),
		Title:   convert.HTMLTitle(body),
		URL:     base.String(),
		Content: convert.HTMLText(body),
		Format:  models.FormatLink,
	}
	return &page{doc: doc, links: extractLinks(body, base)}, nil
}

// extractLinks returns the absolute http(s) targets of all anchors, with
// fragments stripped.
func extractLinks(body []byte, base *url.URL) []string {
	tok := html.NewTokenizer(strings.NewReader(string(body)))
	var links []string
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tok.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := tok.TagAttr()
				if string(key) == "href" {
					if u := resolveLink(base, string(val)); u != "" {
						links = append(links, u)
					}
					break
				}
				if !more {
					break
				}
			}
		}
	}
}

func resolveLink(base *url.URL, href string) string {
	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func normalizeURL(u *url.URL) string {
	n := *u
	n.Fragment = ""
	return strings.TrimSuffix(n.String(), "/")
}
