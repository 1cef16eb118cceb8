// Package translate calls an external translation service, splitting
// oversized inputs and reassembling the parts.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/models"
)

const (
	// Inputs longer than this are split and translated part by part.
	defaultSplitThreshold = 4000
	defaultHTTPTimeout    = 30 * time.Second
)

// Result is one translation with the language the service detected.
type Result struct {
	Text           string
	SourceLanguage string
}

// Client talks to the translation service.
type Client struct {
	baseURL        string
	client         *http.Client
	splitThreshold int
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Client) { t.client = c }
}

func WithSplitThreshold(n int) Option {
	return func(t *Client) {
		if n > 0 {
			t.splitThreshold = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Client) { t.logger = l }
}

// NewClient creates a translation client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		client:         &http.Client{Timeout: defaultHTTPTimeout},
		splitThreshold: defaultSplitThreshold,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type translateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
	Source string `json:"source,omitempty"`
}

type translateResponse struct {
	Translation    string `json:"translation"`
	SourceLanguage string `json:"source_language"`
}

// Translate translates text into target. source may be empty for automatic
// detection. Inputs above the split threshold are divided at line boundaries,
// translated independently, and reassembled; if the service detects different
// source languages for different parts, the first detection wins and the
// disagreement is logged.
func (c *Client) Translate(ctx context.Context, text, target, source string) (*Result, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: empty target language", models.ErrValidation)
	}
	if len(text) <= c.splitThreshold {
		return c.translatePart(ctx, text, target, source)
	}

	parts := splitText(text, c.splitThreshold)
	var (
		b        strings.Builder
		detected string
	)
	for _, part := range parts {
		res, err := c.translatePart(ctx, part, target, source)
		if err != nil {
			return nil, err
		}
		if detected == "" {
			detected = res.SourceLanguage
		} else if res.SourceLanguage != "" && res.SourceLanguage != detected {
			c.logger.Warn("translation parts disagree on source language",
				zap.String("first", detected),
				zap.String("got", res.SourceLanguage))
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(res.Text)
	}
	return &Result{Text: b.String(), SourceLanguage: detected}, nil
}

func (c *Client) translatePart(ctx context.Context, text, target, source string) (*Result, error) {
	payload, err := json.Marshal(translateRequest{Text: text, Target: target, Source: source})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: translation: %v", models.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: translation status %d", models.ErrServiceUnavailable, resp.StatusCode)
	}
	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: translation: %v", models.ErrServiceUnavailable, err)
	}
	return &Result{Text: out.Translation, SourceLanguage: out.SourceLanguage}, nil
}

// splitText divides text into pieces of at most max bytes, preferring line
// boundaries and falling back to hard cuts for single oversized lines.
func splitText(text string, max int) []string {
	var parts []string
	var current strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > max {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, line[:max])
			line = line[max:]
		}
		if current.Len() > 0 && current.Len()+1+len(line) > max {
			parts = append(parts, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
