// Package websearch answers live-data questions with DuckDuckGo's instant
// answer API, falling back to scraping the HTML endpoint, with optional
// Brave Search when an API key is configured.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"psycho/internal/jsonx"
	"psycho/internal/logging"
)

const (
	defaultTimeout = 8 * time.Second
	userAgent      = "PsychoPortal/1.0"
	maxResults     = 5
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Source  string `json:"source"`
}

var searchQueryRes = []*regexp.Regexp{
	regexp.MustCompile(`\bsearch(?:\s+for)?\s+(.+)`),
	regexp.MustCompile(`\blook\s+up\s+(.+)`),
	regexp.MustCompile(`\bfind\s+(?:info(?:rmation)?\s+(?:about|on)\s+)?(.+)`),
	regexp.MustCompile(`\bwho\s+is\s+(.+)`),
	regexp.MustCompile(`\bwhere\s+is\s+(.+)`),
	regexp.MustCompile(`\bprice\s+of\s+(.+)`),
	regexp.MustCompile(`\bweather\s+(?:in\s+)?(.+)`),
}

var searchCommandRe = regexp.MustCompile(`\b(search|look up|google|bing|find info)\b`)

var liveKeywords = []string{
	"today", "current", "latest", "recent", "right now", "breaking",
	"news", "price", "weather", "stock", "trending", "2024", "2025", "2026",
}

// ShouldSearch reports whether a message likely needs live web data.
func ShouldSearch(message string) bool {
	msg := strings.ToLower(message)
	if searchCommandRe.MatchString(msg) {
		return true
	}
	for _, kw := range liveKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// ExtractQuery pulls the best search query out of a message, falling back
// to the message itself.
func ExtractQuery(message string) string {
	msg := strings.ToLower(message)
	for _, re := range searchQueryRes {
		if m := re.FindStringSubmatch(msg); m != nil {
			return truncateQuery(strings.TrimSpace(m[1]))
		}
	}
	return truncateQuery(strings.TrimSpace(message))
}

func truncateQuery(q string) string {
	return truncate(q, 200)
}

// Client runs searches. Brave is preferred when a key is set; DuckDuckGo
// needs no key.
type Client struct {
	httpClient *http.Client
	braveKey   string
	logger     logging.Logger

	// Overridable in tests.
	duckduckgoURL     string
	duckduckgoHTMLURL string
	braveURL          string
}

func NewClient(braveKey string, logger logging.Logger) *Client {
	return &Client{
		httpClient:        &http.Client{Timeout: defaultTimeout},
		braveKey:          braveKey,
		logger:            logging.OrNop(logger),
		duckduckgoURL:     "https://api.duckduckgo.com/",
		duckduckgoHTMLURL: "https://html.duckduckgo.com/html/",
		braveURL:          "https://api.search.brave.com/res/v1/web/search",
	}
}

// Search runs the query against the best available backend. A failed or
// empty Brave response falls through to DuckDuckGo.
func (c *Client) Search(ctx context.Context, query string) []Result {
	if c.braveKey != "" {
		if results := c.searchBrave(ctx, query); len(results) > 0 {
			return results
		}
	}
	results := c.searchDuckDuckGo(ctx, query)
	if len(results) == 0 {
		results = c.scrapeDuckDuckGo(ctx, query)
	}
	return results
}

type duckDuckGoResponse struct {
	Heading       string `json:"Heading"`
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (c *Client) searchDuckDuckGo(ctx context.Context, query string) []Result {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	body, err := c.get(ctx, c.duckduckgoURL+"?"+params.Encode(), nil)
	if err != nil {
		c.logger.Warn("duckduckgo search error: %v", err)
		return nil
	}

	var data duckDuckGoResponse
	if err := jsonx.Unmarshal(body, &data); err != nil {
		c.logger.Warn("duckduckgo decode error: %v", err)
		return nil
	}

	var results []Result
	if data.Abstract != "" {
		title := data.Heading
		if title == "" {
			title = "Overview"
		}
		results = append(results, Result{
			Title:   title,
			Snippet: truncate(data.Abstract, 500),
			URL:     data.AbstractURL,
			Source:  "DuckDuckGo",
		})
	}
	for i, topic := range data.RelatedTopics {
		if i >= 4 {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, Result{
			Title:   truncate(topic.Text, 80),
			Snippet: truncate(topic.Text, 350),
			URL:     topic.FirstURL,
			Source:  "DuckDuckGo",
		})
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// scrapeDuckDuckGo parses the HTML results page for queries the instant
// answer API has nothing on.
func (c *Client) scrapeDuckDuckGo(ctx context.Context, query string) []Result {
	body, err := c.get(ctx, c.duckduckgoHTMLURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		c.logger.Warn("duckduckgo html error: %v", err)
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		c.logger.Warn("duckduckgo html parse error: %v", err)
		return nil
	}

	var results []Result
	doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())
		if title == "" {
			return true
		}
		results = append(results, Result{
			Title:   truncate(title, 80),
			Snippet: truncate(snippet, 350),
			URL:     href,
			Source:  "DuckDuckGo",
		})
		return len(results) < maxResults
	})
	return results
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

func (c *Client) searchBrave(ctx context.Context, query string) []Result {
	params := url.Values{"q": {query}, "count": {"5"}}
	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": c.braveKey,
	}
	body, err := c.get(ctx, c.braveURL+"?"+params.Encode(), headers)
	if err != nil {
		c.logger.Warn("brave search error: %v", err)
		return nil
	}

	var data braveResponse
	if err := jsonx.Unmarshal(body, &data); err != nil {
		c.logger.Warn("brave decode error: %v", err)
		return nil
	}

	var results []Result
	for i, item := range data.Web.Results {
		if i >= maxResults {
			break
		}
		results = append(results, Result{
			Title:   item.Title,
			Snippet: truncate(item.Description, 400),
			URL:     item.URL,
			Source:  "Brave",
		})
	}
	return results
}

func (c *Client) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// FormatResults renders a search block for system prompt injection.
func FormatResults(results []Result, query string) string {
	if len(results) == 0 {
		return ""
	}
	lines := []string{fmt.Sprintf("\n─── WEB SEARCH: %q ───", query)}
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("\n[%d] %s", i+1, r.Title))
		if r.Snippet != "" {
			lines = append(lines, "    "+r.Snippet)
		}
		if r.URL != "" {
			lines = append(lines, "    URL: "+r.URL)
		}
	}
	lines = append(lines, "──────────────────────────────────────────────")
	lines = append(lines, "Incorporate the above into your answer and cite sources where useful.")
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
