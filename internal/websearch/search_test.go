package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldSearch(t *testing.T) {
	require.True(t, ShouldSearch("search for rust web frameworks"))
	require.True(t, ShouldSearch("what's the latest news on the election"))
	require.True(t, ShouldSearch("bitcoin price today"))
	require.False(t, ShouldSearch("explain how goroutines work"))
	require.False(t, ShouldSearch("remind me to stretch"))
}

func TestExtractQuery(t *testing.T) {
	require.Equal(t, "rust web frameworks", ExtractQuery("search for rust web frameworks"))
	require.Equal(t, "the dentist on elm street", ExtractQuery("look up the dentist on elm street"))
	require.Equal(t, "grace hopper", ExtractQuery("who is Grace Hopper"))
	require.Equal(t, "berlin", ExtractQuery("weather in berlin"))
	// No pattern match falls back to the whole message.
	require.Equal(t, "latest kernel release", ExtractQuery("latest kernel release"))
}

func TestSearchDuckDuckGoInstantAnswers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "go programming", r.URL.Query().Get("q"))
		require.Equal(t, "PsychoPortal/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{
			"Heading": "Go (programming language)",
			"Abstract": "Go is a statically typed language designed at Google.",
			"AbstractURL": "https://en.wikipedia.org/wiki/Go",
			"RelatedTopics": [
				{"Text": "Goroutines are lightweight threads.", "FirstURL": "https://example.com/goroutines"},
				{"Text": ""},
				{"Text": "Channels connect goroutines.", "FirstURL": "https://example.com/channels"}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient("", nil)
	client.duckduckgoURL = server.URL + "/"

	results := client.Search(context.Background(), "go programming")
	require.Len(t, results, 3)
	require.Equal(t, "Go (programming language)", results[0].Title)
	require.Equal(t, "DuckDuckGo", results[0].Source)
	require.Equal(t, "Goroutines are lightweight threads.", results[1].Title)
	require.Equal(t, "Channels connect goroutines.", results[2].Title)
}

func TestSearchFallsBackToHTMLScrape(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Abstract": "", "RelatedTopics": []}`))
	}))
	defer api.Close()
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<div class="result">
				<a class="result__a" href="https://example.com/a">First Result</a>
				<div class="result__snippet">Snippet one.</div>
			</div>
			<div class="result">
				<a class="result__a" href="https://example.com/b">Second Result</a>
				<div class="result__snippet">Snippet two.</div>
			</div>
		</body></html>`))
	}))
	defer html.Close()

	client := NewClient("", nil)
	client.duckduckgoURL = api.URL + "/"
	client.duckduckgoHTMLURL = html.URL + "/"

	results := client.Search(context.Background(), "obscure query")
	require.Len(t, results, 2)
	require.Equal(t, "First Result", results[0].Title)
	require.Equal(t, "https://example.com/a", results[0].URL)
	require.Equal(t, "Snippet two.", results[1].Snippet)
}

func TestSearchBravePreferredWhenKeySet(t *testing.T) {
	brave := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sk-test", r.Header.Get("X-Subscription-Token"))
		_, _ = w.Write([]byte(`{"web": {"results": [
			{"title": "Brave Hit", "description": "From Brave.", "url": "https://example.com/brave"}
		]}}`))
	}))
	defer brave.Close()

	client := NewClient("sk-test", nil)
	client.braveURL = brave.URL

	results := client.Search(context.Background(), "anything")
	require.Len(t, results, 1)
	require.Equal(t, "Brave", results[0].Source)
	require.Equal(t, "Brave Hit", results[0].Title)
}

func TestSearchBraveErrorFallsBackToDuckDuckGo(t *testing.T) {
	brave := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer brave.Close()
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Heading": "Fallback", "Abstract": "DDG answer.", "AbstractURL": "https://example.com"}`))
	}))
	defer ddg.Close()

	client := NewClient("sk-test", nil)
	client.braveURL = brave.URL
	client.duckduckgoURL = ddg.URL + "/"

	results := client.Search(context.Background(), "anything")
	require.Len(t, results, 1)
	require.Equal(t, "Fallback", results[0].Title)
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Title: "One", Snippet: "first", URL: "https://a"},
		{Title: "Two"},
	}
	block := FormatResults(results, "test query")
	require.Contains(t, block, `WEB SEARCH: "test query"`)
	require.Contains(t, block, "[1] One")
	require.Contains(t, block, "    first")
	require.Contains(t, block, "    URL: https://a")
	require.Contains(t, block, "[2] Two")
	require.Contains(t, block, "cite sources where useful")
	require.Empty(t, FormatResults(nil, "x"))
}
