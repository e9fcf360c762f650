package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const maxWebResults = 5

// WebSearcher returns plain-text search results for a query.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// caller is the subset of the langchaingo tool the searcher uses.
type caller interface {
	Call(ctx context.Context, input string) (string, error)
}

// DuckDuckGo searches the web through langchaingo's DuckDuckGo tool and
// strips any markup from the results.
type DuckDuckGo struct {
	client caller
	policy *bluemonday.Policy
}

// NewDuckDuckGo creates a web searcher.
func NewDuckDuckGo() (*DuckDuckGo, error) {
	ddg, err := duckduckgo.New(maxWebResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("create duckduckgo tool: %w", err)
	}
	return &DuckDuckGo{client: ddg, policy: bluemonday.StrictPolicy()}, nil
}

// Search runs the query and returns one entry per result.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	raw, err := d.client.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return splitResults(raw, d.policy), nil
}

// splitResults breaks the tool's blank-line separated output into
// sanitized entries.
func splitResults(raw string, policy *bluemonday.Policy) []string {
	var out []string
	for _, block := range strings.Split(raw, "\n\n") {
		text := strings.TrimSpace(policy.Sanitize(block))
		if text == "" {
			continue
		}
		out = append(out, text)
		if len(out) == maxWebResults {
			break
		}
	}
	return out
}
