package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rzbill/pulse/pkg/account"
)

// HTTPOptions configures an HTTP evaluator.
type HTTPOptions struct {
	// BaseURL serves GET {BaseURL}/accounts/{id} with a JSON object.
	BaseURL string
	// Rule decides eligibility. Without one the document's "eligible"
	// boolean is used.
	Rule *Rule
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// HTTP fetches an account document from an external service and applies a
// rule to it.
type HTTP struct {
	base   string
	rule   *Rule
	client *http.Client
}

// NewHTTP validates opts and returns an HTTP evaluator.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("evaluator: base url is required")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTP{base: strings.TrimRight(opts.BaseURL, "/"), rule: opts.Rule, client: client}, nil
}

func (h *HTTP) Evaluate(ctx context.Context, id account.ID) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/accounts/"+id.String(), nil)
	if err != nil {
		return Keep, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return Keep, fmt.Errorf("evaluator: fetch %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Keep, fmt.Errorf("evaluator: fetch %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Keep, fmt.Errorf("evaluator: decode %s: %w", id, err)
	}

	var ok bool
	if h.rule != nil {
		ok, err = h.rule.Eligible(id.String(), doc)
		if err != nil {
			return Keep, err
		}
	} else {
		flag, present := doc["eligible"].(bool)
		if !present {
			return Keep, fmt.Errorf("evaluator: %s: document has no boolean \"eligible\"", id)
		}
		ok = flag
	}
	if ok {
		return Keep, nil
	}
	return Drop, nil
}
