package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rlg/internal/domain"
)

// Ollama talks to a local Ollama server over its native /api/generate
// endpoint. Transient transport failures are retried with exponential
// backoff; a service that stays unreachable surfaces as
// domain.ErrGenerationUnavailable so callers can shape a proper
// "cannot answer" response instead of a raw transport error.
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	client      *http.Client
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllama creates a generation gateway against baseURL (default
// http://localhost:11434).
func NewOllama(baseURL, model string, temperature float64, maxTokens int, timeout time.Duration, maxRetries int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		maxRetries:  maxRetries,
		client:      &http.Client{Timeout: timeout},
	}
}

// Generate returns the complete answer for the prompt.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := o.withRetry(ctx, func() error {
		resp, err := o.post(ctx, prompt, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response: %v", domain.ErrGenerationUnavailable, err)
		}

		var gr generateResponse
		if err := json.Unmarshal(body, &gr); err != nil {
			return backoff.Permanent(fmt.Errorf("parse generation response: %w", err))
		}
		if gr.Error != "" {
			return backoff.Permanent(fmt.Errorf("generation error: %s", gr.Error))
		}
		out = gr.Response
		return nil
	})
	return out, err
}

// Stream invokes fn for each raw fragment as it arrives. Transport
// failures are retried only while nothing has been delivered yet; once fn
// has seen a fragment, a broken stream fails the call instead of
// replaying fragments the caller already consumed.
func (o *Ollama) Stream(ctx context.Context, prompt string, fn func(fragment string) error) error {
	delivered := false
	return o.withRetry(ctx, func() error {
		resp, err := o.post(ctx, prompt, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var gr generateResponse
			if err := json.Unmarshal(line, &gr); err != nil {
				return backoff.Permanent(fmt.Errorf("parse stream line: %w", err))
			}
			if gr.Error != "" {
				return backoff.Permanent(fmt.Errorf("generation error: %s", gr.Error))
			}
			if gr.Response != "" {
				if err := fn(gr.Response); err != nil {
					return backoff.Permanent(err)
				}
				delivered = true
			}
			if gr.Done {
				return nil
			}
		}
		err = scanner.Err()
		if err != nil {
			err = fmt.Errorf("%w: read stream: %v", domain.ErrGenerationUnavailable, err)
		} else {
			// The connection closed without a done marker.
			err = fmt.Errorf("%w: stream ended early", domain.ErrGenerationUnavailable)
		}
		if delivered {
			return backoff.Permanent(err)
		}
		return err
	})
}

// ModelName returns the name of the generation model.
func (o *Ollama) ModelName() string {
	return o.model
}

func (o *Ollama) post(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	options := map[string]interface{}{
		"temperature": o.temperature,
	}
	if o.maxTokens > 0 {
		options["num_predict"] = o.maxTokens
	}

	reqBody := generateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  stream,
		Options: options,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal generation request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create generation request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		// A canceled request is the caller's deadline, not an outage.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: generation API returned status %d: %s", domain.ErrGenerationUnavailable, resp.StatusCode, string(body))
		}
		return nil, backoff.Permanent(fmt.Errorf("generation API returned status %d: %s", resp.StatusCode, string(body)))
	}
	return resp, nil
}

// withRetry classifies nothing itself: the op wraps transport-level
// failures with ErrGenerationUnavailable and marks everything
// non-retryable as permanent. backoff.Retry unwraps permanent errors, so
// the op's classification is exactly what callers see.
func (o *Ollama) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(o.maxRetries)), ctx)
	return backoff.Retry(op, policy)
}
