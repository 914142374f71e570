// Package modelcaller makes a single-shot OpenAI-compatible
// chat-completions call on behalf of the Agent Run-Loop, classifying
// every failure mode the loop's backoff and retry policy needs to tell
// apart.
package modelcaller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agorai/agorai/internal/bridgeerr"
)

// ChatMessage is one entry of the messages array sent to the
// chat-completions endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures a single CallModel invocation.
type Options struct {
	Endpoint  string
	Model     string
	APIKey    string
	TimeoutMs int
}

// Result is what a successful call returns.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	DurationMs       int64
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// CallModel builds POST <endpoint>/v1/chat/completions and classifies
// every failure exactly as the error taxonomy requires: transport
// failure -> NetworkError (via BridgeUnreachable), non-2xx ->
// ModelApiError, empty/missing content -> EmptyResponse, decode
// failure -> MalformedResponse.
func CallModel(ctx context.Context, messages []ChatMessage, opts Options) (Result, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{Model: opts.Model, Messages: messages, Stream: false})
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat request: %w", err)
	}

	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := opts.Endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{}, bridgeerr.Wrap(bridgeerr.KindBridgeUnreachable, "model endpoint unreachable", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	durationMs := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		prefix := string(respBody)
		if len(prefix) > 200 {
			prefix = prefix[:200]
		}
		return Result{}, bridgeerr.New(bridgeerr.KindModelAPI, fmt.Sprintf("model API error %d: %s", resp.StatusCode, prefix))
	}
	if readErr != nil {
		return Result{}, bridgeerr.Wrap(bridgeerr.KindMalformedResponse, "failed to read response body", readErr)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, bridgeerr.Wrap(bridgeerr.KindMalformedResponse, "failed to decode response JSON", err)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return Result{}, bridgeerr.New(bridgeerr.KindEmptyResponse, "model returned an empty response")
	}

	result := Result{Content: parsed.Choices[0].Message.Content, DurationMs: durationMs}
	if parsed.Usage != nil {
		result.PromptTokens = parsed.Usage.PromptTokens
		result.CompletionTokens = parsed.Usage.CompletionTokens
	}
	return result, nil
}
