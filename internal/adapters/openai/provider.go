// Package openai implements the provider contract against the OpenAI
// chat completions API and the services that speak its wire format:
// Azure OpenAI deployments and local Ollama endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yukin371/palaver/internal/core"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	ollamaBaseURL  = "http://localhost:11434/v1"
)

// Provider talks to one chat-completions endpoint. The zero value is not
// usable; construct through New, NewAzure, or NewOllama.
type Provider struct {
	name    string
	model   string
	url     string
	headers map[string]string
	client  *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the provider at a different API root, for proxies
// or self-hosted compatible services.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.url = baseURL + "/chat/completions"
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a provider against the OpenAI API.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		name:  "openai",
		model: model,
		url:   defaultBaseURL + "/chat/completions",
		headers: map[string]string{
			"Authorization": "Bearer " + apiKey,
		},
		client: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAzure creates a provider against an Azure OpenAI deployment. The
// deployment name takes the place of the model.
func NewAzure(endpoint, deployment, apiVersion, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		name:  "azure-openai",
		model: deployment,
		url: fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			endpoint, deployment, apiVersion),
		headers: map[string]string{
			"api-key": apiKey,
		},
		client: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOllama creates a provider against a local Ollama instance, which
// serves the same wire format without authentication.
func NewOllama(model string, opts ...Option) *Provider {
	p := &Provider{
		name:    "ollama",
		model:   model,
		url:     ollamaBaseURL + "/chat/completions",
		headers: map[string]string{},
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name identifies the backend.
func (p *Provider) Name() string { return p.name }

// Model returns the configured model or deployment name.
func (p *Provider) Model() string { return p.model }

// Perform sends a non-streaming completion request and returns the raw
// response body.
func (p *Provider) Perform(ctx context.Context, req core.Request) (*core.RawResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &core.RawResponse{Raw: body}, nil
}

// PerformStream sends a streaming completion request and returns the SSE
// chunk stream.
func (p *Provider) PerformStream(ctx context.Context, req core.Request) (core.ChunkStream, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body), nil
}

func (p *Provider) post(ctx context.Context, req core.Request, stream bool) (*http.Response, error) {
	body, err := p.buildRequest(req, stream)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, string(errBody))
	}
	return resp, nil
}

func (p *Provider) buildRequest(req core.Request, stream bool) ([]byte, error) {
	messages, err := asMessages(req.Turns)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"model":    p.model,
		"messages": messages,
		"stream":   stream,
	}
	if stream {
		// Without this the final chunk carries no usage block.
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}

	if req.Output != nil {
		// Structured output and tool calling are mutually exclusive on
		// this API; the output schema wins for the extraction round.
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":        req.Output.Name,
				"description": req.Output.Description,
				"schema":      req.Output.Schema,
				"strict":      true,
			},
		}
	} else if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		payload["tools"] = tools
	}

	return json.Marshal(payload)
}

// asMessages flattens turns into wire messages. A user turn containing
// tool results expands into one "tool" message per result, in content
// order, followed by a user message for whatever else the turn carries.
func asMessages(turns []*core.Turn) ([]map[string]any, error) {
	var messages []map[string]any
	for _, turn := range turns {
		switch turn.Role {
		case core.RoleSystem:
			messages = append(messages, map[string]any{
				"role":    "system",
				"content": turn.Text(),
			})
		case core.RoleAssistant:
			messages = append(messages, assistantMessage(turn))
		case core.RoleUser:
			expanded, err := userMessages(turn)
			if err != nil {
				return nil, err
			}
			messages = append(messages, expanded...)
		default:
			return nil, fmt.Errorf("unsupported turn role %q", turn.Role)
		}
	}
	return messages, nil
}

func assistantMessage(turn *core.Turn) map[string]any {
	msg := map[string]any{"role": "assistant"}
	var toolCalls []map[string]any
	for _, content := range turn.Contents {
		req, ok := content.(core.ToolRequest)
		if !ok {
			continue
		}
		args, err := json.Marshal(req.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		toolCalls = append(toolCalls, map[string]any{
			"id":   req.ID,
			"type": "function",
			"function": map[string]any{
				"name":      req.Name,
				"arguments": string(args),
			},
		})
	}
	if text := turn.Text(); text != "" || len(toolCalls) == 0 {
		msg["content"] = text
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return msg
}

func userMessages(turn *core.Turn) ([]map[string]any, error) {
	var messages []map[string]any
	var parts []map[string]any
	for _, content := range turn.Contents {
		switch v := content.(type) {
		case core.ToolResult:
			messages = append(messages, map[string]any{
				"role":         "tool",
				"content":      v.FinalValue(),
				"tool_call_id": v.ID,
			})
		case core.Text:
			parts = append(parts, map[string]any{"type": "text", "text": v.Text})
		case core.ImageRemote:
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": v.URL},
			})
		case core.ImageInline:
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", v.ContentType, v.Data),
				},
			})
		default:
			return nil, fmt.Errorf("unsupported user content type %T", content)
		}
	}
	if len(parts) > 0 {
		messages = append(messages, map[string]any{"role": "user", "content": parts})
	}
	return messages, nil
}
