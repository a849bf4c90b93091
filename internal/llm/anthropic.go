package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/studyhall/tutor-agent/internal/httpkit"
	"github.com/studyhall/tutor-agent/internal/transcript"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"

	defaultMaxTokens = 8192
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Model responses can take significant time before headers arrive
	// (long prompts, thinking). Use a transport with a generous response
	// header timeout and no overall client timeout; callers control
	// cancellation through ctx.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		apiURL: anthropicAPIURL,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Chat sends one Messages API request and returns the assistant reply.
func (c *AnthropicClient) Chat(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	wireReq := anthropicRequest{
		Model:     req.Model,
		Messages:  convertToAnthropic(req.Turns),
		System:    req.System,
		MaxTokens: maxTokens,
		Tools:     convertToolsToAnthropic(req.Tools),
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(wireReq.Messages),
		"tools", len(wireReq.Tools),
		"system_len", len(req.System),
	)

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		c.logger.Error("API error", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", httpResp.StatusCode, errBody)
	}

	var wireResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	resp := convertFromAnthropic(&wireResp)

	c.logger.Debug("response received",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Turn.ToolCalls()),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", resp.Turn.Text())

	return resp, nil
}

// Ping checks if the Anthropic API is reachable. There is no dedicated
// health endpoint, so a minimal one-token request verifies the API key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	req := anthropicRequest{
		Model:     "claude-sonnet-4-20250514",
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", httpResp.StatusCode)
	}
	return nil
}

// convertToAnthropic converts transcript turns to Anthropic messages.
// A turn that is a single text item becomes a plain string message; mixed
// turns become content block lists. The API rejects consecutive messages
// with the same role (a turn-budget stop followed by a student message
// produces two user turns in a row), so adjacent same-role turns are
// merged into one block-list message.
func convertToAnthropic(turns []transcript.Turn) []anthropicMessage {
	var result []anthropicMessage

	for _, turn := range turns {
		blocks := turnBlocks(turn)

		if n := len(result); n > 0 && result[n-1].Role == string(turn.Role) {
			result[n-1].Content = append(asBlocks(result[n-1].Content), blocks...)
			continue
		}

		if len(blocks) == 1 && blocks[0].Type == "text" {
			result = append(result, anthropicMessage{
				Role:    string(turn.Role),
				Content: blocks[0].Text,
			})
			continue
		}
		result = append(result, anthropicMessage{
			Role:    string(turn.Role),
			Content: blocks,
		})
	}

	return result
}

func turnBlocks(turn transcript.Turn) []anthropicContent {
	var blocks []anthropicContent
	for _, it := range turn.Items {
		switch it.Type {
		case transcript.ItemText:
			if it.Text != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: it.Text})
			}
		case transcript.ItemToolCall:
			input := it.ToolCall.Input
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropicContent{
				Type:  "tool_use",
				ID:    it.ToolCall.ID,
				Name:  it.ToolCall.Name,
				Input: input,
			})
		case transcript.ItemToolResult:
			blocks = append(blocks, anthropicContent{
				Type:      "tool_result",
				ToolUseID: it.ToolResult.CallID,
				Content:   it.ToolResult.Content,
			})
		}
	}
	return blocks
}

func asBlocks(content any) []anthropicContent {
	switch v := content.(type) {
	case string:
		return []anthropicContent{{Type: "text", Text: v}}
	case []anthropicContent:
		return v
	}
	return nil
}

// convertToolsToAnthropic converts registry tool definitions
// ({name, description, input_schema}) to the wire type.
func convertToolsToAnthropic(tools []map[string]any) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	var result []anthropicTool
	for _, tool := range tools {
		name, _ := tool["name"].(string)
		desc, _ := tool["description"].(string)
		schema := tool["input_schema"]
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        name,
			Description: desc,
			InputSchema: schema,
		})
	}
	return result
}

// convertFromAnthropic converts an Anthropic response to the neutral form.
func convertFromAnthropic(resp *anthropicResponse) *Response {
	var items []transcript.Item

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			items = append(items, transcript.TextItem(block.Text))
		case "tool_use":
			input, ok := block.Input.(map[string]any)
			if !ok {
				input = map[string]any{}
			}
			items = append(items, transcript.ToolCallItem(block.ID, block.Name, input))
		}
	}

	return &Response{
		Turn:         transcript.AssistantTurn(items...),
		StopReason:   StopReason(resp.StopReason),
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
