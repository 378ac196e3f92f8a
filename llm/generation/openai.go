package generation

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

	"go.uber.org/zap"

	"github.com/BaSui01/ragcore/internal/ctxkeys"
	"github.com/BaSui01/ragcore/internal/tlsutil"
	"github.com/BaSui01/ragcore/types"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	chatCompletionsPath  = "/v1/chat/completions"
	systemPrompt         = "You answer questions using only the provided context. Cite sources by their bracketed number."
)

// OpenAIConfig OpenAI 兼容接口配置
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGenerator OpenAI 兼容的 chat completions 客户端
type OpenAIGenerator struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIGenerator 创建生成器。流式请求不设置整体超时，由 ctx 控制。
func NewOpenAIGenerator(cfg OpenAIConfig, logger *zap.Logger) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		cfg:    cfg,
		client: tlsutil.HTTPClient(0),
		logger: logger.With(zap.String("component", "generator"), zap.String("provider", string(ProviderOpenAI))),
	}
}

func (g *OpenAIGenerator) Name() string  { return string(ProviderOpenAI) }
func (g *OpenAIGenerator) Model() string { return g.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) newRequest(ctx context.Context, prompt string, stream bool) (*http.Request, error) {
	body := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Stream:      stream,
	}
	if sid, ok := ctxkeys.SessionID(ctx); ok {
		body.User = sid
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if rid, ok := ctxkeys.RequestID(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	return req, nil
}

// do 发送请求；传输错误与 4xx/5xx 统一映射为 PROVIDER_UNAVAILABLE
func (g *OpenAIGenerator) do(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, types.NewProviderUnavailableError(g.Name(), err).WithHTTPStatus(http.StatusBadGateway)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, types.NewError(types.ErrProviderUnavailable,
			fmt.Sprintf("generation failed: status=%d msg=%s", resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(retryable).
			WithProvider(g.Name())
	}
	return resp, nil
}

// Generate 非流式生成
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := g.newRequest(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	start := time.Now()
	resp, err := g.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewProviderUnavailableError(g.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", types.NewError(types.ErrProviderUnavailable, "generation returned no choices").WithProvider(g.Name())
	}
	g.logger.Debug("generation completed",
		zap.String("model", g.cfg.Model),
		zap.Duration("latency", time.Since(start)),
		zap.String("finish_reason", out.Choices[0].FinishReason))
	return out.Choices[0].Message.Content, nil
}

// GenerateStream 流式生成（SSE）
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, error) {
	req, err := g.newRequest(ctx, prompt, true)
	if err != nil {
		return nil, err
	}
	resp, err := g.do(req)
	if err != nil {
		return nil, err
	}
	return streamSSE(ctx, resp.Body, g.Name()), nil
}

// streamSSE 解析 "data: {...}" 行直到 [DONE]
func streamSSE(ctx context.Context, body io.ReadCloser, provider string) <-chan Fragment {
	ch := make(chan Fragment)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(f Fragment) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- f:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					send(Fragment{Done: true})
				} else if ctx.Err() == nil {
					send(Fragment{Err: types.NewProviderUnavailableError(provider, err)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				send(Fragment{Done: true})
				return
			}
			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(Fragment{Err: types.NewProviderUnavailableError(provider, fmt.Errorf("decode stream chunk: %w", err))})
				return
			}
			for _, c := range chunk.Choices {
				if c.Delta.Content == "" {
					continue
				}
				if !send(Fragment{Text: c.Delta.Content}) {
					return
				}
			}
		}
	}()
	return ch
}
