package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/ragcore/types"
)

// BaseProvider 为 HTTP 嵌入提供者提供公共能力.
type BaseProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxBatch   int
}

// BaseConfig 基础提供者的公共配置.
type BaseConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
}

// NewBaseProvider 创建基础提供者.
func NewBaseProvider(cfg BaseConfig) *BaseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch == 0 {
		maxBatch = 100
	}
	return &BaseProvider{
		name:       cfg.Name,
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
	}
}

func (p *BaseProvider) Name() string      { return p.name }
func (p *BaseProvider) Dimensions() int   { return p.dimensions }
func (p *BaseProvider) MaxBatchSize() int { return p.maxBatch }

// DoRequest 执行 JSON HTTP 请求并映射错误。
// 传输层失败视为 PROVIDER_UNAVAILABLE（可重试）；调用方取消直接返回 ctx 错误。
func (p *BaseProvider) DoRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewProviderUnavailableError(p.name, err).
			WithHTTPStatus(http.StatusBadGateway)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody), p.name)
	}

	return respBody, nil
}

// mapHTTPError 映射 HTTP 状态码到 types.Error。
// 429/5xx 可重试；401/403 表示后端不可用但不重试；其余 4xx 为请求错误。
func mapHTTPError(status int, msg, provider string) *types.Error {
	var e *types.Error
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		e = types.NewError(types.ErrProviderUnavailable, msg).WithRetryable(true)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = types.NewError(types.ErrProviderUnavailable, msg)
	default:
		e = types.NewError(types.ErrInvalidRequest, msg)
	}
	return e.WithHTTPStatus(status).WithProvider(provider)
}

// checkVectors 校验返回条数与维度.
func checkVectors(provider string, vecs [][]float64, n, dim int) error {
	if len(vecs) != n {
		return types.NewError(types.ErrInternalError,
			fmt.Sprintf("%s returned %d embeddings for %d inputs", provider, len(vecs), n)).
			WithProvider(provider)
	}
	if dim <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dim {
			return types.NewDimensionMismatchError(fmt.Sprintf("%s[%d]", provider, i), dim, len(v))
		}
	}
	return nil
}
