package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulsecrm/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type SendRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Body        string `json:"body,omitempty"`
	TemplateRef string `json:"template_ref,omitempty"`
}

type SendResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// Gateway is the outbound message collaborator. A provider rejection comes
// back as an unsuccessful result, not an error; errors are transport-level.
type Gateway interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

type httpGateway struct {
	baseURL string
	apiKey  string
	sender  string
	client  *http.Client
	logger  *zap.Logger
}

type GatewayParams struct {
	fx.In

	Config *config.Config
	Logger *zap.Logger
}

func NewGateway(p GatewayParams) Gateway {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpGateway{
		baseURL: strings.TrimSuffix(p.Config.Gateway.BaseURL, "/"),
		apiKey:  p.Config.Gateway.ApiKey,
		sender:  p.Config.Gateway.SenderNumber,
		client:  &http.Client{Timeout: p.Config.Gateway.Timeout},
		logger:  logger,
	}
}

type providerResponse struct {
	MessageID string `json:"message_id"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (g *httpGateway) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.From == "" {
		req.From = g.sender
	}

	payloadBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("apikey", g.apiKey)

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var provider providerResponse
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &provider); err != nil {
			g.logger.Warn("gateway returned unparseable body", zap.Int("status", resp.StatusCode))
		}
	}

	g.logger.Debug("gateway send",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := provider.ErrorCode
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return &SendResult{Success: false, ErrorCode: code}, nil
	}

	return &SendResult{Success: true, ProviderMessageID: provider.MessageID}, nil
}
