package provider

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

// Observer receives the outcome of every provider API call.
type Observer func(provider entity.ProviderName, operation string, duration time.Duration, err error)

type errorDecoder func(statusCode int, body []byte) (code, message string)

type apiClient struct {
	provider entity.ProviderName
	baseURL  string
	client   *http.Client
	observer Observer
	decode   errorDecoder
}

type apiRequest struct {
	operation   string
	method      string
	path        string
	body        io.Reader
	contentType string
	headers     map[string]string
}

func (c *apiClient) do(ctx context.Context, req apiRequest, authorize func(*http.Request)) (body []byte, err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer(c.provider, req.operation, time.Since(start), err)
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, strings.TrimRight(c.baseURL, "/")+req.path, req.body)
	if err != nil {
		return nil, err
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for k, v := range req.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	if authorize != nil {
		authorize(httpReq)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, newTransportError(c.provider, req.operation, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError(c.provider, req.operation, err)
	}
	if resp.StatusCode >= 400 {
		code, message := c.decode(resp.StatusCode, body)
		return nil, newStatusError(c.provider, req.operation, resp.StatusCode, code, message)
	}

	return body, nil
}
