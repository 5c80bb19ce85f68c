package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestyCaller performs webhook calls with a shared resty client and
// classifies the outcome for the retry policy: network failures and
// 5xx/429 responses are transient, 4xx responses and malformed URLs are
// permanent.
type RestyCaller struct {
	client *resty.Client
}

func NewRestyCaller(timeout time.Duration) *RestyCaller {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "connectflow")

	return &RestyCaller{client: client}
}

func (c *RestyCaller) Call(ctx context.Context, op HTTPOperation, token Token) (*Ack, error) {
	if _, err := url.ParseRequestURI(op.URL); err != nil {
		return nil, Permanentf("malformed webhook url %q: %w", op.URL, err)
	}

	request := c.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", token.String()).
		SetHeaders(op.Headers)

	if op.Method != http.MethodGet {
		request.SetBody(op.Payload)
	}

	response, err := request.Execute(op.Method, op.URL)
	if err != nil {
		return nil, Transientf("webhook call failed: %w", err)
	}

	status := response.StatusCode()

	switch {
	case status >= 200 && status < 300:
		return &Ack{
			Detail: map[string]any{
				"status_code": status,
				"body":        string(response.Body()),
			},
		}, nil
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, Transientf("webhook returned %d", status)
	default:
		return nil, Permanentf("webhook returned %d", status)
	}
}

var _ HTTPCaller = (*RestyCaller)(nil)

// NoopSender acknowledges sends without contacting a provider. Channel
// provider adapters replace it in production wiring.
type NoopSender struct{}

func (NoopSender) Send(_ context.Context, op SendOperation, token Token) (*Ack, error) {
	return &Ack{ProviderID: fmt.Sprintf("local-%s", token.String()), Detail: map[string]any{
		"contact_id": op.ContactID,
		"channel":    op.Channel,
	}}, nil
}
