package notify

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-voice-cache/types"
	"github.com/saiset-co/sai-voice-cache/utils"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookPayload struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	SentAt  int64  `json:"sent_at"`
}

// WebhookChannel posts alerts to an HTTP endpoint, typically a chat or
// incident-management integration.
type WebhookChannel struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		client: &fasthttp.Client{
			ReadTimeout:  defaultWebhookTimeout,
			WriteTimeout: defaultWebhookTimeout,
		},
		url:     url,
		timeout: defaultWebhookTimeout,
	}
}

func (c *WebhookChannel) Publish(ctx context.Context, subject, message string) error {
	body, err := utils.Marshal(webhookPayload{
		Subject: subject,
		Message: message,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return types.WrapError(err, "failed to encode alert payload")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return types.WrapError(err, "failed to deliver alert")
	}

	if resp.StatusCode() >= 400 {
		return types.Errorf(types.ErrTransientDependency, "alert webhook returned %d", resp.StatusCode())
	}

	return nil
}
