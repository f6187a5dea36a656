package providers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-voice-cache/types"
	"github.com/saiset-co/sai-voice-cache/utils"
)

const defaultSynthesisTimeout = 15 * time.Second

type synthesisRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Format  string `json:"format"`
	Engine  string `json:"engine"`
}

// HTTPSynthesisProvider speaks to a speech synthesis HTTP service. A
// 4xx response is a fatal request error and never retried elsewhere; a
// 5xx or transport error is transient and drives the health machinery.
type HTTPSynthesisProvider struct {
	logger   types.Logger
	client   *fasthttp.Client
	endpoint string
	timeout  time.Duration
}

func NewHTTPSynthesisProvider(logger types.Logger, endpoint string, timeout time.Duration) *HTTPSynthesisProvider {
	if timeout <= 0 {
		timeout = defaultSynthesisTimeout
	}

	return &HTTPSynthesisProvider{
		logger: logger,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		endpoint: endpoint,
		timeout:  timeout,
	}
}

func (p *HTTPSynthesisProvider) Synthesize(ctx context.Context, text, voiceID, format, engine string) ([]byte, error) {
	body, err := utils.Marshal(synthesisRequest{
		Text:    text,
		VoiceID: voiceID,
		Format:  format,
		Engine:  engine,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to encode synthesis request")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.endpoint + "/synthesize")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := p.do(ctx, req, resp); err != nil {
		return nil, types.WrapError(types.ErrTransientDependency, err.Error())
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK:
		payload := make([]byte, len(resp.Body()))
		copy(payload, resp.Body())
		return payload, nil
	case status >= 400 && status < 500:
		p.logger.Error("Synthesis request rejected",
			zap.Int("status", status),
			zap.String("voice_id", voiceID))
		return nil, types.Errorf(types.ErrFatalDependency, "synthesis rejected with status %d", status)
	default:
		return nil, types.Errorf(types.ErrTransientDependency, "synthesis failed with status %d", status)
	}
}

func (p *HTTPSynthesisProvider) Ping(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.endpoint + "/health")
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := p.do(ctx, req, resp); err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return types.Errorf(types.ErrTransientDependency, "synthesis health returned %d", resp.StatusCode())
	}

	return nil
}

// do bounds the request with the shorter of the provider timeout and
// the caller's context deadline.
func (p *HTTPSynthesisProvider) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	return p.client.DoTimeout(req, resp, timeout)
}
