package providers

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-voice-cache/types"
	"github.com/saiset-co/sai-voice-cache/utils"
)

const defaultEdgeTimeout = 10 * time.Second

type invalidateRequest struct {
	Path string `json:"path"`
}

// HTTPEdgeProvider asks the delivery edge to drop its cached copy of a
// path after the underlying audio changes.
type HTTPEdgeProvider struct {
	client   *fasthttp.Client
	endpoint string
	timeout  time.Duration
}

func NewHTTPEdgeProvider(endpoint string, timeout time.Duration) *HTTPEdgeProvider {
	if timeout <= 0 {
		timeout = defaultEdgeTimeout
	}

	return &HTTPEdgeProvider{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		endpoint: endpoint,
		timeout:  timeout,
	}
}

func (p *HTTPEdgeProvider) Invalidate(ctx context.Context, path string) error {
	body, err := utils.Marshal(invalidateRequest{Path: path})
	if err != nil {
		return types.WrapError(err, "failed to encode invalidation request")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.endpoint + "/invalidate")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := p.client.DoTimeout(req, resp, p.requestTimeout(ctx)); err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}

	if resp.StatusCode() >= 400 {
		return types.Errorf(types.ErrTransientDependency, "edge invalidation returned %d", resp.StatusCode())
	}

	return nil
}

func (p *HTTPEdgeProvider) Ping(ctx context.Context) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.endpoint + "/health")
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := p.client.DoTimeout(req, resp, p.requestTimeout(ctx)); err != nil {
		return types.WrapError(types.ErrTransientDependency, err.Error())
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return types.Errorf(types.ErrTransientDependency, "edge health returned %d", resp.StatusCode())
	}

	return nil
}

func (p *HTTPEdgeProvider) requestTimeout(ctx context.Context) time.Duration {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}
