package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/Mikee100/SaaS-backend-sub002/internal/events"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/logger"
	"github.com/Mikee100/SaaS-backend-sub002/pkg/prom"
	"github.com/valyala/fasthttp"
)

const dispatchTimeout = time.Second * 5

// WebhookDispatcher POSTs event envelopes to every configured observer URL.
// A delivery counts as dispatched only when all observers accepted it, so a
// partially delivered event is retried against all of them. Observers must
// tolerate duplicates.
type WebhookDispatcher struct {
	urls   []string
	client *fasthttp.Client
}

func NewWebhookDispatcher(urls []string) *WebhookDispatcher {
	return &WebhookDispatcher{
		urls: urls,
		client: &fasthttp.Client{
			MaxConnsPerHost: 64,
			ReadTimeout:     dispatchTimeout,
			WriteTimeout:    dispatchTimeout,
		},
	}
}

func (w *WebhookDispatcher) Dispatch(ctx context.Context, d *events.Delivery) error {
	env, err := d.Envelope()
	if err != nil {
		// A malformed event never becomes well-formed on retry.
		logger.Error("Dropping malformed event", "id", d.ID, "error", err)
		prom.IncEventFanout("unknown", "malformed")
		return nil
	}

	if len(w.urls) == 0 {
		prom.IncEventFanout(string(env.Type), "no_observers")
		return nil
	}

	var firstErr error
	for _, url := range w.urls {
		if err := w.post(url, d.Data, env); err != nil {
			logger.Warn("Observer rejected event", "url", url, "type", env.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		prom.IncEventFanout(string(env.Type), "failed")
		return firstErr
	}

	prom.IncEventFanout(string(env.Type), "delivered")
	return nil
}

func (w *WebhookDispatcher) post(url string, body []byte, env *events.Envelope) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Event-Type", string(env.Type))
	req.SetBody(body)

	if err := w.client.DoDeadline(req, resp, time.Now().Add(dispatchTimeout)); err != nil {
		return fmt.Errorf("observer unreachable: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("observer returned status %d", resp.StatusCode())
	}

	return nil
}
