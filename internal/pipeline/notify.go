package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/webhook"
)

const notifyTimeout = 30 * time.Second

// emit tells the observer and fires the matching on_<event> webhook. Delivery
// runs in the background and never affects the execution.
func (x *Executor) emit(def *types.Definition, event string, exec *types.Execution) {
	if x.opts.Observer != nil {
		x.opts.Observer(event, exec.Clone())
	}
	if def == nil || x.hooks == nil {
		return
	}
	spec := def.Webhooks.For("on_" + event)
	if spec == nil {
		return
	}

	req, err := x.webhookRequest(spec, event, exec)
	if err != nil {
		x.logger.Warn("building pipeline webhook failed", "execution", exec.ID, "event", event, "error", err)
		return
	}
	x.notify.Add(1)
	go func() {
		defer x.notify.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if _, err := x.hooks.Do(ctx, req); err != nil {
			x.logger.Warn("pipeline webhook failed", "execution", exec.ID, "event", event, "url", req.URL, "error", err)
		}
	}()
}

// Wait blocks until in-flight webhook deliveries finish.
func (x *Executor) Wait() {
	x.notify.Wait()
}

func (x *Executor) webhookRequest(spec *types.WebhookSpec, event string, exec *types.Execution) (webhook.Request, error) {
	fields := map[string]any{
		"event":        event,
		"execution_id": exec.ID,
		"pipeline":     exec.Pipeline,
		"status":       string(exec.Status),
		"error":        exec.Error,
	}
	if pa := exec.PendingApproval; pa != nil {
		fields["step_id"] = pa.StepID
		fields["resume_token"] = pa.ResumeToken
		fields["message"] = pa.Message
	}
	ctx := condition.Chain{condition.MapContext(fields), x.evalContext(exec)}

	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		headers[k] = x.eval.RenderRefs(v, ctx)
	}

	var body []byte
	switch p := x.eval.EvalRefs(spec.Payload, ctx).(type) {
	case nil:
		b, err := json.Marshal(fields)
		if err != nil {
			return webhook.Request{}, err
		}
		body = b
	case string:
		body = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return webhook.Request{}, err
		}
		body = b
	}

	return webhook.Request{
		URL:     x.eval.RenderRefs(spec.URL, ctx),
		Method:  spec.Method,
		Headers: headers,
		Body:    body,
	}, nil
}
