package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/webhook"
)

func registerWebhookAction(r *Registry, d *Deps) error {
	return r.Register("webhook", d.sendWebhook)
}

// sendWebhook delivers an HTTP request, retrying per the retry block, and
// captures the response into variables:
//
//	on_stop:
//	  - action: webhook
//	    url: "https://ci.example.com/hooks/{{ session_id }}"
//	    payload: {step: "{{ current_step }}"}
//	    retry: {max_attempts: 3, backoff_seconds: 1, retry_on_status: [429, 503]}
//	    capture_response: {status_var: ci_status, json_paths: {build_id: data.id}}
//	    on_failure: notify_slack
//
// A failure with on_failure present counts as handled.
func (d *Deps) sendWebhook(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Webhooks == nil {
		return nil, fmt.Errorf("webhook client not configured")
	}
	url, err := args.Require("webhook", "url")
	if err != nil {
		return nil, err
	}

	req := webhook.Request{
		URL:     url,
		Method:  args.String("method"),
		Headers: stringMap(args.Map("headers")),
	}
	if body, ok := args["payload"]; ok && body != nil {
		switch b := body.(type) {
		case string:
			req.Body = []byte(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				return nil, argError("webhook", "payload", "is not JSON encodable: "+err.Error())
			}
			req.Body = data
		}
	}
	if retry := Args(args.Map("retry")); retry != nil {
		req.MaxAttempts = retry.Int("max_attempts", 0)
		if delay, ok := retry.Duration("backoff_seconds"); ok {
			req.BaseDelay = delay
		}
		for _, s := range retry.Strings("retry_on_status") {
			if code, ok := toFloat(s); ok {
				req.RetryOn = append(req.RetryOn, int(code))
			}
		}
	}

	resp, sendErr := d.Webhooks.Do(ctx, req)
	res := Result{}
	if resp != nil {
		res["status"] = resp.StatusCode
		res["attempts"] = resp.Attempts
		res["value"] = map[string]any{"status": resp.StatusCode, "body": string(resp.Body)}
		captureResponse(actx, Args(args.Map("capture_response")), resp)
	}

	if sendErr == nil {
		specs, err := SpecsFrom(args["on_success"])
		if err != nil {
			return nil, argError("webhook", "on_success", err.Error())
		}
		if len(specs) > 0 {
			if err := actx.Run(ctx, specs); err != nil {
				return res, err
			}
		}
		return res, nil
	}

	onFailure, err := SpecsFrom(args["on_failure"])
	if err != nil {
		return nil, argError("webhook", "on_failure", err.Error())
	}
	if len(onFailure) == 0 {
		return res, sendErr
	}
	res["error"] = sendErr.Error()
	var se *webhook.StatusError
	if !errors.As(sendErr, &se) && ctx.Err() != nil {
		return res, sendErr
	}
	actx.logger().Warn("webhook failed, running on_failure", "url", url, "error", sendErr)
	if err := actx.Run(ctx, onFailure); err != nil {
		return res, err
	}
	return res, nil
}

func captureResponse(actx *Context, capture Args, resp *webhook.Response) {
	if capture == nil || actx.State == nil {
		return
	}
	if v := capture.String("status_var"); v != "" {
		actx.State.SetVariable(v, resp.StatusCode)
	}
	if v := capture.String("body_var"); v != "" {
		actx.State.SetVariable(v, string(resp.Body))
	}
	for variable, path := range capture.Map("json_paths") {
		r := gjson.GetBytes(resp.Body, condition.StringifyValue(path))
		if !r.Exists() {
			actx.State.SetVariable(variable, nil)
			continue
		}
		actx.State.SetVariable(variable, r.Value())
	}
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = condition.StringifyValue(v)
	}
	return out
}

