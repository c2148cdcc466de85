package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/TeskaLabs/llm-microlink/internal/chat"
)

// RestRequest is the request half of a YAML-defined REST tool. String
// values prefixed with "$" are path expressions evaluated against the
// call document {tenant, parameters, arguments, response}.
type RestRequest struct {
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	Query   map[string]string `yaml:"query"`
	Body    string            `yaml:"body"`
}

// RestResponse maps one HTTP status to tool output. Content may be a "$"
// expression over the call document, which then includes "response".
type RestResponse struct {
	Content string `yaml:"content"`
	Error   bool   `yaml:"error"`
}

// RestCall executes a YAML-defined REST tool. The response map is keyed
// by status code, with "_" as the catch-all.
type RestCall struct {
	Request  RestRequest             `yaml:"request"`
	Response map[string]RestResponse `yaml:"response"`

	BaseURL string `yaml:"-"`
	Tenant  string `yaml:"-"`

	client *http.Client
}

func (r *RestCall) httpClient() *http.Client {
	if r.client == nil {
		r.client = &http.Client{}
	}
	return r.client
}

// evalExpr resolves one "$"-prefixed expression against the call
// document; non-expressions pass through as literals.
func evalExpr(doc []byte, expr string) string {
	if !strings.HasPrefix(expr, "$") {
		return expr
	}
	result := gjson.GetBytes(doc, strings.TrimPrefix(expr, "$"))
	if !result.Exists() {
		return ""
	}
	return result.String()
}

func evalExprMap(doc []byte, exprs map[string]string) map[string]string {
	out := make(map[string]string, len(exprs))
	for k, v := range exprs {
		if value := evalExpr(doc, v); value != "" {
			out[k] = value
		}
	}
	return out
}

// Call implements chat.ToolFunc for REST tools.
func (r *RestCall) Call(ctx context.Context, conv *chat.Conversation, fc *chat.FunctionCall, yield chat.ProgressFunc) error {
	yield("validating")

	var arguments map[string]any
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &arguments); err != nil {
			return fmt.Errorf("tool arguments: %w", err)
		}
	}

	doc, err := json.Marshal(map[string]any{
		"tenant":     r.Tenant,
		"parameters": arguments,
		"arguments":  arguments,
	})
	if err != nil {
		return err
	}

	path := evalExpr(doc, r.Request.Path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	body := evalExpr(doc, r.Request.Body)

	log.Info().Str("base_url", r.BaseURL).Str("path", path).Str("method", r.Request.Method).Msg("Call")

	req, err := http.NewRequestWithContext(ctx, r.Request.Method, strings.TrimRight(r.BaseURL, "/")+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range evalExprMap(doc, r.Request.Headers) {
		req.Header.Set(k, v)
	}
	q := req.URL.Query()
	for k, v := range evalExprMap(doc, r.Request.Query) {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	spec, ok := r.Response[strconv.Itoa(resp.StatusCode)]
	if !ok {
		spec, ok = r.Response["_"]
	}
	if !ok {
		fc.Error = true
		fc.Content = "Tool execution failed with the status code: " + strconv.Itoa(resp.StatusCode)
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return err
	}

	var responseValue any = string(raw)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			responseValue = decoded
		}
	}

	doc, err = json.Marshal(map[string]any{
		"tenant":     r.Tenant,
		"parameters": arguments,
		"arguments":  arguments,
		"response":   responseValue,
	})
	if err != nil {
		return err
	}

	fc.Content = evalExpr(doc, spec.Content)
	fc.Error = spec.Error

	yield("completed")
	return nil
}
