package rpc

import (
	"encoding/json"

	"github.com/google/uuid"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

const jsonRPCVersion = "2.0"

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *fault          `json:"error,omitempty"`

	// err is set locally when no usable reply arrived for the id.
	err error
}

type fault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRequest(method string, params []any) request {
	if params == nil {
		params = []any{}
	}
	return request{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	}
}

func newRequests(reqs []Request) []request {
	out := make([]request, len(reqs))
	for i, r := range reqs {
		out[i] = newRequest(r.Method, r.Params)
	}
	return out
}

func (r response) value(id string) (json.RawMessage, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.Error != nil {
		return nil, &errpkg.RemoteError{Code: r.Error.Code, Message: r.Error.Message}
	}
	if r.ID != id {
		return nil, errpkg.Protocol("response id %q does not match request %q", r.ID, id)
	}
	if len(r.Result) == 0 {
		return nil, errpkg.Protocol("response %s carries neither result nor error", id)
	}
	return r.Result, nil
}

// match pairs batch responses with their requests by id.
func match(reqs []request, resps []response) []Result {
	byID := make(map[string]response, len(resps))
	for _, r := range resps {
		byID[r.ID] = r
	}

	results := make([]Result, len(reqs))
	for i, req := range reqs {
		resp, ok := byID[req.ID]
		if !ok {
			results[i] = Result{Err: errpkg.Protocol("no response for %s (%s)", req.Method, req.ID)}
			continue
		}
		v, err := resp.value(req.ID)
		results[i] = Result{Value: v, Err: err}
	}
	return results
}

func failAll(n int, err error) []Result {
	results := make([]Result, n)
	for i := range results {
		results[i] = Result{Err: err}
	}
	return results
}
