// Package rpcclient is a thin HTTP transport for the in-band status RPC
// boundary the state manager consumes. The wire protocol it speaks to is
// owned by the services themselves; this package only knows how to reach
// a name and post a method/payload envelope to it.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Resolver turns a service name into the base URL its RPC endpoint is
// reachable at, e.g. "http://worker:9000".
type Resolver func(service string) (string, error)

// Client posts {method, payload} envelopes to a resolved service address
// and decodes the JSON response body as the result map.
type Client struct {
	resolve Resolver
	http    *http.Client
}

// New builds a Client that resolves addresses via resolve and issues
// requests over httpClient, or http.DefaultClient if nil.
func New(resolve Resolver, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{resolve: resolve, http: httpClient}
}

type envelope struct {
	Method  string                 `json:"method"`
	Payload map[string]interface{} `json:"payload"`
}

// Request implements director.RPCClient.
func (c *Client) Request(ctx context.Context, service, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	addr, err := c.resolve(service)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", service, err)
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(envelope{Method: method, Payload: payload}); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/rpc", buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc %s/%s: unexpected status %d", service, method, resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// NameResolver resolves a service to "http://<name>:<port>", the usual
// shape when services share a container network and are addressed by
// container name.
func NameResolver(port int) Resolver {
	return func(service string) (string, error) {
		return fmt.Sprintf("http://%s:%d", service, port), nil
	}
}
