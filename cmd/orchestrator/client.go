package main

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ioi-network/kernel/internal/rpcboundary"
)

// WorkloadClient is a thin JSON-RPC client over the envelope
// internal/rpcboundary.Server speaks, the Orchestrator side of spec §6's
// "request/response transport over an authenticated channel (mutually-
// authenticated TLS with client certs)". There is no client counterpart
// in the teacher's own pkg/rpc (it only ever serves Ethereum JSON-RPC),
// so this is grounded directly on the Request/Response envelope the
// Workload's rpcboundary.Server already defines, not on any single
// teacher file.
type WorkloadClient struct {
	addr       string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewWorkloadClient dials addr (e.g. "https://127.0.0.1:7545"). tlsCfg
// may be nil for a plain-HTTP development deployment.
func NewWorkloadClient(addr string, tlsCfg *tls.Config, timeout time.Duration) *WorkloadClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{}
	if tlsCfg != nil {
		transport.TLSClientConfig = tlsCfg
	}
	return &WorkloadClient{
		addr:       addr,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Call invokes method with params marshaled to JSON, decoding the result
// into out (which may be nil to discard it).
func (c *WorkloadClient) Call(method string, params interface{}, out interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	id := c.nextID.Add(1)
	idJSON, _ := json.Marshal(id)

	req := rpcboundary.Request{JSONRPC: "2.0", Method: method, Params: paramsJSON, ID: idJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := c.httpClient.Post(c.addr, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workload unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	var resp rpcboundary.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("workload rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("re-marshal result: %w", err)
	}
	return json.Unmarshal(raw, out)
}
