package rpcboundary

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ioi-network/kernel/internal/kernelerr"
	"github.com/ioi-network/kernel/pkg/metrics"
)

func TestServeHTTPDispatchesRegisteredMethod(t *testing.T) {
	tree := newFakeTreeReader()
	tree.flat["k"] = []byte("v")
	sq := NewStateQuery(tree, nil, nil)
	srv := NewServer(nil, sq, nil, nil, nil, nil)

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "query_raw_state", Params: mustJSON(queryRawStateParams{Key: []byte("k")}), ID: json.RawMessage("1")})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
}

func TestServeHTTPUnknownMethod(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil, nil)
	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "does_not_exist", ID: json.RawMessage("1")})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	var resp Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestServeHTTPParseError(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	var resp Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestServeHTTPRecordsRPCMetrics(t *testing.T) {
	tree := newFakeTreeReader()
	tree.flat["k"] = []byte("v")
	sq := NewStateQuery(tree, nil, nil)
	srv := NewServer(nil, sq, nil, nil, nil, nil)

	before := metrics.RPCRequestsTotal.Value()
	beforeErrs := metrics.RPCErrorsTotal.Value()
	beforeLatency := metrics.RPCLatency.Count()

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "query_raw_state", Params: mustJSON(queryRawStateParams{Key: []byte("k")}), ID: json.RawMessage("1")})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	srv.ServeHTTP(httptest.NewRecorder(), req)

	if got := metrics.RPCRequestsTotal.Value(); got != before+1 {
		t.Fatalf("RPCRequestsTotal = %d, want %d", got, before+1)
	}
	if got := metrics.RPCLatency.Count(); got != beforeLatency+1 {
		t.Fatalf("RPCLatency count = %d, want %d", got, beforeLatency+1)
	}
	if got := metrics.RPCErrorsTotal.Value(); got != beforeErrs {
		t.Fatalf("RPCErrorsTotal = %d, want unchanged at %d", got, beforeErrs)
	}

	unknownBody, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "does_not_exist", ID: json.RawMessage("1")})
	req2 := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(unknownBody))
	srv.ServeHTTP(httptest.NewRecorder(), req2)

	// An unknown method is rejected before dispatch, so it does not count
	// as a request/error pair -- only a successfully dispatched handler
	// that returns an error does.
	if got := metrics.RPCRequestsTotal.Value(); got != before+1 {
		t.Fatalf("RPCRequestsTotal after unknown method = %d, want unchanged at %d", got, before+1)
	}
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCodeForErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{kernelerr.New(kernelerr.KindState, kernelerr.CodeStaleAnchor, "x"), -32001},
		{kernelerr.New(kernelerr.KindState, kernelerr.CodeProofNotAnchored, "x"), -32002},
		{kernelerr.New(kernelerr.KindState, kernelerr.CodePermissionDenied, "x"), -32003},
		{kernelerr.New(kernelerr.KindState, kernelerr.CodeKeyNotFound, "x"), -32004},
		{kernelerr.New(kernelerr.KindChain, kernelerr.CodeExecutionClientError, "x"), -32005},
		{kernelerr.New(kernelerr.KindTransaction, kernelerr.CodeTxNonceMismatch, "x"), -32000},
	}
	for _, c := range cases {
		if got := codeForError(c.err); got != c.want {
			t.Errorf("codeForError(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
