package signing

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ioi-network/kernel/internal/ktypes"
	"github.com/ioi-network/kernel/pkg/metrics"
)

// RemoteSigner wraps an HTTP signing endpoint, authenticated with a
// bearer JWT minted fresh per request (spec §6: "remote signers wrap an
// HTTP endpoint"), the Go analogue of the teacher's engine-API JWT
// bearer-auth convention.
type RemoteSigner struct {
	endpoint   string
	jwtSecret  []byte
	pubkey     []byte
	httpClient *http.Client
}

// NewRemoteSigner returns a RemoteSigner posting sign requests to
// endpoint, authenticated with jwtSecret, asserting the oracle's known
// public key pubkey. A nil httpClient gets a 5-second-timeout default.
func NewRemoteSigner(endpoint string, jwtSecret, pubkey []byte, httpClient *http.Client) *RemoteSigner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &RemoteSigner{endpoint: endpoint, jwtSecret: jwtSecret, pubkey: pubkey, httpClient: httpClient}
}

// PublicKey returns the remote oracle's compressed G1 public key.
func (r *RemoteSigner) PublicKey() []byte { return r.pubkey }

type remoteSignRequest struct {
	PayloadHash string `json:"payload_hash"`
}

type remoteSignResponse struct {
	Signature string `json:"signature"`
	Counter   uint64 `json:"counter"`
	TraceHash string `json:"trace_hash"`
}

// bearerToken mints a short-lived JWT for this single request, matching
// the engine-API convention of a fresh token rather than a long-lived
// static credential.
func (r *RemoteSigner) bearerToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(60 * time.Second)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.jwtSecret)
}

// SignConsensusPayload implements Oracle by POSTing payloadHash to the
// remote endpoint and returning the signer's response. The remote side
// owns the per-key counter and trace hash; this client only transports
// the request and parses the result.
func (r *RemoteSigner) SignConsensusPayload(ctx context.Context, payloadHash ktypes.Hash) (Result, error) {
	body, err := json.Marshal(remoteSignRequest{PayloadHash: hex.EncodeToString(payloadHash[:])})
	if err != nil {
		return Result{}, fmt.Errorf("signing: encode remote sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("signing: build remote sign request: %w", err)
	}
	token, err := r.bearerToken()
	if err != nil {
		return Result{}, fmt.Errorf("signing: mint bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("signing: remote signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("signing: remote signer returned %s: %s", resp.Status, msg)
	}

	var out remoteSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("signing: decode remote sign response: %w", err)
	}

	sig, err := hex.DecodeString(out.Signature)
	if err != nil {
		return Result{}, fmt.Errorf("signing: decode remote signature: %w", err)
	}
	traceBytes, err := hex.DecodeString(out.TraceHash)
	if err != nil {
		return Result{}, fmt.Errorf("signing: decode remote trace hash: %w", err)
	}
	var trace ktypes.Hash
	copy(trace[:], traceBytes)

	metrics.SigningOracleSignsTotal.Inc()
	return Result{Signature: sig, Counter: out.Counter, TraceHash: trace}, nil
}
