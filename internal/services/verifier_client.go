package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// VerifierClient talks to the proof verification service. The service is a
// stateless oracle: same proof in, same verdict out.
type VerifierClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewVerifierClient(baseURL string, log *zap.Logger) *VerifierClient {
	return &VerifierClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type verifyRequest struct {
	Proof        json.RawMessage `json:"proof"`
	PublicParams json.RawMessage `json:"public_params,omitempty"`
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verify implements escrow.Verifier. A transport or 5xx failure is an error,
// not a rejection: the caller must be able to tell "proof is bad" apart from
// "verifier is down".
func (c *VerifierClient) Verify(ctx context.Context, proof []byte, publicParams []byte) (bool, error) {
	body, err := json.Marshal(verifyRequest{
		Proof:        json.RawMessage(proof),
		PublicParams: json.RawMessage(publicParams),
	})
	if err != nil {
		return false, err
	}

	url := fmt.Sprintf("%s/rsa-verify", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verifier service unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Malformed proof payloads come back as 4xx with a reason.
		b, _ := io.ReadAll(resp.Body)
		c.log.Debug("verifier rejected proof payload", zap.Int("status", resp.StatusCode), zap.ByteString("body", b))
		return false, nil
	default:
		b, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("verifier service returned %d: %s", resp.StatusCode, string(b))
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, err
	}
	if !result.Valid && result.Reason != "" {
		c.log.Debug("proof rejected", zap.String("reason", result.Reason))
	}
	return result.Valid, nil
}
