// Package ipfs pins listing media to an IPFS pinning service and resolves
// content hashes to gateway URLs.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultGateway = "https://gateway.pinata.cloud/ipfs/"

// Pinner uploads files to a Pinata-compatible pinning endpoint.
type Pinner struct {
	endpoint string
	token    string
	gateway  string
	client   *http.Client
}

// Option configures a Pinner.
type Option func(*Pinner)

// WithHTTPClient overrides the HTTP client used for uploads.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pinner) {
		p.client = client
	}
}

// WithGateway overrides the public gateway base URL.
func WithGateway(gateway string) Option {
	return func(p *Pinner) {
		p.gateway = gateway
	}
}

// NewPinner creates a pinner against the endpoint, authenticating with a
// bearer token.
func NewPinner(endpoint, token string, opts ...Option) *Pinner {
	p := &Pinner{
		endpoint: endpoint,
		token:    token,
		gateway:  defaultGateway,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Pin uploads the file contents and returns the resulting content hash.
func (p *Pinner) Pin(ctx context.Context, filename string, contents io.Reader) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, contents); err != nil {
		return "", fmt.Errorf("copy file contents: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create pin request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("pin upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	if result.IpfsHash == "" {
		return "", fmt.Errorf("pin response missing content hash")
	}
	return result.IpfsHash, nil
}

// GatewayURL resolves a content hash to a public gateway URL. Returns ""
// for an empty hash.
func (p *Pinner) GatewayURL(hash string) string {
	if hash == "" {
		return ""
	}
	return p.gateway + hash
}
