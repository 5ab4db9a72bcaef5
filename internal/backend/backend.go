// Package backend is the Orb's HTTPS client to the cloud backend: identity
// signup, gzip'd debug-report upload, and NaCl-sealed self-custody image
// upload. It never runs a server: the cloud backend is an external
// collaborator reached only over REST, per the Orb's scope as a kiosk-side
// agent, not a backend service.
package backend

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/orbagent/core/internal/circuitbreaker"
)

// Client talks to the cloud backend over HTTPS with certificate pinning.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// New builds a Client that pins the backend by a certificate's SHA-256
// fingerprint (hex-encoded): a connection is rejected unless some
// certificate the server presents matches it. Only the certificates the
// server sends are compared, so a root CA the server does not send never
// matches. An empty fingerprint turns pinning off. Defense against a
// compromised or substituted system trust store on a kiosk device that has
// no operator watching its TLS warnings.
func New(baseURL, pinnedCASHA256 string) (*Client, error) {
	var want []byte
	if pinnedCASHA256 != "" {
		var err error
		want, err = hex.DecodeString(pinnedCASHA256)
		if err != nil {
			return nil, fmt.Errorf("backend: invalid pinned CA fingerprint: %w", err)
		}
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(want) == 0 {
					return nil
				}
				for _, raw := range rawCerts {
					sum := sha256.Sum256(raw)
					if bytes.Equal(sum[:], want) {
						return nil
					}
				}
				return fmt.Errorf("backend: no certificate in chain matches pinned CA")
			},
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		breaker: circuitbreaker.New(&circuitbreaker.Config{
			Name:        "backend",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c circuitbreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}, nil
}

// HTTPClient returns the underlying http.Client, for callers (tests) that
// need to adjust transport settings such as a test CA pool.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SignupRequest is submitted as multipart form data during enrollment.
type SignupRequest struct {
	OrbID      string
	SignupID   string
	IrisImage  io.Reader
	FaceImage  io.Reader
}

// SignupResponse is the backend's acknowledgement of a signup submission.
type SignupResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Signup submits a multipart signup payload and decodes the JSON response.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("orb_id", req.OrbID); err != nil {
		return nil, fmt.Errorf("backend: write orb_id field: %w", err)
	}
	if err := w.WriteField("signup_id", req.SignupID); err != nil {
		return nil, fmt.Errorf("backend: write signup_id field: %w", err)
	}
	if req.IrisImage != nil {
		part, err := w.CreateFormFile("iris_image", "iris.png")
		if err != nil {
			return nil, fmt.Errorf("backend: create iris part: %w", err)
		}
		if _, err := io.Copy(part, req.IrisImage); err != nil {
			return nil, fmt.Errorf("backend: copy iris image: %w", err)
		}
	}
	if req.FaceImage != nil {
		part, err := w.CreateFormFile("face_image", "face.png")
		if err != nil {
			return nil, fmt.Errorf("backend: create face part: %w", err)
		}
		if _, err := io.Copy(part, req.FaceImage); err != nil {
			return nil, fmt.Errorf("backend: copy face image: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("backend: close multipart writer: %w", err)
	}

	var out SignupResponse
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/signup", &body)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("backend: signup request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("backend: signup returned status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("backend: decode signup response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PutDebugReport gzip-compresses report and PUTs it to the backend's debug
// report endpoint, reducing bandwidth on the device's often-metered uplink.
func (c *Client) PutDebugReport(ctx context.Context, reportID string, report any) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("backend: marshal debug report: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("backend: gzip debug report: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("backend: close gzip writer: %w", err)
	}

	url := fmt.Sprintf("%s/v1/debug-reports/%s", c.baseURL, reportID)
	return c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, &compressed)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Content-Encoding", "gzip")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("backend: put debug report: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("backend: debug report upload returned status %d", resp.StatusCode)
		}
		return nil
	})
}

// SealSelfCustodyImage seals plaintext for recipientPubKey using a NaCl
// anonymous sealed box, so the image can be uploaded through the ordinary
// backend and only decrypted by the holder of the signup's private key,
// not by the backend operator.
func SealSelfCustodyImage(plaintext []byte, recipientPubKey *[32]byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, plaintext, recipientPubKey, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: seal self-custody image: %w", err)
	}
	return sealed, nil
}

// UploadSelfCustodyImage uploads a sealed self-custody image blob.
func (c *Client) UploadSelfCustodyImage(ctx context.Context, signupID string, sealed []byte) error {
	url := fmt.Sprintf("%s/v1/self-custody/%s", c.baseURL, signupID)
	return c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(sealed))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("backend: upload self-custody image: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("backend: self-custody upload returned status %d", resp.StatusCode)
		}
		return nil
	})
}
