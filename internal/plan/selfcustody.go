package plan

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// SelfCustodyBundle is the manifest written into the same archive as the
// images (and sealed together with them), carrying just enough metadata for the recipient to verify
// what they are decrypting.
type SelfCustodyBundle struct {
	Version   string `json:"version"`
	SignupID  string `json:"signup_id"`
	OrbID     string `json:"orb_id"`
	Timestamp string `json:"timestamp"`
}

// SealFunc seals plaintext for a recipient, matching backend.SealSelfCustodyImage's
// signature without importing internal/backend directly, keeping this plan
// agnostic to the transport's key type.
type SealFunc func(plaintext []byte) ([]byte, error)

// UploadFunc hands a finished sealed package to the backend.
type UploadFunc func(ctx context.Context, signupID string, sealed []byte) error

// SelfCustodyUploadPlan packages the iris and face images captured during
// enrollment into a single sealed, gzip-compressed archive and uploads it,
// so the identity holder alone can later decrypt their own biometric
// reference images. It runs to completion on its first PollExtra call
// rather than reacting to agent output, since by this phase capture and
// pipeline inference are both already done.
type SelfCustodyUploadPlan struct {
	BasePlan

	SignupID string
	OrbID    string
	Images   map[string][]byte // filename -> PNG bytes, e.g. "left_ir.png"

	Seal   SealFunc
	Upload UploadFunc

	done bool
	err  error
}

func (p *SelfCustodyUploadPlan) PollExtra(ctx context.Context) (Flow, error) {
	if p.done {
		return Break, p.err
	}
	p.done = true

	archive, err := p.buildArchive()
	if err != nil {
		p.err = fmt.Errorf("plan: build self-custody archive: %w", err)
		return Break, p.err
	}

	compressed, err := gzipBytes(archive)
	if err != nil {
		p.err = fmt.Errorf("plan: gzip self-custody archive: %w", err)
		return Break, p.err
	}

	sealed, err := p.Seal(compressed)
	if err != nil {
		p.err = fmt.Errorf("plan: seal self-custody archive: %w", err)
		return Break, p.err
	}

	if err := p.Upload(ctx, p.SignupID, sealed); err != nil {
		p.err = fmt.Errorf("plan: upload self-custody archive: %w", err)
		return Break, p.err
	}

	return Break, nil
}

func (p *SelfCustodyUploadPlan) buildArchive() ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	for name, data := range p.Images {
		hdr := &tar.Header{
			Name:    name,
			Size:    int64(len(data)),
			Mode:    0o644,
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}

	bundle := SelfCustodyBundle{
		Version:   "1.0",
		SignupID:  p.SignupID,
		OrbID:     p.OrbID,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	bundleJSON, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, err
	}
	checksum := sha256.Sum256(bundleJSON)

	if err := tarAppend(tw, now, "bundle.json", bundleJSON); err != nil {
		return nil, err
	}
	if err := tarAppend(tw, now, "bundle.sha256", []byte(fmt.Sprintf("%x", checksum))); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func tarAppend(tw *tar.Writer, ts time.Time, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644, ModTime: ts}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
