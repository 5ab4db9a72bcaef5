package backend_test

import (
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/orbagent/core/internal/backend"
)

func TestSignupPostsMultipartAndDecodesResponse(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/signup", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "orb-1", r.FormValue("orb_id"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	resp, err := c.Signup(context.Background(), backend.SignupRequest{OrbID: "orb-1", SignupID: "s-1"})
	require.NoError(t, err)
	require.True(t, resp.Accepted)
}

func TestPutDebugReportGzipsBody(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	err := c.PutDebugReport(context.Background(), "r-1", map[string]string{"status": "ok"})
	require.NoError(t, err)
}

func TestSealSelfCustodyImageRoundTrips(t *testing.T) {
	pub, priv, err := box.GenerateKey(nil)
	require.NoError(t, err)

	sealed, err := backend.SealSelfCustodyImage([]byte("iris-bytes"), pub)
	require.NoError(t, err)

	opened, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	require.True(t, ok)
	require.Equal(t, "iris-bytes", string(opened))
}

func TestPinMismatchRejectsConnection(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wrongFingerprint := sha256.Sum256([]byte("not-the-server-cert"))
	c, err := backend.New(srv.URL, hexEncode(wrongFingerprint[:]))
	require.NoError(t, err)

	_, err = c.Signup(context.Background(), backend.SignupRequest{OrbID: "orb-1"})
	require.Error(t, err)
}

// newTestClient builds a Client pinned to srv's actual leaf certificate, with
// InsecureSkipVerify so the test's self-signed cert doesn't also fail the
// normal chain check; only the pin callback is under test.
func newTestClient(t *testing.T, srv *httptest.Server) *backend.Client {
	t.Helper()
	fingerprint := sha256.Sum256(srv.Certificate().Raw)
	c, err := backend.New(srv.URL, hexEncode(fingerprint[:]))
	require.NoError(t, err)
	c.HTTPClient().Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify = true
	return c
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
