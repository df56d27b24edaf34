package transport

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Timeout:   2 * time.Second,
		RetryWait: time.Millisecond,
	}
}

func writeCA(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path
}

func TestBuild_CAFile(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	opts := testOptions()
	opts.CAFile = writeCA(t, ts)

	client, err := Build(opts, zerolog.Nop())
	require.NoError(t, err)

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuild_UntrustedCertificate(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client, err := Build(testOptions(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Get(ts.URL)
	assert.Error(t, err, "self-signed test certificate should not be trusted by default")
}

func TestBuild_Insecure(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	opts := testOptions()
	opts.Insecure = true

	client, err := Build(opts, zerolog.Nop())
	require.NoError(t, err)

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBuild_BadCAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0600))

	opts := testOptions()
	opts.CAFile = path
	_, err := Build(opts, zerolog.Nop())
	assert.Error(t, err)

	opts.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = Build(opts, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuild_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	opts := testOptions()
	opts.Retries = 1

	client, err := Build(opts, zerolog.Nop())
	require.NoError(t, err)

	resp, err := client.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestBuild_NoRetriesGivesUp(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client, err := Build(testOptions(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Get(ts.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
