package gateway

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/config"
	"github.com/vyrodovalexey/apimlgw/test/helpers"
)

func TestClientAuthType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode    string
		want    tls.ClientAuthType
		wantErr bool
	}{
		{mode: config.ClientAuthNone, want: tls.NoClientCert},
		{mode: "", want: tls.RequestClientCert},
		{mode: config.ClientAuthRequest, want: tls.RequestClientCert},
		{mode: config.ClientAuthVerifyIfGiven, want: tls.VerifyClientCertIfGiven},
		{mode: config.ClientAuthRequire, want: tls.RequireAndVerifyClientCert},
		{mode: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()

			got, err := ClientAuthType(tt.mode)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerTLSConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ca := helpers.NewCA(t, "test-ca")
	server := helpers.NewServer(t, "gateway", ca)
	certFile, keyFile := server.WriteFiles(t, dir, "server")
	caFile, _ := ca.WriteFiles(t, dir, "ca")

	t.Run("nil config disables TLS", func(t *testing.T) {
		t.Parallel()

		cfg, err := ServerTLSConfig(nil)
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("request mode without CA", func(t *testing.T) {
		t.Parallel()

		cfg, err := ServerTLSConfig(&config.TLSConfig{CertFile: certFile, KeyFile: keyFile})
		require.NoError(t, err)
		assert.Equal(t, tls.RequestClientCert, cfg.ClientAuth)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
		assert.Len(t, cfg.Certificates, 1)
		assert.Nil(t, cfg.ClientCAs)
	})

	t.Run("require mode with CA", func(t *testing.T) {
		t.Parallel()

		cfg, err := ServerTLSConfig(&config.TLSConfig{
			CertFile: certFile, KeyFile: keyFile,
			ClientCAFile: caFile, ClientAuth: config.ClientAuthRequire,
		})
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.NotNil(t, cfg.ClientCAs)
	})

	t.Run("verify mode needs a CA", func(t *testing.T) {
		t.Parallel()

		_, err := ServerTLSConfig(&config.TLSConfig{
			CertFile: certFile, KeyFile: keyFile, ClientAuth: config.ClientAuthVerifyIfGiven,
		})
		assert.ErrorContains(t, err, "client CA required")
	})

	t.Run("missing key pair", func(t *testing.T) {
		t.Parallel()

		_, err := ServerTLSConfig(&config.TLSConfig{CertFile: dir + "/nope.pem", KeyFile: keyFile})
		assert.ErrorContains(t, err, "server certificate")
	})

	t.Run("unreadable CA", func(t *testing.T) {
		t.Parallel()

		_, err := ServerTLSConfig(&config.TLSConfig{CertFile: certFile, KeyFile: keyFile, ClientCAFile: keyFile})
		assert.ErrorContains(t, err, "client CA")
	})
}

func TestListener_ServesTLS(t *testing.T) {
	t.Parallel()

	ca := helpers.NewCA(t, "test-ca")
	server := helpers.NewServer(t, "gateway", ca)
	client := helpers.NewClient(t, "alice", ca)

	var gotPeers atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS != nil {
			gotPeers.Store(int32(len(r.TLS.PeerCertificates)))
		}
		_, _ = io.WriteString(w, "ok")
	})

	l := NewListener("127.0.0.1:0", handler,
		WithListenerTLS(&tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{server.TLSCertificate(t)},
			ClientAuth:   tls.RequestClientCert,
		}),
		WithListenerTimeouts(5*time.Second, 5*time.Second),
	)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop(context.Background()) })
	assert.True(t, l.IsRunning())

	httpClient := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{
		MinVersion:   tls.VersionTLS12,
		RootCAs:      helpers.CertPool(ca),
		Certificates: []tls.Certificate{client.TLSCertificate(t)},
	}}}
	resp, err := httpClient.Get("https://" + l.Address() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(1), gotPeers.Load())
}
