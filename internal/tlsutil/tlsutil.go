// Package tlsutil provides the shared HTTP transport for generation backends.
// 安全加固：TLS 1.2+，仅 AEAD 密码套件；连接池按后端并发上限调整。
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig returns a hardened TLS configuration.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// BackendTransport returns a transport sized for a backend that accepts at
// most maxConns outstanding requests.
func BackendTransport(maxConns int) *http.Transport {
	if maxConns <= 0 {
		maxConns = 4
	}
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		Proxy:           http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// BackendHTTPClient returns an http.Client for a generation backend.
// timeout bounds the whole exchange including reading the artifact body.
func BackendHTTPClient(timeout time.Duration, maxConns int) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: BackendTransport(maxConns),
	}
}
