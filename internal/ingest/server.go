// Package ingest accepts finished memory-event traces uploaded by remote
// instrumented runtimes and analyzes them on arrival.
package ingest

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// DefaultMaxUploadBytes bounds a single trace upload. Long sessions produce
// traces in the hundreds of megabytes; anything past this is a runaway
// uploader, not a trace.
const DefaultMaxUploadBytes = 1 << 30

// Config tunes the upload server.
type Config struct {
	// MaxUploadBytes caps the request body of one trace upload.
	// Zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
	// IdleTimeout closes QUIC connections with no active upload.
	// Zero keeps the transport default.
	IdleTimeout time.Duration
}

// ensureH3TLS clones cfg into a config QUIC will accept: TLS 1.3 minimum
// and the h3 ALPN token.
func ensureH3TLS(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.MinVersion < tls.VersionTLS13 {
		cfg.MinVersion = tls.VersionTLS13
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h3"}
	}
	return cfg
}

// Server serves trace uploads over HTTP/3. Every request body is capped at
// the configured upload limit before the handler sees it.
type Server struct {
	h3       *http3.Server
	conn     net.PacketConn
	errC     chan error
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer wires h behind the upload limit and prepares an HTTP/3 server
// on addr.
func NewServer(addr string, tlsCfg *tls.Config, h http.Handler, cfg Config) *Server {
	limit := cfg.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	capped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		h.ServeHTTP(w, r)
	})

	qc := &quic.Config{}
	if cfg.IdleTimeout > 0 {
		qc.MaxIdleTimeout = cfg.IdleTimeout
	}

	return &Server{
		h3: &http3.Server{
			Addr:       addr,
			TLSConfig:  ensureH3TLS(tlsCfg),
			Handler:    capped,
			QUICConfig: qc,
		},
		errC: make(chan error, 1),
		done: make(chan struct{}),
	}
}

// Start binds the UDP socket and begins serving. With an ":0" address the
// returned string carries the port actually bound.
func (s *Server) Start() (string, error) {
	conn, err := net.ListenPacket("udp", s.h3.Addr)
	if err != nil {
		return "", err
	}
	s.conn = conn

	go func() {
		defer close(s.done)
		if err := s.h3.Serve(conn); err != nil {
			select {
			case s.errC <- err:
			default:
			}
		}
	}()

	return conn.LocalAddr().String(), nil
}

// Stop shuts the server down. In-flight uploads are cut off; the spool
// directory keeps whatever was already analyzed.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.conn == nil {
			return
		}
		err = s.h3.Close()
		_ = s.conn.Close()
		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
	})
	return err
}

// Err reports the first serve failure, if any. The channel never blocks the
// server.
func (s *Server) Err() <-chan error {
	return s.errC
}
