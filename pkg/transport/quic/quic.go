// Package quic is a stream adapter over QUIC. Each connection carries one
// bidirectional stream, opened by the dialer, with u32 LE framing on top.
package quic

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"kalm/pkg/config"
	"kalm/pkg/transport"
	"kalm/pkg/transport/stream"
)

const (
	Name = "quic"
	alpn = "kalm"
)

// New builds the quic adapter with an ephemeral self-signed certificate.
// Peers are not authenticated at the TLS layer.
func New(conn config.ConnectionConfig) transport.Adapter {
	t := &qtransport{
		server: &tls.Config{NextProtos: []string{alpn}, MinVersion: tls.VersionTLS13},
		client: &tls.Config{InsecureSkipVerify: true, NextProtos: []string{alpn}, MinVersion: tls.VersionTLS13},
		conf:   &quicgo.Config{KeepAlivePeriod: 15 * time.Second},
	}
	if cert, err := selfSignedCert(); err != nil {
		zap.L().Error("quic certificate", zap.Error(err))
	} else {
		t.server.Certificates = []tls.Certificate{cert}
	}
	return stream.New(stream.Options{
		Name:   Name,
		Listen: t.listen,
		Dial:   t.dial,
		Conn:   conn,
	})
}

type qtransport struct {
	server *tls.Config
	client *tls.Config
	conf   *quicgo.Config
}

func (t *qtransport) listen(ctx context.Context, cfg config.AdapterConfig) (stream.Listener, error) {
	ln, err := quicgo.ListenAddr(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), t.server, t.conf)
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithCancel(ctx)
	ql := &listener{
		addr:    ln.Addr(),
		newCh:   make(chan stream.Conn),
		closeCh: make(chan struct{}),
		closeFn: func() error { cancel(); return ln.Close() },
	}
	go func() {
		for {
			c, err := ln.Accept(actx)
			if err != nil {
				return
			}
			raddr := c.RemoteAddr()
			closeConn := func() error { return c.CloseWithError(0, "") }
			go func() {
				for {
					st, err := c.AcceptStream(actx)
					if err != nil {
						_ = closeConn()
						return
					}
					if !ql.push(&streamConn{rwc: st, remote: raddr, closeConn: closeConn}) {
						_ = st.Close()
						_ = closeConn()
						return
					}
				}
			}()
		}
	}()
	return ql, nil
}

func (t *qtransport) dial(ctx context.Context, peer transport.Target, conn config.ConnectionConfig) (stream.Conn, error) {
	c, err := quicgo.DialAddr(ctx, transport.DialAddress(peer, conn), t.client, t.conf)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, err
	}
	return &streamConn{
		rwc:       st,
		remote:    c.RemoteAddr(),
		closeConn: func() error { return c.CloseWithError(0, "") },
	}, nil
}

type listener struct {
	addr      net.Addr
	newCh     chan stream.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
	closeFn   func() error
}

func (l *listener) push(c stream.Conn) bool {
	select {
	case l.newCh <- c:
		return true
	case <-l.closeCh:
		return false
	}
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Accept(ctx context.Context) (stream.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, net.ErrClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.closeFn()
	})
	return err
}

// streamConn is one QUIC stream plus the connection it belongs to. Closing
// it tears down both.
type streamConn struct {
	rwc       io.ReadWriteCloser
	remote    net.Addr
	closeConn func() error
	once      sync.Once
}

func (s *streamConn) Read(p []byte) (int, error)  { return s.rwc.Read(p) }
func (s *streamConn) Write(p []byte) (int, error) { return s.rwc.Write(p) }
func (s *streamConn) RemoteAddr() net.Addr        { return s.remote }

func (s *streamConn) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.rwc.Close()
		err = s.closeConn()
	})
	return err
}

func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
