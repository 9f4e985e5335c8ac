package net

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// quicALPN is the application protocol negotiated on QUIC connections.
const quicALPN = "hubnet"

var errListenerClosed = errors.New("quic listener closed")

// QUICStreamLayer implements StreamLayer over QUIC. Each QUIC connection
// carries a single bidirectional stream. The certificate is self-signed and
// not verified: peers authenticate each other in the overlay handshake.
type QUICStreamLayer struct {
	advertise string
	listener  *quic.Listener
	logger    *logrus.Entry

	acceptCh chan net.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewQUICStreamLayer binds a QUIC listener on bindAddr.
func NewQUICStreamLayer(bindAddr, advertise string, logger *logrus.Entry) (*QUICStreamLayer, error) {
	tlsConf, err := selfSignedTLSConfig()
	if err != nil {
		return nil, err
	}

	listener, err := quic.ListenAddr(bindAddr, tlsConf, quicConfig())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &QUICStreamLayer{
		advertise: advertise,
		listener:  listener,
		logger:    logger,
		acceptCh:  make(chan net.Conn),
		ctx:       ctx,
		cancel:    cancel,
	}

	go q.acceptLoop()

	return q, nil
}

// NewQUICTransport returns a NetworkTransport built on top of a QUIC stream
// layer.
func NewQUICTransport(
	bindAddr string,
	advertise string,
	maxFrameSize int,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	stream, err := NewQUICStreamLayer(bindAddr, advertise, logger)
	if err != nil {
		return nil, err
	}
	return NewNetworkTransport(stream, maxFrameSize, timeout, logger), nil
}

// acceptLoop accepts QUIC connections and waits for their first stream in a
// separate goroutine, since a stream only shows up once the dialler writes to
// it.
func (q *QUICStreamLayer) acceptLoop() {
	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			return
		}
		go func(c *quic.Conn) {
			stream, err := c.AcceptStream(q.ctx)
			if err != nil {
				if q.logger != nil && q.ctx.Err() == nil {
					q.logger.WithField("error", err).Debug("quic connection without stream")
				}
				c.CloseWithError(0, "")
				return
			}
			select {
			case q.acceptCh <- &quicConn{conn: c, stream: stream}:
			case <-q.ctx.Done():
				c.CloseWithError(0, "")
			}
		}(conn)
	}
}

// Dial implements the StreamLayer interface.
func (q *QUICStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(q.ctx, timeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, address, clientTLSConfig(), quicConfig())
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}

	return &quicConn{conn: conn, stream: stream}, nil
}

// Accept implements the net.Listener interface.
func (q *QUICStreamLayer) Accept() (net.Conn, error) {
	select {
	case c := <-q.acceptCh:
		return c, nil
	case <-q.ctx.Done():
		return nil, errListenerClosed
	}
}

// Close implements the net.Listener interface.
func (q *QUICStreamLayer) Close() error {
	var err error
	q.closeOnce.Do(func() {
		q.cancel()
		err = q.listener.Close()
	})
	return err
}

// Addr implements the net.Listener interface.
func (q *QUICStreamLayer) Addr() net.Addr {
	return q.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (q *QUICStreamLayer) AdvertiseAddr() string {
	if q.advertise != "" {
		return q.advertise
	}
	return q.listener.Addr().String()
}

// quicConn exposes a QUIC stream as a net.Conn.
type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream
}

func (c *quicConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

func (c *quicConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

func (c *quicConn) Close() error {
	c.stream.Close()
	return c.conn.CloseWithError(0, "")
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) SetDeadline(t time.Time) error {
	return c.stream.SetDeadline(t)
}

func (c *quicConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *quicConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  5 * time.Minute,
	}
}

func selfSignedTLSConfig() (*tls.Config, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: priv}},
		NextProtos:   []string{quicALPN},
	}, nil
}

func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicALPN},
	}
}
