// Package transport provides the datagram transports a stream session
// writes frames to.
package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/pion/dtls/v3"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huestream/internal/stream"
)

// DTLSConfig holds the PSK credentials for the entertainment channel.
type DTLSConfig struct {
	Address   string // bridge host or IP
	Port      int    // 0 = stream.DefaultPort
	Username  string // PSK identity
	ClientKey string // hex encoded PSK
}

// DTLSDialer opens DTLS 1.2 sessions to the bridge using the single cipher
// suite the bridge accepts for streaming.
type DTLSDialer struct {
	addr     string
	identity []byte
	psk      []byte
}

var _ stream.Dialer = (*DTLSDialer)(nil)

// NewDTLSDialer validates the credentials.
func NewDTLSDialer(cfg DTLSConfig) (*DTLSDialer, error) {
	if cfg.Address == "" {
		return nil, errors.New("dtls: bridge address is required")
	}
	if cfg.Username == "" {
		return nil, errors.New("dtls: username is required")
	}
	psk, err := hex.DecodeString(cfg.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("dtls: client key is not hex: %w", err)
	}
	if len(psk) == 0 {
		return nil, errors.New("dtls: client key is required")
	}

	port := cfg.Port
	if port == 0 {
		port = stream.DefaultPort
	}

	return &DTLSDialer{
		addr:     net.JoinHostPort(cfg.Address, strconv.Itoa(port)),
		identity: []byte(cfg.Username),
		psk:      psk,
	}, nil
}

// Dial resolves the bridge and completes the handshake.
func (d *DTLSDialer) Dial(ctx context.Context) (stream.Transport, error) {
	raddr, err := net.ResolveUDPAddr("udp4", d.addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", d.addr, err)
	}

	conn, err := dtls.Dial("udp4", raddr, d.config())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.addr, err)
	}

	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", d.addr, err)
	}

	log.Debug().Str("addr", d.addr).Msg("DTLS handshake complete")
	return conn, nil
}

func (d *DTLSDialer) config() *dtls.Config {
	psk := d.psk
	return &dtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return psk, nil
		},
		PSKIdentityHint: d.identity,
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	}
}
