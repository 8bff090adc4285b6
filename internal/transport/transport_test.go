package transport

import (
	"context"
	"testing"

	"github.com/pion/dtls/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huestream/internal/stream"
)

func TestNewDTLSDialer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DTLSConfig
		wantErr bool
	}{
		{"valid", DTLSConfig{Address: "192.168.1.2", Username: "user", ClientKey: "0a0b0c"}, false},
		{"missing_address", DTLSConfig{Username: "user", ClientKey: "0a0b"}, true},
		{"missing_username", DTLSConfig{Address: "10.0.0.1", ClientKey: "0a0b"}, true},
		{"bad_hex", DTLSConfig{Address: "10.0.0.1", Username: "user", ClientKey: "zz"}, true},
		{"empty_key", DTLSConfig{Address: "10.0.0.1", Username: "user"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDTLSDialer(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDTLSDialer_Config(t *testing.T) {
	d, err := NewDTLSDialer(DTLSConfig{Address: "10.0.0.1", Username: "bridge-user", ClientKey: "deadbeef"})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:2100", d.addr)

	cfg := d.config()
	assert.Equal(t, []byte("bridge-user"), cfg.PSKIdentityHint)
	assert.Equal(t, []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256}, cfg.CipherSuites)

	psk, err := cfg.PSK(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, psk)
}

func TestDTLSDialer_CustomPort(t *testing.T) {
	d, err := NewDTLSDialer(DTLSConfig{Address: "hue.local", Port: 2101, Username: "u", ClientKey: "01"})
	require.NoError(t, err)
	assert.Equal(t, "hue.local:2101", d.addr)
}

func TestDryRunDialer(t *testing.T) {
	tr, err := DryRunDialer{}.Dial(context.Background())
	require.NoError(t, err)

	frame, err := stream.NewFrame(stream.ColorSpaceXY).Encode([]stream.Record{{ID: 1, A: 0.3, B: 0.3, C: 1}})
	require.NoError(t, err)

	n, err := tr.Write(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)

	_, err = tr.Write([]byte("garbage"))
	assert.ErrorIs(t, err, stream.ErrMalformedFrame)

	require.NoError(t, tr.Close())
	_, err = tr.Write(frame)
	assert.ErrorIs(t, err, stream.ErrSessionClosed)
}

func TestDryRunDialer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DryRunDialer{}.Dial(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
