package tether

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// BackoffConfig defines reconnection backoff.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       bool          `toml:"jitter"`
}

// Config is the config of hub and its peers.
type Config struct {
	// MaxMessageSize is the maximum size of message accepted by resonance transport.
	MaxMessageSize uint64 `toml:"max_message_size"`

	// HandshakeTimeout bounds waiting for the remote handshake.
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`

	// KeepAlivePeriod is the period of keep-alive batches sent for remote objects.
	KeepAlivePeriod time.Duration `toml:"keep_alive_period"`

	// KeepAliveTimeout is the time after which connection silent in terms of keep-alives is dropped.
	KeepAliveTimeout time.Duration `toml:"keep_alive_timeout"`

	// ObjectReleasePeriod is the period of shared object eviction checks.
	ObjectReleasePeriod time.Duration `toml:"object_release_period"`

	// ObjectReleaseTimeout is the time after which shared object without keep-alive is disposed.
	ObjectReleaseTimeout time.Duration `toml:"object_release_timeout"`

	// ObjectAbortCycles is the number of disposal rounds executed when peer terminates.
	ObjectAbortCycles int `toml:"object_abort_cycles"`

	// ObjectAbortPeriod is the delay between disposal rounds.
	ObjectAbortPeriod time.Duration `toml:"object_abort_period"`

	// StreamAckDistance is the number of consumed items after which consumer acknowledges them.
	StreamAckDistance uint64 `toml:"stream_ack_distance"`

	// StreamAdvanceDistance is the number of items sent ahead of the last acknowledgement.
	StreamAdvanceDistance uint64 `toml:"stream_advance_distance"`

	// StreamBatchSize is the maximum number of items replayed in one batch.
	StreamBatchSize int `toml:"stream_batch_size"`

	// ConnectTimeout is the default connect timeout of outbound calls, 0 means wait forever.
	ConnectTimeout time.Duration `toml:"connect_timeout"`

	// CallTimeout is the default timeout of outbound calls, 0 means no timeout.
	CallTimeout time.Duration `toml:"call_timeout"`

	// ServerPeerCloseTimeout is the time server peer waits for the client to reconnect.
	ServerPeerCloseTimeout time.Duration `toml:"server_peer_close_timeout"`

	Backoff BackoffConfig `toml:"backoff"`
}

// DefaultConfig returns default config.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:         16 * 1024 * 1024,
		HandshakeTimeout:       10 * time.Second,
		KeepAlivePeriod:        15 * time.Second,
		KeepAliveTimeout:       55 * time.Second,
		ObjectReleasePeriod:    10 * time.Second,
		ObjectReleaseTimeout:   65 * time.Second,
		ObjectAbortCycles:      3,
		ObjectAbortPeriod:      100 * time.Millisecond,
		StreamAckDistance:      30,
		StreamAdvanceDistance:  61,
		StreamBatchSize:        64,
		ServerPeerCloseTimeout: 10 * time.Minute,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// LoadConfig loads config from TOML file. Values missing in the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, errors.Wrapf(err, "decoding config file %q failed", path)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate validates config.
func (c Config) Validate() error {
	switch {
	case c.KeepAlivePeriod <= 0:
		return errors.New("keep-alive period must be positive")
	case c.KeepAliveTimeout <= c.KeepAlivePeriod:
		return errors.New("keep-alive timeout must be greater than keep-alive period")
	case c.ObjectReleasePeriod <= 0:
		return errors.New("object release period must be positive")
	case c.ObjectReleaseTimeout <= c.KeepAlivePeriod:
		return errors.New("object release timeout must be greater than keep-alive period")
	case c.ObjectAbortCycles < 1:
		return errors.New("object abort cycles must be at least 1")
	case c.StreamAckDistance == 0:
		return errors.New("stream ack distance must be positive")
	case c.StreamAdvanceDistance < c.StreamAckDistance:
		return errors.New("stream advance distance must not be smaller than ack distance")
	case c.StreamBatchSize < 1:
		return errors.New("stream batch size must be at least 1")
	case c.HandshakeTimeout <= 0:
		return errors.New("handshake timeout must be positive")
	case c.ConnectTimeout < 0 || c.CallTimeout < 0:
		return errors.New("call timeouts must not be negative")
	}
	return nil
}
