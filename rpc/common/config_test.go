package common

import (
	"errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math"
	"strings"
	"testing"
)

// TestDefaultConfigsAreValid tests that the defaults pass validation
func TestDefaultConfigsAreValid(t *testing.T) {
	server := DefaultServerConfig()
	require.NoError(t, server.Validate())
	assert.Equal(t, "0.0.0.0:7300", server.Endpoint())

	client := DefaultClientConfig()
	require.NoError(t, client.Validate())
	assert.Equal(t, "127.0.0.1:7300", client.Endpoint())
}

// TestServerConfigValidation tests that every invalid field is reported
func TestServerConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *ServerConfig)
	}{
		{"unknown transport", func(c *ServerConfig) { c.Transport = "udp" }},
		{"port out of range", func(c *ServerConfig) { c.Port = 70000 }},
		{"unix without path", func(c *ServerConfig) { c.Transport = TransportUnix; c.Address = "" }},
		{"negative backlog", func(c *ServerConfig) { c.Backlog = -1 }},
		{"zero connections", func(c *ServerConfig) { c.MaxConnections = 0 }},
		{"zero buffer size", func(c *ServerConfig) { c.BufferSize = 0 }},
		{"zero send contexts", func(c *ServerConfig) { c.SendContexts = 0 }},
		{"negative timeout", func(c *ServerConfig) { c.TimeoutSecond = -1 }},
		{"negative heartbeat", func(c *ServerConfig) { c.HeartbeatSecond = -1 }},
		{"heartbeat longer than timeout", func(c *ServerConfig) { c.HeartbeatSecond = 10; c.TimeoutSecond = 5 }},
		{"zero content size", func(c *ServerConfig) { c.Protocol.MaxContentSize = 0 }},
		{"message size too small", func(c *ServerConfig) { c.MaxMessageSize = c.Protocol.MaxContentSize }},
		{"content size beyond int32", func(c *ServerConfig) {
			c.Protocol.MaxContentSize = math.MaxInt32 - 4
			c.MaxMessageSize = math.MaxInt32
		}},
		{"message size beyond int32", func(c *ServerConfig) {
			tooBig := int64(math.MaxInt32)
			c.MaxMessageSize = int(tooBig + 1)
		}},
		{"unknown compression", func(c *ServerConfig) { c.Protocol.Compression = "lz4" }},
		{"negative threshold", func(c *ServerConfig) { c.Protocol.CompressThreshold = -1 }},
		{"key not hex", func(c *ServerConfig) { c.Protocol.EncryptionKey = "xyz" }},
		{"key too short", func(c *ServerConfig) { c.Protocol.EncryptionKey = "abcd" }},
		{"signature too long", func(c *ServerConfig) { c.Protocol.Signature = strings.Repeat("s", 256) }},
		{"negative socket buffer", func(c *ServerConfig) { c.Socket.RecvBufferSize = -1 }},
		{"invalid log level", func(c *ServerConfig) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultServerConfig()
			tt.modify(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "error should wrap ErrInvalidConfig: %v", err)
		})
	}
}

// TestEncryptionNeedsLargerMessages tests that the encryption overhead is part of the frame size
func TestEncryptionNeedsLargerMessages(t *testing.T) {
	c := DefaultServerConfig()
	c.Protocol.EncryptionKey = strings.Repeat("ab", 32)
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c.MaxMessageSize = c.Protocol.MaxFrameSize()
	assert.NoError(t, c.Validate())
}

// TestClientConfigValidation tests the client specific fields
func TestClientConfigValidation(t *testing.T) {
	c := DefaultClientConfig()
	c.DialTimeoutSecond = -1
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = DefaultClientConfig()
	c.Address = ""
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

	c = DefaultClientConfig()
	c.Transport = TransportUnix
	c.Address = "/tmp/dnet.sock"
	require.NoError(t, c.Validate())
	assert.Equal(t, "/tmp/dnet.sock", c.Endpoint())
}

// TestConfigString tests that the rendered config contains the important values
func TestConfigString(t *testing.T) {
	c := DefaultServerConfig()
	c.Protocol.Compression = "zstd"
	s := c.String()
	for _, want := range []string{"LISTENER", "PROTOCOL", "0.0.0.0:7300", "zstd", "Max Connections", "LOGGING"} {
		assert.Contains(t, s, want)
	}

	client := DefaultClientConfig()
	assert.Contains(t, client.String(), "CONNECTOR")
	assert.Contains(t, client.String(), "none")
}

// TestParseLogLevel tests the log level parser
func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug":    logger.DEBUG,
		"":         logger.INFO,
		"INFO":     logger.INFO,
		"warn":     logger.WARNING,
		"warning":  logger.WARNING,
		"error":    logger.ERROR,
		"critical": logger.CRITICAL,
	}
	for in, want := range tests {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("loud"))
	assert.NoError(t, InitLoggers("error"))
}
