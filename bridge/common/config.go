package common

import (
	"fmt"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultSegmentLength      = 10 * 1024 * 1024 // 10MB
	DefaultOpTimeoutMs        = 5000
	DefaultConnectTimeoutMs   = 2000
	DefaultDispatcherWorkers  = 16
	DefaultLogLevel           = "info"
	DefaultSerializerName     = "binary"
	minimumSegmentLengthBytes = HeaderSize + MinRequestSize + 1
)

// --------------------------------------------------------------------------
// Channel configuration struct
// --------------------------------------------------------------------------

// ChannelConfig holds the connect-time parameters of a channel.
type ChannelConfig struct {
	// SegmentLength is the total length of the shared segment (header + payload)
	SegmentLength int
	// DefaultOpTimeoutMs is used for every call without an explicit timeout
	DefaultOpTimeoutMs int
	// ConnectTimeoutMs bounds the wait for the callee to acknowledge a binding
	ConnectTimeoutMs int

	// SharedName places the segment in named shared memory (/dev/shm) instead
	// of the Go heap when set
	SharedName string

	// Workers is the size of the callee's handler pool
	Workers int

	// Serializer selects the wire codec (binary, json)
	Serializer string

	// Logging configuration
	LogLevel string
}

// DefaultChannelConfig returns the configuration used when nothing else is set.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		SegmentLength:      DefaultSegmentLength,
		DefaultOpTimeoutMs: DefaultOpTimeoutMs,
		ConnectTimeoutMs:   DefaultConnectTimeoutMs,
		Workers:            DefaultDispatcherWorkers,
		Serializer:         DefaultSerializerName,
		LogLevel:           DefaultLogLevel,
	}
}

// Validate checks the connect-time invariants. The segment must be able to hold
// the header plus the smallest possible request and the default timeout must be
// positive.
func (c *ChannelConfig) Validate() error {
	if c.SegmentLength < minimumSegmentLengthBytes {
		return fmt.Errorf("segment length %d must exceed header size %d plus the smallest request %d",
			c.SegmentLength, HeaderSize, MinRequestSize)
	}
	if c.DefaultOpTimeoutMs <= 0 {
		return fmt.Errorf("default op timeout must be > 0, got %d ms", c.DefaultOpTimeoutMs)
	}
	if c.ConnectTimeoutMs < 0 {
		return fmt.Errorf("connect timeout must not be negative, got %d ms", c.ConnectTimeoutMs)
	}
	return nil
}

// DefaultOpTimeout returns the default per-call timeout
func (c *ChannelConfig) DefaultOpTimeout() time.Duration {
	return time.Duration(c.DefaultOpTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the connect handshake timeout, falling back to the default
func (c *ChannelConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutMs == 0 {
		return DefaultConnectTimeoutMs * time.Millisecond
	}
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// PayloadCapacity returns the number of payload bytes a segment of this length offers
func (c *ChannelConfig) PayloadCapacity() int {
	return c.SegmentLength - HeaderSize
}

// String returns a formatted string representation of the configuration
func (c *ChannelConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Segment settings
	addSection("Segment")
	addField("Length", fmt.Sprintf("%d bytes", c.SegmentLength))
	addField("Payload Capacity", fmt.Sprintf("%d bytes", c.PayloadCapacity()))
	if c.SharedName != "" {
		addField("Shared Name", c.SharedName)
	} else {
		addField("Shared Name", "(heap)")
	}

	// Call settings
	addSection("Calls")
	addField("Default Timeout", fmt.Sprintf("%d ms", c.DefaultOpTimeoutMs))
	addField("Connect Timeout", fmt.Sprintf("%d ms", c.ConnectTimeout().Milliseconds()))
	addField("Serializer", c.Serializer)

	// Callee settings
	addSection("Dispatcher")
	addField("Workers", fmt.Sprintf("%d", c.Workers))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
