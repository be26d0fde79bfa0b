package util

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ValentinKolb/dBridge/bridge/client"
	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/bridge/registry"
	"github.com/ValentinKolb/dBridge/bridge/serializer"
	"github.com/ValentinKolb/dBridge/bridge/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// SetupChannelFlags adds the channel and dispatcher flags to a command
func SetupChannelFlags(cmd *cobra.Command) {
	key := "root"
	cmd.PersistentFlags().String(key, ".", WrapString("Directory the file operations are confined to"))

	key = "segment-length"
	cmd.PersistentFlags().Int(key, common.DefaultSegmentLength, WrapString("Total length of the shared segment in bytes (header included)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, common.DefaultOpTimeoutMs, WrapString("Default per-call timeout in milliseconds"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, common.DefaultConnectTimeoutMs, WrapString("How long to wait for the dispatcher to acknowledge the segment (in milliseconds)"))

	key = "shared-name"
	cmd.PersistentFlags().String(key, "", WrapString("Place the segment in named shared memory (/dev/shm/dbridge-<name>) instead of the Go heap"))

	key = "workers"
	cmd.PersistentFlags().Int(key, common.DefaultDispatcherWorkers, WrapString("Size of the dispatcher's handler pool"))

	key = "metrics"
	cmd.PersistentFlags().Bool(key, false, WrapString("Print the collected metrics in Prometheus text format after the command"))
}

// InitConfig initializes configuration from env files and environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dbridge")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetChannelConfig reads the channel configuration from viper
func GetChannelConfig() common.ChannelConfig {
	return common.ChannelConfig{
		SegmentLength:      viper.GetInt("segment-length"),
		DefaultOpTimeoutMs: viper.GetInt("timeout"),
		ConnectTimeoutMs:   viper.GetInt("connect-timeout"),
		SharedName:         viper.GetString("shared-name"),
		Workers:            viper.GetInt("workers"),
		Serializer:         viper.GetString("serializer"),
		LogLevel:           viper.GetString("log-level"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IBridgeSerializer, error) {
	return serializer.New(viper.GetString("serializer"))
}

// GetRoot returns the configured root directory of the file operations
func GetRoot() string {
	return viper.GetString("root")
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is a connected channel plus the dispatcher serving it, both living
// in the current process.
type Session struct {
	Registry   *registry.Registry
	Dispatcher *server.Dispatcher
	Channel    *client.Channel

	cancel context.CancelFunc
	served chan error
}

// OpenSession starts a dispatcher for the operations installed by register and
// connects a fresh channel to it.
func OpenSession(cfg common.ChannelConfig, register func(*registry.Registry) error) (*Session, error) {
	if err := common.InitLoggers(cfg.LogLevel); err != nil {
		return nil, err
	}
	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	if err := register(reg); err != nil {
		return nil, err
	}

	d, err := server.NewDispatcher(reg, s, server.WithWorkers(cfg.Workers))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		Registry:   reg,
		Dispatcher: d,
		cancel:     cancel,
		served:     make(chan error, 1),
	}
	go func() {
		sess.served <- d.Serve(ctx)
	}()

	ctrl := client.NewController()
	ch := client.NewChannel(ctrl, client.WithSerializer(s))
	if err := ch.Connect(ctx, ctrl, d, cfg); err != nil {
		_ = sess.shutdown()
		return nil, fmt.Errorf("connect channel: %w", err)
	}
	sess.Channel = ch
	return sess, nil
}

// Close disconnects the channel and stops the dispatcher
func (s *Session) Close() error {
	var chErr error
	if s.Channel != nil {
		chErr = s.Channel.Close()
	}
	if err := s.shutdown(); err != nil {
		return err
	}
	return chErr
}

func (s *Session) shutdown() error {
	s.cancel()
	err := s.Dispatcher.Close(time.Second)
	<-s.served
	return err
}

// --------------------------------------------------------------------------
// Argument and result formatting
// --------------------------------------------------------------------------

// ParseOp resolves an operation given as name or as hex id (0x...)
func ParseOp(s string) (common.OpID, string) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if id, err := strconv.ParseUint(s[2:], 16, 32); err == nil {
			return common.OpID(id), s
		}
	}
	return common.OpIDFor(s), s
}

// ParseArg converts a command line argument into a call argument. Valid JSON
// is decoded (integers become int64), everything else is passed as string.
func ParseArg(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return normalize(v)
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}
		return t
	default:
		return v
	}
}

// FormatValue renders a call result as indented JSON. Byte slices holding
// valid UTF-8 are shown as strings.
func FormatValue(v any) (string, error) {
	out, err := json.MarshalIndent(printable(v), "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func printable(v any) any {
	switch t := v.(type) {
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = printable(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k := range t {
			out[k] = printable(t[k])
		}
		return out
	default:
		return v
	}
}
