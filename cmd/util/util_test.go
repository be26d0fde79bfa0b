package util

import (
	"context"
	"strings"
	"testing"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/ValentinKolb/dBridge/bridge/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArg(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"-1", int64(-1)},
		{"1.5", 1.5},
		{"true", true},
		{"null", nil},
		{`"quoted"`, "quoted"},
		{"plain", "plain"},
		{"/a.txt", "/a.txt"},
		{"1 2", "1 2"},
		{`[1, "x"]`, []any{int64(1), "x"}},
		{`{"n": 3}`, map[string]any{"n": int64(3)}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseArg(tc.in))
		})
	}
}

func TestParseOp(t *testing.T) {
	id, _ := ParseOp("0x0000002a")
	assert.Equal(t, common.OpID(42), id)

	id, label := ParseOp("fs.stat")
	assert.Equal(t, common.OpIDFor("fs.stat"), id)
	assert.Equal(t, "fs.stat", label)

	id, _ = ParseOp("0xzz")
	assert.Equal(t, common.OpIDFor("0xzz"), id)
}

func TestFormatValue(t *testing.T) {
	out, err := FormatValue(map[string]any{
		"data": []byte("text"),
		"list": []any{[]byte{0xff}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": "text", "list": ["/w=="]}`, out)
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString("one two three four five six seven eight nine ten eleven twelve")
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
}

func TestSession(t *testing.T) {
	cfg := common.DefaultChannelConfig()
	cfg.SegmentLength = 4096
	cfg.LogLevel = "error"

	sess, err := OpenSession(cfg, func(reg *registry.Registry) error {
		_, err := reg.RegisterNamed("echo", func(_ context.Context, args []any) (any, error) {
			return args, nil
		})
		return err
	})
	require.NoError(t, err)

	v, err := sess.Channel.CallNamed("echo", int64(1), "two")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), "two"}, v)

	require.NoError(t, sess.Close())
	assert.False(t, sess.Channel.IsReady())
}

func TestSessionRejectsBadConfig(t *testing.T) {
	cfg := common.DefaultChannelConfig()
	cfg.Serializer = "xml"
	_, err := OpenSession(cfg, func(*registry.Registry) error { return nil })
	assert.Error(t, err)

	cfg = common.DefaultChannelConfig()
	cfg.SegmentLength = 8
	_, err = OpenSession(cfg, func(*registry.Registry) error { return nil })
	assert.Error(t, err)
}
