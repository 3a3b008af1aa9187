package osc

import (
	"errors"
	"math"
	"testing"

	goosc "github.com/hypebeast/go-osc/osc"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var roundTripCases = []Message{
	NewMessage("/timer/start"),
	NewMessage("/set-event", "E1"),
	NewMessage("/set-day", int32(3)),
	NewMessage("/level", float32(0.25)),
	NewMessage("/subtimer/started", "12", "success"),
	NewMessage("/mixed", "abc", int32(-7), float32(1.5), "", "four", int32(math.MaxInt32)),
	NewMessage("/a", "exactly4"),
	NewMessage("/abc"),
	NewMessage("/unicode", "Bühne ✓"),
}

func TestRoundTrip(t *testing.T) {
	for _, m := range roundTripCases {
		b, err := m.MarshalBinary()
		require.NoError(t, err, m.String())

		got, err := Decode(b)
		require.NoError(t, err, m.String())
		assert.Equal(t, m.Address, got.Address)
		if len(m.Arguments) == 0 {
			assert.Empty(t, got.Arguments)
		} else {
			assert.Equal(t, m.Arguments, got.Arguments, m.String())
		}
	}
}

func TestEncodePadding(t *testing.T) {
	for _, m := range roundTripCases {
		b, err := m.MarshalBinary()
		require.NoError(t, err)
		assert.Zero(t, len(b)%4, "total length of %s", m.String())

		addrEnd := padded(len(m.Address) + 1)
		assert.Equal(t, byte(0), b[len(m.Address)], "address must be NUL terminated")
		if len(m.Arguments) == 0 {
			assert.Len(t, b, addrEnd, "no type tag section without arguments")
			continue
		}
		tags, _ := m.TypeTags()
		assert.Equal(t, byte(','), b[addrEnd])
		off := addrEnd + padded(len(tags)+1)
		for _, a := range m.Arguments {
			if s, ok := a.(string); ok {
				w := padded(len(s) + 1)
				assert.Zero(t, w%4)
				assert.Equal(t, s, string(b[off:off+len(s)]))
				off += w
				continue
			}
			off += 4
		}
		assert.Equal(t, len(b), off)
	}
}

func TestEncodeConvenienceTypes(t *testing.T) {
	b, err := Encode("/x", 42, int64(-1), 2.5)
	require.NoError(t, err)
	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(42), int32(-1), float32(2.5)}, m.Arguments)

	_, err = Encode("/x", true)
	assert.Error(t, err)
	_, err = Encode("/x", int64(math.MaxInt64))
	assert.Error(t, err)
	_, err = Encode("/bad\x00addr")
	assert.Error(t, err)
}

func TestDecodeTruncatedPrefixes(t *testing.T) {
	for _, m := range roundTripCases {
		full, err := m.MarshalBinary()
		require.NoError(t, err)
		for n := 0; n < len(full); n++ {
			prefix := full[:n]
			var got Message
			assert.NotPanics(t, func() { got, err = Decode(prefix) }, "prefix %d of %s", n, m.String())
			if err != nil {
				assert.True(t, errors.Is(err, ErrMalformed))
				var merr *MalformedError
				assert.True(t, errors.As(err, &merr))
			}
			// Whatever was decoded must be a prefix of the original arguments.
			require.LessOrEqual(t, len(got.Arguments), len(m.Arguments))
			for i, a := range got.Arguments {
				assert.Equal(t, m.Arguments[i], a)
			}
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		expectErr bool
		addr      string
		args      []any
	}{
		{"empty", []byte{}, true, "", nil},
		{"no NUL", []byte("/timer/start"), true, "", nil},
		{"address only", []byte("/ab\x00"), false, "/ab", nil},
		{"missing comma", []byte("/ab\x00si\x00\x00"), true, "/ab", nil},
		{"unterminated tags", []byte("/ab\x00,ss"), true, "/ab", nil},
		{"string arg cut", []byte("/ab\x00,ss\x00hey\x00wor"), true, "/ab", []any{"hey"}},
		{"int arg cut", []byte("/ab\x00,i\x00\x00\x00\x00"), true, "/ab", nil},
		{"float arg cut", []byte("/ab\x00,sf\x00x\x00\x00\x00\x3f\x80"), true, "/ab", []any{"x"}},
		{"unknown tag stops", []byte("/ab\x00,sbi\x00\x00\x00\x00x\x00\x00\x00\x00\x00\x00\x01"), false, "/ab", []any{"x"}},
		{"bare comma", []byte("/ab\x00,\x00\x00\x00"), false, "/ab", nil},
	}
	for _, tt := range tests {
		got, err := Decode(tt.data)
		if tt.expectErr {
			assert.ErrorIs(t, err, ErrMalformed, tt.name)
		} else {
			assert.NoError(t, err, tt.name)
		}
		assert.Equal(t, tt.addr, got.Address, tt.name)
		assert.Equal(t, tt.args, got.Arguments, tt.name)
	}
}

func TestInteropWithGoOSC(t *testing.T) {
	interop := []Message{
		NewMessage("/set-event", "E1"),
		NewMessage("/set-day", int32(2)),
		NewMessage("/level", float32(0.75)),
		NewMessage("/subtimer/started", "3", "success"),
	}
	for _, m := range interop {
		ours, err := m.MarshalBinary()
		require.NoError(t, err)

		theirs, err := goosc.NewMessage(m.Address, m.Arguments...).MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, theirs, ours, m.String())

		pkt, err := goosc.ParsePacket(string(ours))
		require.NoError(t, err)
		parsed, ok := pkt.(*goosc.Message)
		require.True(t, ok)
		assert.Equal(t, m.Address, parsed.Address)
		assert.Equal(t, m.Arguments, parsed.Arguments)
	}
}

func TestGoldenEncodings(t *testing.T) {
	g := goldie.New(t)
	cases := map[string]Message{
		"timer_start":      NewMessage("/timer/start"),
		"cue_loaded":       NewMessage("/cue/loaded", "1"),
		"subtimer_started": NewMessage("/subtimer/started", int32(5), "success"),
		"level_float":      NewMessage("/level", float32(0.5)),
		"day_set":          NewMessage("/day/set", "Day set to 2"),
	}
	for name, m := range cases {
		b, err := m.MarshalBinary()
		require.NoError(t, err)
		g.Assert(t, name, b)
	}
}

func TestMessageString(t *testing.T) {
	assert.Equal(t, "/timer/start", NewMessage("/timer/start").String())
	assert.Equal(t, `/subtimer/started "3" "success"`, NewMessage("/subtimer/started", "3", "success").String())
	assert.Equal(t, "/set-day 2", NewMessage("/set-day", int32(2)).String())
}
