package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchAddr(t *testing.T) {
	tests := []struct {
		path           string
		addr           string
		expectMatch    bool
		expectCaptures []string
	}{
		{"/cue/@/load", "/cue/12/load", true, []string{"12"}},
		{"/cue/@/load", "/cue/CUE7/load", true, []string{"CUE7"}},
		{"/subtimer/cue/@/start", "/subtimer/cue/3/start", true, []string{"3"}},
		{"/subtimer/cue/@/stop", "/subtimer/cue/3/start", false, nil},
		{"/meta/logging/@/level", "/meta/logging/engine/level", true, []string{"engine"}},
		{"/timer/start", "/timer/start", true, nil},
		{"/timer/start", "/timer/stop", false, nil},
		{"/cue/@/load", "/cue/12", false, nil},
		{"/cue/@/load", "/cue/12/load/extra", false, nil},
		{"/cue/@/load", "/cue//load", false, nil},
		{"/status", "status", false, nil},

		{"/meta/logging/@/level", "/meta/logging/engine/level/extra", false, nil},
		{"/cue/@/@", "/cue/12/a", true, []string{"12", "a"}},

		// "*" is an ordinary segment.
		{"/timer/*", "/timer/start", false, nil},
		{"/timer/*", "/timer/*", true, nil},
	}

	for _, tt := range tests {
		ok, caps := matchAddr(tt.path, tt.addr)
		assert.Equal(t, tt.expectMatch, ok, "match result mismatch for path=%q addr=%q", tt.path, tt.addr)
		if tt.expectMatch {
			assert.Equal(t, tt.expectCaptures, caps, "captures mismatch for path=%q addr=%q", tt.path, tt.addr)
		}
	}
}
