package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"hubcom/internal/core/domain"
	apperrors "hubcom/pkg/errors"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		name string
		args []string
	}{
		{line: "hello there", name: ""},
		{line: "/", name: ""},
		{line: "/peers", name: "peers", args: []string{}},
		{line: "/CALL bob  av", name: "call", args: []string{"bob", "av"}},
		{line: "/to", name: "to", args: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, args := parseCommand(tt.line)
			assert.Equal(t, tt.name, name)
			if tt.args == nil {
				assert.Nil(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestParseMedia(t *testing.T) {
	mdesc, err := parseMedia("av")
	require.NoError(t, err)
	assert.Equal(t, domain.DirSendRecv, mdesc.AudioDir())
	assert.Equal(t, domain.DirSendRecv, mdesc.VideoDir())
	assert.Equal(t, domain.KindVideo, mdesc.Kind())

	mdesc, err = parseMedia("A")
	require.NoError(t, err)
	assert.NotNil(t, mdesc.Audio)
	assert.Nil(t, mdesc.Video)
	assert.Equal(t, domain.KindAudio, mdesc.Kind())

	mdesc, err = parseMedia("av-")
	require.NoError(t, err)
	assert.Equal(t, domain.DirSendRecv, mdesc.Audio.Dir)
	assert.Equal(t, domain.DirRecvOnly, mdesc.Video.Dir)

	_, err = parseMedia("x")
	assert.Error(t, err)
	_, err = parseMedia("")
	assert.Error(t, err)
	_, err = parseMedia("-")
	assert.Error(t, err)
}

func TestFirstArg(t *testing.T) {
	assert.Equal(t, "av", firstArg(nil, "av"))
	assert.Equal(t, "a", firstArg([]string{"a", "v"}, "av"))
}

func TestConsole_Report(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = noColor })

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ok", nil, ""},
		{"unknown session", apperrors.NewNotFoundError(domain.ErrSessionNotFound, "session 1f"), "end: no such session\n"},
		{"update", fmt.Errorf("update: %w", apperrors.NewNotImplementedError(domain.ErrNotImplemented, "session update")), "end: not supported by this client\n"},
		{"other", errors.New("boom"), "end: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := &console{out: &out}
			c.report("end", tt.err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}
