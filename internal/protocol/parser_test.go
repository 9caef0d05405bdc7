package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGet(t *testing.T) {
	p := NewParser()
	consumed, cmd, bodyLen, ok := p.Parse([]byte("get foo\r\nrest"))
	require.True(t, ok)
	assert.Equal(t, len("get foo\r\n"), consumed)
	assert.Equal(t, 0, bodyLen)
	assert.Equal(t, Get, cmd.Kind)
	assert.Equal(t, []string{"foo"}, cmd.Keys)
}

func TestParseGetMultipleKeys(t *testing.T) {
	p := NewParser()
	_, cmd, _, ok := p.Parse([]byte("get x y z\r\n"))
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y", "z"}, cmd.Keys)
}

func TestParseIncompleteHeaderNeedsMoreData(t *testing.T) {
	p := NewParser()
	consumed, cmd, _, ok := p.Parse([]byte("get fo"))
	assert.False(t, ok)
	assert.Equal(t, 0, consumed)
	assert.Nil(t, cmd)
}

func TestParseSetHeader(t *testing.T) {
	p := NewParser()
	consumed, cmd, bodyLen, ok := p.Parse([]byte("set foo 5 0 3\r\nbar\r\n"))
	require.True(t, ok)
	assert.Equal(t, len("set foo 5 0 3\r\n"), consumed)
	assert.Equal(t, Set, cmd.Kind)
	assert.Equal(t, []string{"foo"}, cmd.Keys)
	assert.Equal(t, uint32(5), cmd.Flags)
	assert.Equal(t, 3, cmd.Bytes)
	assert.Equal(t, 5, bodyLen) // 3 value bytes + trailing CRLF
	assert.False(t, cmd.NoReply)
}

func TestParseSetNoReply(t *testing.T) {
	p := NewParser()
	_, cmd, _, ok := p.Parse([]byte("set foo 0 0 1 noreply\r\nx\r\n"))
	require.True(t, ok)
	assert.True(t, cmd.NoReply)
}

func TestParseDeleteNoReply(t *testing.T) {
	p := NewParser()
	_, cmd, bodyLen, ok := p.Parse([]byte("delete foo noreply\r\n"))
	require.True(t, ok)
	assert.Equal(t, Delete, cmd.Kind)
	assert.True(t, cmd.NoReply)
	assert.Equal(t, 0, bodyLen)
}

func TestParseUnknownCommand(t *testing.T) {
	p := NewParser()
	consumed, cmd, bodyLen, ok := p.Parse([]byte("frobnicate foo\r\n"))
	require.True(t, ok, "a malformed line still consumes, it just yields Unknown")
	assert.Equal(t, Unknown, cmd.Kind)
	assert.Equal(t, 0, bodyLen)
	assert.Equal(t, len("frobnicate foo\r\n"), consumed)
}

func TestParseMalformedStorageHeader(t *testing.T) {
	p := NewParser()
	_, cmd, _, ok := p.Parse([]byte("set foo notanumber 0 3\r\n"))
	require.True(t, ok)
	assert.Equal(t, Unknown, cmd.Kind)
}

// TestSplitPacketsYieldSameResult exercises the "parse needs more data"
// contract: feeding the header one byte at a time must produce the exact
// same command as feeding it all at once, per spec.md's split-packet
// property.
func TestSplitPacketsYieldSameResult(t *testing.T) {
	full := []byte("set foo 0 0 3\r\n")
	p := NewParser()

	var prevOK bool
	var cmd *Command
	for i := 1; i <= len(full); i++ {
		c, cmdOut, _, ok := p.Parse(full[:i])
		if ok {
			prevOK = true
			cmd = cmdOut
			assert.Equal(t, len(full), c)
			break
		}
	}
	require.True(t, prevOK)
	assert.Equal(t, Set, cmd.Kind)
}
