package protocol

import (
	"bytes"
	"strconv"
)

// storageKinds maps a command verb to its Kind, for the five commands
// that carry an inline value body.
var storageKinds = map[string]Kind{
	"set":     Set,
	"add":     Add,
	"replace": Replace,
	"append":  Append,
	"prepend": Prepend,
}

// Parser recognizes one command header at a time from a byte stream. It
// carries no state of its own between calls — every partial header is
// re-parsed in full once more bytes arrive — but Reset exists so callers
// can treat it uniformly with stateful parsers and so the "reset parser"
// step in the connection's read loop has something to call.
type Parser struct{}

// NewParser returns a ready-to-use Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Reset discards any would-be internal state. A no-op today; kept because
// the reactor's read loop resets the parser after every completed command
// and a future stateful parser (e.g. one that avoids re-scanning) would
// need somewhere to hook that.
func (p *Parser) Reset() {}

// Parse looks for one complete "<line>\r\n" header in buf. If none is
// present yet it returns consumed=0, ok=false and the caller should wait
// for more bytes — no state needs to be rolled back. If a header is
// found, it returns the number of bytes consumed (including the header's
// own trailing CRLF), the parsed Command, and bodyLen: the number of
// additional bytes the caller must read off the wire before the command
// can run (the declared value length plus its trailing CRLF, or zero for
// commands with no body).
func (p *Parser) Parse(buf []byte) (consumed int, cmd *Command, bodyLen int, ok bool) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return 0, nil, 0, false
	}
	line := buf[:idx]
	consumed = idx + 2

	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return consumed, &Command{Kind: Unknown}, 0, true
	}

	verb := string(fields[0])
	switch verb {
	case "get":
		if len(fields) < 2 {
			return consumed, &Command{Kind: Unknown}, 0, true
		}
		keys := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			keys = append(keys, string(f))
		}
		return consumed, &Command{Kind: Get, Keys: keys}, 0, true

	case "delete":
		if len(fields) < 2 || len(fields) > 3 {
			return consumed, &Command{Kind: Unknown}, 0, true
		}
		noreply := len(fields) == 3 && string(fields[2]) == "noreply"
		if len(fields) == 3 && !noreply {
			return consumed, &Command{Kind: Unknown}, 0, true
		}
		return consumed, &Command{Kind: Delete, Keys: []string{string(fields[1])}, NoReply: noreply}, 0, true

	default:
		kind, isStorage := storageKinds[verb]
		if !isStorage {
			return consumed, &Command{Kind: Unknown}, 0, true
		}
		return p.parseStorage(kind, fields, consumed)
	}
}

// parseStorage handles "<cmd> <key> <flags> <exptime> <bytes> [noreply]".
func (p *Parser) parseStorage(kind Kind, fields [][]byte, consumed int) (int, *Command, int, bool) {
	if len(fields) < 5 || len(fields) > 6 {
		return consumed, &Command{Kind: Unknown}, 0, true
	}
	flags, err1 := strconv.ParseUint(string(fields[2]), 10, 32)
	exptime, err2 := strconv.ParseInt(string(fields[3]), 10, 64)
	size, err3 := strconv.Atoi(string(fields[4]))
	if err1 != nil || err2 != nil || err3 != nil || size < 0 {
		return consumed, &Command{Kind: Unknown}, 0, true
	}
	noreply := false
	if len(fields) == 6 {
		if string(fields[5]) != "noreply" {
			return consumed, &Command{Kind: Unknown}, 0, true
		}
		noreply = true
	}

	cmd := &Command{
		Kind:    kind,
		Keys:    []string{string(fields[1])},
		Flags:   uint32(flags),
		Exptime: exptime,
		Bytes:   size,
		NoReply: noreply,
	}
	return consumed, cmd, size + 2, true
}
