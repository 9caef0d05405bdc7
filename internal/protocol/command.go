// Package protocol implements the memcached-family text wire protocol:
// incrementally parsing commands out of a byte stream (Parser) and
// applying a parsed command against a cache, producing a reply (Execute).
package protocol

// Kind identifies which command a Command descriptor carries.
type Kind int

const (
	// Unknown marks a header the parser could not recognize. consumed
	// still advances past the offending line so the connection doesn't
	// wedge; Execute replies ERROR for it.
	Unknown Kind = iota
	Get
	Set
	Add
	Replace
	Append
	Prepend
	Delete
)

// String names a Kind for use as a metrics label.
func (k Kind) String() string {
	switch k {
	case Get:
		return "get"
	case Set:
		return "set"
	case Add:
		return "add"
	case Replace:
		return "replace"
	case Append:
		return "append"
	case Prepend:
		return "prepend"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Command is the result of parsing one command header. Storage commands
// (Set/Add/Replace/Append/Prepend) carry Bytes, the number of value bytes
// that follow on the wire; Get carries one or more Keys; Delete and the
// storage commands carry exactly one key in Keys[0].
type Command struct {
	Kind    Kind
	Keys    []string
	Flags   uint32
	Exptime int64
	Bytes   int
	NoReply bool
}

// HasBody reports whether this command declares an inline value body that
// must be read off the wire before it can execute.
func (c *Command) HasBody() bool {
	switch c.Kind {
	case Set, Add, Replace, Append, Prepend:
		return true
	default:
		return false
	}
}
