package protocol

import (
	"strconv"
	"strings"
)

// Store is the subset of *cache.LRU the executor needs. Keeping it as an
// interface here, rather than importing the concrete type, lets tests
// exercise Execute against a fake without pulling in the cache package's
// invariants. Flags are carried alongside the value as a genuine
// out-of-band field on the cache entry (see internal/cache's entry.flags)
// rather than folded into the stored bytes, so they never count against
// the cache's max_bytes budget.
type Store interface {
	Put(key string, value []byte, flags uint32) bool
	PutIfAbsent(key string, value []byte, flags uint32) bool
	Set(key string, value []byte, flags uint32) bool
	Delete(key string) bool
	Get(key string) (value []byte, flags uint32, ok bool)
	Mutate(key string, fn func(old []byte, oldFlags uint32) (newValue []byte, newFlags uint32, ok bool)) bool
}

// Execute applies a parsed command plus its inline body (ignored unless
// the command declared one) against store, returning the protocol reply
// or "" if the command was marked noreply. The reply, when non-empty,
// always ends in "\r\n".
func Execute(cmd *Command, body []byte, store Store) string {
	var reply string
	switch cmd.Kind {
	case Set:
		if store.Put(cmd.Keys[0], body, cmd.Flags) {
			reply = "STORED\r\n"
		} else {
			reply = "NOT_STORED\r\n"
		}

	case Add:
		if store.PutIfAbsent(cmd.Keys[0], body, cmd.Flags) {
			reply = "STORED\r\n"
		} else {
			reply = "NOT_STORED\r\n"
		}

	case Replace:
		if store.Set(cmd.Keys[0], body, cmd.Flags) {
			reply = "STORED\r\n"
		} else {
			reply = "NOT_STORED\r\n"
		}

	case Append:
		reply = concatReply(cmd, body, store, false)

	case Prepend:
		reply = concatReply(cmd, body, store, true)

	case Delete:
		if store.Delete(cmd.Keys[0]) {
			reply = "DELETED\r\n"
		} else {
			reply = "NOT_FOUND\r\n"
		}

	case Get:
		reply = executeGet(cmd.Keys, store)

	default:
		reply = "ERROR\r\n"
	}

	if cmd.NoReply {
		return ""
	}
	return reply
}

// concatReply implements append/prepend: the existing value's flags are
// preserved (the incoming command's flags field is ignored, matching
// memcached), and the body is spliced onto the raw value atomically under
// the store's lock via Mutate.
func concatReply(cmd *Command, body []byte, store Store, prepend bool) string {
	ok := store.Mutate(cmd.Keys[0], func(old []byte, oldFlags uint32) ([]byte, uint32, bool) {
		var combined []byte
		if prepend {
			combined = append(append([]byte{}, body...), old...)
		} else {
			combined = append(append([]byte{}, old...), body...)
		}
		return combined, oldFlags, true
	})
	if ok {
		return "STORED\r\n"
	}
	return "NOT_STORED\r\n"
}

// executeGet builds the multi-key VALUE.../END reply. Each present key
// emits one "VALUE <key> <flags> <bytes>\r\n<body>\r\n" block; absent keys
// are simply skipped, and the whole reply always ends with "END\r\n".
func executeGet(keys []string, store Store) string {
	var b strings.Builder
	for _, key := range keys {
		value, flags, ok := store.Get(key)
		if !ok {
			continue
		}
		b.WriteString("VALUE ")
		b.WriteString(key)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(flags), 10))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(len(value)))
		b.WriteString("\r\n")
		b.Write(value)
		b.WriteString("\r\n")
	}
	b.WriteString("END\r\n")
	return b.String()
}
