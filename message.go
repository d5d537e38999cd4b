/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/nexuschat/nexus/shared/itempool"
	"github.com/nexuschat/nexus/shared/pool"
)

// MaxFrameBytes bounds a single wire message's encoded body, independent
// of any field-level length limit, to keep a malicious or buggy peer
// from forcing an unbounded read buffer allocation.
const MaxFrameBytes = 1 << 20 // 1 MiB

// Message is a single length-prefixed wire frame: a Kind discriminator
// plus a body of named fields. Fields is a plain map rather
// than per-Kind structs so one wire format serves every command and
// event without a struct explosion; handlers type-assert the fields
// they expect.
type Message struct {
	Kind   Kind           `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Reset satisfies pool.Resettable so Messages can be recycled through a
// sync.Pool-backed pool without leaking stale field maps.
func (msg *Message) Reset() {
	msg.Kind = ""
	msg.Fields = nil
}

// Scrub satisfies itempool.ScrubbableItem, the channel-backed sibling of
// pool.Resettable that MessagePool is built on.
func (msg *Message) Scrub() {
	msg.Reset()
}

// String renders the message as its wire-format JSON body, without the
// length prefix, mainly for logging.
func (msg *Message) String() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

// Field fetches a named field, returning ok=false if absent.
func (msg *Message) Field(name string) (any, bool) {
	if msg.Fields == nil {
		return nil, false
	}
	v, ok := msg.Fields[name]
	return v, ok
}

// StringField fetches a named field as a string, returning "" if absent
// or not a string.
func (msg *Message) StringField(name string) string {
	v, ok := msg.Field(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// BoolField fetches a named field as a bool, returning false if absent
// or not a bool.
func (msg *Message) BoolField(name string) bool {
	v, ok := msg.Field(name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IntField fetches a named field as an int, returning 0 if absent or not
// a number. JSON numbers decode to float64, so this also accepts that
// shape (the common case for a field read back off the wire).
func (msg *Message) IntField(name string) int {
	v, ok := msg.Field(name)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// bufferPool recycles the *bytes.Buffer used to assemble a frame's
// length-prefixed bytes before it is written to the connection.
// *bytes.Buffer already implements Reset() so it satisfies
// pool.Resettable with no adapter needed.
var bufferPool = pool.New(func() *bytes.Buffer { return new(bytes.Buffer) })

// RenderBuffer encodes msg as length-prefixed JSON: a 4-byte big-endian
// length followed by that many bytes of JSON. The returned buffer is
// borrowed from a shared pool; callers must return it with RecycleBuffer
// once its bytes have been written to the connection.
func (msg *Message) RenderBuffer() (*bytes.Buffer, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("nexus: encode message: %w", err)
	}
	if len(body) > MaxFrameBytes {
		return nil, fmt.Errorf("nexus: encoded message exceeds %d bytes", MaxFrameBytes)
	}

	buf := bufferPool.New()
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	buf.Write(lenPrefix[:])
	buf.Write(body)

	return buf, nil
}

// RecycleBuffer returns a buffer obtained from RenderBuffer to the pool.
func RecycleBuffer(buf *bytes.Buffer) {
	bufferPool.Recycle(buf)
}

// MessagePool holds recycled Message objects, backed by
// shared/itempool's channel-backed generic pool.
type MessagePool struct {
	pool itempool.Pool[*Message]
}

// NewMessagePool creates a new pool of Messages with the given capacity.
func NewMessagePool(max int) *MessagePool {
	return &MessagePool{pool: itempool.New(max, func() *Message { return &Message{} })}
}

// Warmup fills the pool with up to num freshly allocated Messages.
func (p *MessagePool) Warmup(num int) {
	p.pool.Warmup(num)
}

// New takes a Message from the pool, allocating a new one if empty.
func (p *MessagePool) New() *Message {
	return p.pool.New()
}

// Recycle resets and returns a Message to the pool.
func (p *MessagePool) Recycle(msg *Message) {
	p.pool.Recycle(msg)
}
