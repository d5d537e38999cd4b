/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package nexus

import (
	"encoding/binary"
	"encoding/json"
	"io"
)

// ReadMessage reads one length-prefixed frame from r: a 4-byte
// big-endian length followed by that many bytes of JSON, and decodes it
// into a Message drawn from pool. A frame whose declared length exceeds
// MaxFrameBytes or whose body fails to decode is a protocol-framing
// error.
func ReadMessage(r io.Reader, pool *MessagePool) (*Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(lenPrefix[:])
	if size == 0 {
		return nil, NewError(ErrInvalidMessageFormat, "reason", "zero-length frame")
	}
	if size > MaxFrameBytes {
		return nil, NewError(ErrInvalidMessageFormat, "reason", "frame exceeds maximum size", "max", MaxFrameBytes)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	msg := pool.New()
	if err := json.Unmarshal(body, msg); err != nil {
		pool.Recycle(msg)
		return nil, NewError(ErrInvalidMessageFormat, "reason", err.Error())
	}

	return msg, nil
}
