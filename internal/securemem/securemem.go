// Package securemem wraps memguard so secrets the server holds between
// requests (the code manager's pending password hashes) live in locked, wiped
// memory rather than ordinary Go strings that linger on the heap and in
// swap.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// String holds one secret in a locked buffer. The zero value behaves as
// an empty secret; construct with NewString or NewStringFromBytes.
type String struct {
	buf       *memguard.LockedBuffer
	destroyed bool
}

// NewString locks a copy of plaintext.
func NewString(plaintext string) *String {
	if plaintext == "" {
		// memguard refuses zero-length buffers.
		return &String{}
	}
	return &String{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// NewStringFromBytes locks data. memguard wipes the input slice, so the
// caller's copy is gone after this returns.
func NewStringFromBytes(data []byte) *String {
	if len(data) == 0 {
		return &String{}
	}
	return &String{buf: memguard.NewBufferFromBytes(data)}
}

// String copies the secret out into an ordinary string. The copy is not
// protected; keep its lifetime short.
func (s *String) String() string {
	if s.unusable() {
		return ""
	}
	return string(s.buf.Bytes())
}

// Bytes copies the secret out into an ordinary slice.
func (s *String) Bytes() []byte {
	if s.unusable() {
		return nil
	}
	locked := s.buf.Bytes()
	out := make([]byte, len(locked))
	copy(out, locked)
	return out
}

// Len returns the secret's length in bytes.
func (s *String) Len() int {
	if s.unusable() {
		return 0
	}
	return len(s.buf.Bytes())
}

// IsEmpty reports whether the secret is empty or destroyed.
func (s *String) IsEmpty() bool {
	return s.Len() == 0
}

// Equal compares the secret against other in constant time.
func (s *String) Equal(other string) bool {
	if s.unusable() {
		return other == ""
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// Clone locks an independent copy of the secret.
func (s *String) Clone() *String {
	if s.unusable() {
		return &String{}
	}
	locked := s.buf.Bytes()
	data := make([]byte, len(locked))
	copy(data, locked)
	return NewStringFromBytes(data)
}

// Destroy wipes the secret. The String must not be used afterwards; every
// accessor then behaves as if it were empty.
func (s *String) Destroy() {
	if s == nil || s.destroyed {
		return
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
	s.destroyed = true
}

func (s *String) unusable() bool {
	return s == nil || s.destroyed || s.buf == nil
}
