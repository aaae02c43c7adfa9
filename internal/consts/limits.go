// Package consts collects the timeouts and size limits shared across the
// protocol engine, kept in one place so they stay consistent between the
// listener, connection pump, and codemgr.
package consts

import "time"

// Network buffer and message size limits.
const (
	// BufferSize64KB is the read buffer size for a connection's frame decoder.
	BufferSize64KB = 64 * 1024
	// MaxFrameSize is the largest single wire frame the decoder accepts
	// before it closes the connection as abusive.
	MaxFrameSize = 1024 * 1024
	// MaxUploadSize is the largest file accepted by the upload endpoint.
	MaxUploadSize = 10 * 1024 * 1024
)

// Connection deadlines.
const (
	// ReadTimeout is the idle read deadline renewed on every received frame.
	ReadTimeout = 10 * time.Minute
	// WriteTimeout bounds a single frame write.
	WriteTimeout = 30 * time.Second
	// ShutdownGrace is how long the listener waits for connections to drain
	// on a graceful shutdown before closing them outright.
	ShutdownGrace = 10 * time.Second
)

// Confirmation code lifetimes.
const (
	// CodeLifetime is how long a confirmation or password-reset code stays valid.
	CodeLifetime = 1 * time.Hour
	// MaxCodeAttempts is the number of wrong guesses allowed before a code locks out.
	MaxCodeAttempts = 3
	// InviteLinkSweepInterval is how often the listener sweeps expired invite links.
	InviteLinkSweepInterval = 10 * time.Minute
)

// Invite links.
const (
	// InviteCodeLength is the length of a generated invite-link code.
	InviteCodeLength = 10
	// InviteLinkGrace is how long past expireAt a link is still accepted,
	// to tolerate clock skew between server and clients.
	InviteLinkGrace = 30 * time.Second
	// InviteLinkMinLifetime is the floor a nonzero expiry is clamped to.
	InviteLinkMinLifetime = 2 * time.Minute
)

// Chat pagination.
const (
	// MaxMessagesPerFetch caps one getMessages reply.
	MaxMessagesPerFetch = 50
)
