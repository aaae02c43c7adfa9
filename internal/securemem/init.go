package securemem

import "github.com/awnumar/memguard"

// init arms memguard as soon as anything in the server touches a secret:
// locked buffers are purged on an interrupt signal, so a killed process
// leaves no plaintext pending-account hashes behind.
func init() {
	memguard.CatchInterrupt()
}

// Purge destroys every locked buffer the process still holds. Called on
// graceful shutdown, after the listener has drained.
func Purge() {
	memguard.Purge()
}
