package admission

import "crypto/rand"

// codeAlphabet avoids ambiguous glyphs (0/O, 1/I/L) so codes survive
// being read aloud across a room.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewSessionID generates the short session identifier, distinct from the
// join code.
func NewSessionID() string { return randomCode(8) }

// NewJoinCode generates the secret the host displays. Regenerated for
// every hosting session.
func NewJoinCode() string { return randomCode(6) }

func randomCode(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failure means the platform is broken
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}
