package link

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
)

const (
	nonceSize = 16
	tagSize   = 16
)

// katKey and katExpected are a fixed RFC 4231 test-case-1 HMAC-SHA256
// vector (key 0x0b*20, data "Hi There"). runKAT verifies the local
// crypto/hmac + crypto/sha256 stack produces the published digest
// before the engine trusts it to authenticate a peer, per spec.md §3
// "on startup, triggers enter_safe_state if the self-test fails."
var (
	katKey = []byte{
		0x0b, 0x0b, 0x0b, 0x0b, 0x0b, 0x0b, 0x0b, 0x0b,
		0x0b, 0x0b, 0x0b, 0x0b, 0x0b, 0x0b, 0x0b, 0x0b,
		0x0b, 0x0b, 0x0b, 0x0b,
	}
	katData     = []byte("Hi There")
	katExpected = []byte{
		0xb0, 0x34, 0x4c, 0x61, 0xd8, 0xdb, 0x38, 0x53,
		0x5c, 0xa8, 0xaf, 0xce, 0xaf, 0x0b, 0xf1, 0x2b,
		0x88, 0x1d, 0xc2, 0x00, 0xc9, 0x83, 0x3d, 0xa7,
		0x26, 0xe9, 0x37, 0x6c, 0x2e, 0x32, 0xcf, 0xf7,
	}
)

// runKAT verifies HMAC-SHA256 against a known-answer vector.
func runKAT() error {
	mac := hmac.New(sha256.New, katKey)
	mac.Write(katData)
	if !hmac.Equal(mac.Sum(nil), katExpected) {
		return ErrKATFailure
	}
	return nil
}

// newNonce draws a fresh 16-byte nonce from the system CSPRNG.
func newNonce() ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}

// handshakeTag computes the 16-byte tag truncated from
// HMAC-SHA256(secret, nonce). It is only called when a shared secret is
// configured; with an empty secret the link runs unauthenticated,
// LINK_SYNC_RESP carries the nonce alone, and no tag is computed or
// checked on either side.
func handshakeTag(secret, nonce []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(nonce)
	return mac.Sum(nil)[:tagSize]
}
