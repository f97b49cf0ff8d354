// Package password treats credential hashing as a black box behind the
// Verifier interface. The engine only ever asks "does this password
// match this stored hash"; the algorithm is an integration choice.
package password

import "errors"

// Verifier checks a plaintext password against a stored hash.
type Verifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// Hasher produces hashes the matching Verifier accepts. Provisioning
// code uses it; the engine itself never hashes.
type Hasher interface {
	Hash(password string) (string, error)
}

// ErrMalformedHash is returned when a stored hash cannot be parsed.
var ErrMalformedHash = errors.New("password: malformed hash")
