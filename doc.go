// Package identity is an embeddable identity and access engine for
// commerce backends: signed access tokens with stateless validation,
// single-use refresh tokens tracked by lineage, exact-match role/
// permission authorization, and a read-through cache whose invalidation
// is driven synchronously by store mutations.
//
// The engine is transport-free. Wire it behind HTTP, gRPC, or a job
// runner; it only needs a store.Store implementation and, optionally, a
// Redis-backed cache:
//
//	eng, err := identity.New().
//		WithStore(pgStore).
//		WithRedis(redisClient).
//		WithLogger(logger).
//		Build()
//
// Authenticate returns a TokenPair. Access tokens are validated
// entirely from their signature and claims; refresh tokens are rotated
// on every use, and presenting an already-rotated token revokes its
// whole lineage.
package identity
