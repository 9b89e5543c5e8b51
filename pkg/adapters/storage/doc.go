// Package storage provides run, workflow and entity storage.
//
// Implementations:
//   - redis: Redis with JSON serialization; run snapshots carry a TTL and
//     proxy pools are lists popped atomically
//   - postgres: accounts and proxy pools in PostgreSQL via pgx
//   - memory: In-memory for tests and single-process use
package storage
