// Package localstore provides the durable, device-scoped key-value store
// that backs every collection's offline cache and guest buffer.
//
// Keys are identity keys such as "cart_guest" or "wishlist_u42"; values are
// JSON-encoded item lists. Two implementations share one method set:
//
//   - Store: SQLite (WAL mode, single connection) for the CLI
//   - Memory: a mutex-guarded map for tests and the scenario harness
//
// # Database Configuration
//
//   - WAL mode: readers do not block the writer
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// Reads of a missing key report ok=false rather than an error.
package localstore
