// Package ledger implements the tamper-evident clinical audit ledger: an
// append-only store of hash-chained entries.
//
// Each logical record (event_uuid) forms its own chain. An entry's
// signature_hash covers its identifying fields plus the signature of its
// parent entry, anchored at the well-known GenesisHash constant, so any
// after-the-fact modification is detectable by recomputation. There is no
// update or delete path: the Store interface only appends and reads.
//
// Two implementations of Store are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger
