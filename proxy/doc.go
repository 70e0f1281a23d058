// Package proxy maps CRUD operations onto a storage backend.
//
// A Proxy binds one model's storage.Backend and executes Operations against
// it. Each Operation runs as one task on a worker pool:
//   - a backend transaction is opened (read-only for reads)
//   - one backend call is issued per record, or one query for reads
//   - completions are counted on a Barrier in whatever order they arrive
//   - the transaction is committed and the Operation finalized exactly once
//
// Per-record write failures do not abort sibling records. They are collected
// and attached to the Operation as a storage.BatchError. Transaction-level
// failures are attached as the single exception of the Operation. In every
// case the completion callbacks run exactly once.
package proxy
