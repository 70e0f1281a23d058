// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage provides the backend-neutral storage layer for dbproxies.
//
// This package defines the contracts every storage engine implements and the
// pieces shared by all of them: schema derivation, the record codec and the
// in-memory query helpers used where an engine cannot push a query down.
//
// # Architecture
//
//   - Backend: one storage engine bound to one model's Schema
//   - Tx: a transaction scoped to a single operation
//   - Schema: the persisted column layout derived from a core.Model
//   - Codec: converts record data to storage rows and back
//
// Engines live in sub-packages:
//
//	relational.New(conn, schema)   // database/sql with sqlite or duckdb dialects
//	badger.NewStore(conn, schema)  // BadgerDB key/value store with secondary indices
//
// # Completions
//
// Per-record Tx calls report through a Completion rather than a return value.
// An engine may complete calls on other goroutines and in any order; callers
// count completions instead of relying on issue order.
//
// # Thread Safety
//
// All Backend implementations must be thread-safe and support
// concurrent access from multiple goroutines. A Tx belongs to one operation.
//
// # Context Support
//
// Tx methods accept context.Context for cancellation. Pass
// context.Background() for operations without specific timeout requirements.
package storage
