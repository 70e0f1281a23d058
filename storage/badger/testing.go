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


package badger

import "github.com/shepsii/dbproxies/storage"

// NewMemoryStore creates an object store for schema on a fresh in-memory
// connection, for testing.
// Caller must close the connection when done.
func NewMemoryStore(schema *storage.Schema, opts ...Option) (*Store, *Connection, error) {
	conn, err := NewConnection("", true)
	if err != nil {
		return nil, nil, err
	}

	store, err := NewStore(conn, schema, opts...)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	return store, conn, nil
}
