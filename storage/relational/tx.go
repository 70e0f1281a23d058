package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// tx runs one operation's statements either inside a database transaction
// or, for dialects that cannot recover from a failed statement, in
// autocommit on a dedicated connection.
type tx struct {
	store *Store
	q     DBTX
	sqlTx *sql.Tx
	conn  *sql.Conn
}

func (t *tx) schema() *storage.Schema {
	return t.store.schema
}

// Create implements storage.Tx.
func (t *tx) Create(ctx context.Context, rec *core.Record, done storage.Completion) {
	s := t.schema()
	row, err := s.Encode(rec.Data())
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}

	stmt, args := insertSQL(s, row)
	res, err := t.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		err = mapExecError(s.Name, rec.ID(), err)
		t.store.logger.Error("insert failed", "table", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	}

	out := storage.Outcome{Data: rec.Data()}
	if row[s.PrimaryKey] == nil && s.IDColumn().Type == core.FieldTypeInt {
		if id, err := res.LastInsertId(); err == nil {
			out.ID = id
			out.Data[s.PrimaryKey] = id
		}
	}
	done(out)
}

// Update implements storage.Tx. Only modified persisted columns are
// written; a record without persisted changes completes without a
// statement.
func (t *tx) Update(ctx context.Context, rec *core.Record, done storage.Completion) {
	s := t.schema()
	data := rec.Data()

	var (
		cols            []string
		values          []any
		implicitChanged bool
	)
	changes := make(map[string]any)
	for _, name := range rec.Modified() {
		if name == s.PrimaryKey {
			continue
		}
		if c, ok := s.Column(name); ok && !c.Implicit {
			v, err := s.EncodeValue(name, data[name])
			if err != nil {
				done(storage.Outcome{Err: err})
				return
			}
			cols = append(cols, name)
			values = append(values, v)
			changes[name] = data[name]
			continue
		}
		if s.ImplicitEnabled() && !s.IsExplicit(name) {
			implicitChanged = true
			changes[name] = data[name]
		}
	}
	if implicitChanged {
		v, err := s.EncodeImplicit(data)
		if err != nil {
			done(storage.Outcome{Err: err})
			return
		}
		cols = append(cols, s.ImplicitColumn)
		values = append(values, v)
	}
	if len(cols) == 0 {
		done(storage.Outcome{Data: data, Changes: changes})
		return
	}

	id, err := s.EncodeValue(s.PrimaryKey, rec.ID())
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}
	stmt, args := updateSQL(s, cols, values, id)
	if _, err := t.q.ExecContext(ctx, stmt, args...); err != nil {
		err = mapExecError(s.Name, rec.ID(), err)
		t.store.logger.Error("update failed", "table", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	}
	done(storage.Outcome{Data: data, Changes: changes})
}

// Erase implements storage.Tx.
func (t *tx) Erase(ctx context.Context, rec *core.Record, done storage.Completion) {
	s := t.schema()
	if rec.ID() == nil {
		done(storage.Outcome{Err: storage.ErrMissingID})
		return
	}
	id, err := s.EncodeValue(s.PrimaryKey, rec.ID())
	if err != nil {
		done(storage.Outcome{Err: err})
		return
	}

	stmt, args := deleteSQL(s, id)
	if _, err := t.q.ExecContext(ctx, stmt, args...); err != nil {
		err = mapExecError(s.Name, rec.ID(), err)
		t.store.logger.Error("delete failed", "table", s.Name, "id", rec.ID(), "err", err)
		done(storage.Outcome{Err: err})
		return
	}
	done(storage.Outcome{Data: rec.Data()})
}

// Read implements storage.Tx.
func (t *tx) Read(ctx context.Context, q *storage.Query, done storage.ReadCompletion) {
	s := t.schema()
	stmt, args, err := selectSQL(s, t.store.conn.Dialect(), q)
	if err != nil {
		done(nil, err)
		return
	}

	rows, err := t.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		t.store.logger.Error("select failed", "table", s.Name, "err", err)
		done(nil, &storage.QueryError{Statement: stmt, Err: err})
		return
	}
	defer rows.Close()

	out, err := scanRows(s, rows)
	if err != nil {
		done(nil, &storage.QueryError{Statement: stmt, Err: err})
		return
	}
	done(out, nil)
}

func scanRows(s *storage.Schema, rows *sql.Rows) ([]core.Data, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]core.Data, 0)
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(storage.Row, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		data, err := s.Decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// Commit implements storage.Tx.
func (t *tx) Commit() error {
	if t.sqlTx != nil {
		if err := t.sqlTx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %w", storage.ErrTransactionFailed, err)
		}
		return nil
	}
	return t.conn.Close()
}

// Rollback implements storage.Tx. Autocommit statements cannot be undone;
// rolling back only releases the connection.
func (t *tx) Rollback() error {
	if t.sqlTx != nil {
		if err := t.sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return err
		}
		return nil
	}
	return t.conn.Close()
}
