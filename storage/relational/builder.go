package relational

import (
	"fmt"
	"strings"

	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

func createTableSQL(s *storage.Schema, d Dialect) string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		def := c.Name + " " + d.ColumnType(c)
		if c.Name == s.PrimaryKey {
			def += " PRIMARY KEY"
		}
		cols[i] = def
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.Name, strings.Join(cols, ", "))
}

func dropTableSQL(s *storage.Schema) string {
	return "DROP TABLE IF EXISTS " + s.Name
}

func insertSQL(s *storage.Schema, row storage.Row) (string, []any) {
	names := s.ColumnNames()
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = row[name]
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.Name, strings.Join(names, ", "), placeholders)
	return stmt, args
}

// updateSQL sets the given columns of the row identified by id.
func updateSQL(s *storage.Schema, cols []string, values []any, id any) (string, []any) {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	args := append(append([]any{}, values...), id)
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", s.Name, strings.Join(sets, ", "), s.PrimaryKey)
	return stmt, args
}

func deleteSQL(s *storage.Schema, id any) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.Name, s.PrimaryKey), []any{id}
}

func selectByIDSQL(s *storage.Schema, id any) (string, []any) {
	return fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", s.Name, s.PrimaryKey), []any{id}
}

// selectSQL translates a query into a statement and its bound values.
// Equality filters bind their value; substring filters embed a LIKE
// pattern literal. Sorters render in declared order and pagination is
// appended only for paged queries.
func selectSQL(s *storage.Schema, d Dialect, q *storage.Query) (string, []any, error) {
	if q.ByID() {
		id, err := s.EncodeValue(s.PrimaryKey, q.ID)
		if err != nil {
			return "", nil, err
		}
		stmt, args := selectByIDSQL(s, id)
		return stmt, args, nil
	}

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT * FROM ")
	b.WriteString(s.Name)

	var where []string
	for _, f := range q.Filters {
		if f.Property == "" {
			continue
		}
		if !core.IsIdentifier(f.Property) {
			return "", nil, fmt.Errorf("%w: filter property %q", storage.ErrInvalidQuery, f.Property)
		}
		if f.AnyMatch {
			where = append(where, fmt.Sprintf("%s LIKE '%%%s%%'", f.Property, likeLiteral(f.Value)))
			continue
		}
		v, err := s.EncodeValue(f.Property, f.Value)
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			where = append(where, f.Property+" IS NULL")
			continue
		}
		where = append(where, f.Property+" = ?")
		args = append(args, v)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	var order []string
	for _, srt := range q.Sorters {
		if srt.Property == "" {
			continue
		}
		if !core.IsIdentifier(srt.Property) {
			return "", nil, fmt.Errorf("%w: sort property %q", storage.ErrInvalidQuery, srt.Property)
		}
		dir := strings.ToUpper(string(srt.Direction))
		if dir != "" && dir != string(core.Ascending) && dir != string(core.Descending) {
			return "", nil, fmt.Errorf("%w: sort direction %q", storage.ErrInvalidQuery, srt.Direction)
		}
		order = append(order, fmt.Sprintf("%s %s", srt.Property, srt.Dir()))
	}
	if len(order) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}

	if q.Paged() {
		start, limit := q.Window()
		b.WriteString(" ")
		b.WriteString(d.LimitClause(start, limit))
	}

	return b.String(), args, nil
}

// likeLiteral renders a filter value for embedding inside a quoted LIKE
// pattern.
func likeLiteral(v any) string {
	return strings.ReplaceAll(fmt.Sprint(v), "'", "''")
}
