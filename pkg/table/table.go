package table

// Table is a consolidated dataset: ordered column names and string rows.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	cells := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		cells[i] = row[idx]
	}
	return cells, true
}

// Head returns a table with at most n leading rows. Rows are shared, not
// copied.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	if n < 0 {
		n = 0
	}
	return &Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

// Equal reports whether both tables have the same columns and cells.
func (t *Table) Equal(other *Table) bool {
	if t.NumColumns() != other.NumColumns() || t.NumRows() != other.NumRows() {
		return false
	}
	for i := range t.Columns {
		if t.Columns[i] != other.Columns[i] {
			return false
		}
	}
	for i := range t.Rows {
		if len(t.Rows[i]) != len(other.Rows[i]) {
			return false
		}
		for j := range t.Rows[i] {
			if t.Rows[i][j] != other.Rows[i][j] {
				return false
			}
		}
	}
	return true
}

// Builder accumulates records page by page into a Table. Columns are the
// declared columns first, then unseen keys in first-seen order.
type Builder struct {
	columns []string
	index   map[string]int
	rows    [][]string
}

// NewBuilder creates a builder with the given leading columns.
func NewBuilder(columns ...string) *Builder {
	b := &Builder{index: make(map[string]int)}
	for _, c := range columns {
		b.addColumn(c)
	}
	return b
}

func (b *Builder) addColumn(name string) int {
	if idx, ok := b.index[name]; ok {
		return idx
	}
	b.index[name] = len(b.columns)
	b.columns = append(b.columns, name)
	return len(b.columns) - 1
}

// Add appends records as rows, in order.
func (b *Builder) Add(records ...Record) {
	for _, rec := range records {
		row := make([]string, len(b.columns))
		for _, key := range rec.keys {
			idx := b.addColumn(key)
			for len(row) <= idx {
				row = append(row, "")
			}
			row[idx] = rec.values[key]
		}
		b.rows = append(b.rows, row)
	}
}

// Len returns the number of rows added so far.
func (b *Builder) Len() int {
	return len(b.rows)
}

// Table returns the consolidated table. Rows added before a column first
// appeared get an empty cell for it.
func (b *Builder) Table() *Table {
	columns := make([]string, len(b.columns))
	copy(columns, b.columns)

	rows := make([][]string, len(b.rows))
	for i, row := range b.rows {
		padded := make([]string, len(columns))
		copy(padded, row)
		rows[i] = padded
	}

	return &Table{Columns: columns, Rows: rows}
}
