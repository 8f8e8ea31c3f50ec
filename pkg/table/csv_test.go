package table

import (
	"bytes"
	"strings"
	"testing"
)

func TestCSV_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		table *Table
	}{
		{
			name: "quoting",
			table: &Table{
				Columns: []string{"date", "description", "location"},
				Rows: [][]string{
					{"2019-01-01T00:00:00.000", "THEFT, \"FROM\" BUILDING", `{"latitude":"41.8"}`},
					{"2019-01-02T00:00:00.000", "line\nbreak", ""},
				},
			},
		},
		{
			name: "single column with empty cells",
			table: &Table{
				Columns: []string{"the_geom"},
				Rows:    [][]string{{"MULTIPOLYGON (((1 2, 3 4)))"}, {""}, {"x"}},
			},
		},
		{
			name: "header only",
			table: &Table{
				Columns: []string{"a", "b"},
				Rows:    [][]string{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.table.MarshalCSV()
			if err != nil {
				t.Fatalf("MarshalCSV() error = %v", err)
			}

			got, err := ReadCSV(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("ReadCSV() error = %v", err)
			}

			if !got.Equal(tt.table) {
				t.Errorf("round trip mismatch:\n got  %v %v\n want %v %v", got.Columns, got.Rows, tt.table.Columns, tt.table.Rows)
			}
		})
	}
}

func TestCSV_RoundTripDecodedLineEndings(t *testing.T) {
	records, err := DecodeRecords(strings.NewReader(`[
		{"date": "2019-01-01T00:00:00.000", "description": "line1\r\nline2"},
		{"date": "2019-01-02T00:00:00.000", "description": "cr\ronly\nlf"}
	]`))
	if err != nil {
		t.Fatalf("DecodeRecords() error = %v", err)
	}
	b := NewBuilder("date", "description")
	b.Add(records...)
	tbl := b.Table()

	data, err := tbl.MarshalCSV()
	if err != nil {
		t.Fatalf("MarshalCSV() error = %v", err)
	}
	got, err := ReadCSV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if !got.Equal(tbl) {
		t.Errorf("round trip mismatch:\n got  %q\n want %q", got.Rows, tbl.Rows)
	}
}

func TestWriteCSV_Header(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "2"}}}

	var buf bytes.Buffer
	if err := tbl.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}

	if got, want := buf.String(), "a,b\n1,2\n"; got != want {
		t.Errorf("WriteCSV() = %q, want %q", got, want)
	}
}

func TestReadCSV_RaggedRows(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader("a,b\n1\n")); err == nil {
		t.Error("Expected error for ragged row")
	}
}

func TestReadCSV_Empty(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	if tbl.NumColumns() != 0 || tbl.NumRows() != 0 {
		t.Errorf("got %dx%d, want empty table", tbl.NumRows(), tbl.NumColumns())
	}
}
