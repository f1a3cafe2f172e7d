package datatype

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DataSchema describes the columns of a block stream or result table.
type DataSchema struct {
	ColumnNames []string   `json:"columnNames"`
	ColumnTypes []DataType `json:"columnDataTypes"`
}

// NewDataSchema builds a schema, requiring names and types to line up.
func NewDataSchema(columnNames []string, columnTypes []DataType) (*DataSchema, error) {
	if len(columnNames) != len(columnTypes) {
		return nil, errors.Errorf("schema has %d column names but %d column types", len(columnNames), len(columnTypes))
	}
	return &DataSchema{ColumnNames: columnNames, ColumnTypes: columnTypes}, nil
}

// Size returns the number of columns.
func (s *DataSchema) Size() int {
	return len(s.ColumnNames)
}

// ColumnDataType returns the type of column i.
func (s *DataSchema) ColumnDataType(i int) DataType {
	return s.ColumnTypes[i]
}

func (s *DataSchema) String() string {
	cols := make([]string, len(s.ColumnNames))
	for i, name := range s.ColumnNames {
		cols[i] = fmt.Sprintf("%s:%s", name, s.ColumnTypes[i])
	}
	return "[" + strings.Join(cols, ", ") + "]"
}

// Equals reports whether two schemas have identical columns in identical order.
func (s *DataSchema) Equals(other *DataSchema) bool {
	if s.Size() != other.Size() {
		return false
	}
	for i := range s.ColumnNames {
		if s.ColumnNames[i] != other.ColumnNames[i] || s.ColumnTypes[i] != other.ColumnTypes[i] {
			return false
		}
	}
	return true
}
