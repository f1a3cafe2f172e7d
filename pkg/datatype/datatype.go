package datatype

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DataType is the declared type of a result column. The set of types is
// closed; every value crossing the dispatcher boundary is tagged with one.
type DataType int32

const (
	Unknown DataType = iota
	Int
	Long
	Float
	Double
	Boolean
	Timestamp
	String
	JSON
	Bytes
)

var dataTypeNames = map[DataType]string{
	Unknown:   "UNKNOWN",
	Int:       "INT",
	Long:      "LONG",
	Float:     "FLOAT",
	Double:    "DOUBLE",
	Boolean:   "BOOLEAN",
	Timestamp: "TIMESTAMP",
	String:    "STRING",
	JSON:      "JSON",
	Bytes:     "BYTES",
}

var dataTypesByName = func() map[string]DataType {
	m := make(map[string]DataType, len(dataTypeNames))
	for t, n := range dataTypeNames {
		m[n] = t
	}
	return m
}()

func (t DataType) String() string {
	if n, ok := dataTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(t))
}

// ParseDataType maps a type name back to its DataType.
func ParseDataType(name string) (DataType, error) {
	if t, ok := dataTypesByName[name]; ok {
		return t, nil
	}
	return Unknown, errors.Errorf("unknown data type: %s", name)
}

// MarshalJSON writes the type as its name so serialized schemas stay
// readable and stable across enum reordering.
func (t DataType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *DataType) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.Errorf("invalid data type literal: %s", data)
	}
	parsed, err := ParseDataType(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// timestampExternalFormat matches the external timestamp rendering of the
// engine: millisecond precision, no zone suffix, UTC.
const timestampExternalFormat = "2006-01-02 15:04:05.999"

// ToExternal converts an engine-internal value to its public representation.
// Internal numeric values are carried at engine widths (int32/int64,
// float32/float64); timestamps are epoch millis; bytes are raw.
func (t DataType) ToExternal(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch t {
	case Int:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case Long:
		return toInt64(value)
	case Float:
		v, err := toFloat64(value)
		if err != nil {
			return nil, err
		}
		return float32(v), nil
	case Double:
		return toFloat64(value)
	case Boolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int32:
			return v != 0, nil
		case int64:
			return v != 0, nil
		}
		return nil, conversionError(value, t)
	case Timestamp:
		v, err := toInt64(value)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(v).UTC(), nil
	case String, JSON:
		if v, ok := value.(string); ok {
			return v, nil
		}
		return nil, conversionError(value, t)
	case Bytes:
		if v, ok := value.([]byte); ok {
			return v, nil
		}
		return nil, conversionError(value, t)
	}
	return nil, errors.Errorf("cannot externalize value of type %s", t)
}

// Format applies the final display normalization to an externalized value.
func (t DataType) Format(external interface{}) interface{} {
	if external == nil {
		return nil
	}
	switch t {
	case Timestamp:
		return external.(time.Time).Format(timestampExternalFormat)
	case Bytes:
		return hex.EncodeToString(external.([]byte))
	}
	return external
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	}
	return 0, errors.Errorf("cannot convert %T to an integral value", value)
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, errors.Errorf("cannot convert %T to a floating point value", value)
}

func conversionError(value interface{}, t DataType) error {
	return errors.Errorf("cannot convert %T to %s", value, t)
}
