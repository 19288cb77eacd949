package writers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/entlink/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// JSONWriter implements a writer emitting one JSON object per row. Handy for
// eyeballing counts tables and small link sets.
type JSONWriter struct {
	file    *os.File
	encoder *json.Encoder
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for JSON writer")
	}

	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON file: %w", err)
	}

	return &JSONWriter{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Write writes a record to the file, one JSON object per line.
func (w *JSONWriter) Write(ctx context.Context, record arrow.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	numRows := int(record.NumRows())
	numCols := int(record.NumCols())
	for i := 0; i < numRows; i++ {
		row := make(map[string]interface{}, numCols)
		for j := 0; j < numCols; j++ {
			field := record.Schema().Field(j)
			v, err := jsonValue(record.Column(j), i)
			if err != nil {
				return fmt.Errorf("column %q: %w", field.Name, err)
			}
			row[field.Name] = v
		}
		if err := w.encoder.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i, err)
		}
	}
	return nil
}

func jsonValue(col arrow.Array, i int) (interface{}, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return a.Value(i), nil
	case *array.Uint16:
		return a.Value(i), nil
	case *array.Uint32:
		return a.Value(i), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.List:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		out := make([]interface{}, 0, end-start)
		for k := start; k < end; k++ {
			v, err := jsonValue(values, int(k))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported array type %s", col.DataType())
	}
}

// Close closes the writer.
func (w *JSONWriter) Close() error {
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}
