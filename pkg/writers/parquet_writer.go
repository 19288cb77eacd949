package writers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/entlink/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ParquetWriter writes records to a snappy-compressed parquet file. The
// underlying file writer is created lazily on the first record, since the
// schema is not known until then; every later record must carry the same
// schema.
type ParquetWriter struct {
	file   *os.File
	writer *pqarrow.FileWriter
	schema *arrow.Schema
	rows   int64
}

// NewParquetWriter opens path for writing.
func NewParquetWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for parquet writer")
	}
	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("creating parquet file: %w", err)
	}
	return &ParquetWriter{file: file}, nil
}

func (w *ParquetWriter) ensureWriter(record arrow.Record) error {
	if w.writer != nil {
		if !w.schema.Equal(record.Schema()) {
			return fmt.Errorf("record schema changed mid-write: %v != %v", record.Schema(), w.schema)
		}
		return nil
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(record.Schema(), w.file, props, pqarrow.NewArrowWriterProperties())
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	w.writer = writer
	w.schema = record.Schema()
	return nil
}

// Write appends one record batch.
func (w *ParquetWriter) Write(ctx context.Context, record arrow.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.ensureWriter(record); err != nil {
		return err
	}
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	w.rows += record.NumRows()
	return nil
}

// Close flushes pending data and closes the file.
func (w *ParquetWriter) Close() error {
	var errs []error
	if w.writer != nil {
		errs = append(errs, w.writer.Close())
		w.writer = nil
	}
	if w.file != nil {
		errs = append(errs, w.file.Close())
		w.file = nil
	}
	return errors.Join(errs...)
}
