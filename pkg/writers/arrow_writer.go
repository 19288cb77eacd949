package writers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/TFMV/entlink/pkg/core"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// ArrowWriter writes records to an Arrow IPC file. Like ParquetWriter, the
// file writer is created on the first record and the schema is pinned from
// then on.
type ArrowWriter struct {
	file   *os.File
	writer *ipc.FileWriter
	schema *arrow.Schema
}

// NewArrowWriter opens path for writing.
func NewArrowWriter(config core.WriterConfig) (core.DatasetWriter, error) {
	if config.Path == "" {
		return nil, errors.New("path is required for arrow writer")
	}
	file, err := os.Create(config.Path)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file: %w", err)
	}
	return &ArrowWriter{file: file}, nil
}

func (w *ArrowWriter) ensureWriter(record arrow.Record) error {
	if w.writer != nil {
		if !w.schema.Equal(record.Schema()) {
			return fmt.Errorf("record schema changed mid-write: %v != %v", record.Schema(), w.schema)
		}
		return nil
	}
	writer, err := ipc.NewFileWriter(w.file, ipc.WithSchema(record.Schema()))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}
	w.writer = writer
	w.schema = record.Schema()
	return nil
}

// Write appends one record batch.
func (w *ArrowWriter) Write(ctx context.Context, record arrow.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.ensureWriter(record); err != nil {
		return err
	}
	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Close flushes pending data and closes the file.
func (w *ArrowWriter) Close() error {
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
