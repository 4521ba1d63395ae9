package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/case-sentinel/internal/logger"
	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// maxImportTextLength bounds a single record's text
const maxImportTextLength = 100000

// ImportRow is one record in an import file. Metadata is a JSON object
// encoded as a string so all three formats share one shape.
type ImportRow struct {
	ID          string `csv:"id" parquet:"id" json:"id"`
	ContentType string `csv:"content_type" parquet:"content_type" json:"content_type"`
	Relevancy   int64  `csv:"relevancy_score" parquet:"relevancy_score" json:"relevancy_score"`
	Text        string `csv:"raw_text" parquet:"raw_text" json:"raw_text"`
	Metadata    string `csv:"raw_metadata" parquet:"raw_metadata" json:"raw_metadata"`
}

// csvColumns is the required CSV header, in order
var csvColumns = []string{"id", "content_type", "relevancy_score", "raw_text", "raw_metadata"}

// FileFormat represents supported import formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects the import format from the file extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// RecordWriter receives imported batches
type RecordWriter interface {
	BatchInsert(ctx context.Context, records []Record) (*BatchInsertResult, error)
}

// ImportResult summarizes an import run
type ImportResult struct {
	TotalRows  int64         `json:"total_rows"`
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Invalid    int64         `json:"invalid"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []string      `json:"errors,omitempty"`
}

// Importer loads candidate records from CSV, Parquet or JSON-lines files
type Importer struct {
	writer    RecordWriter
	batchSize int
	logger    *logger.Logger
}

// NewImporter creates an importer writing batches of batchSize rows
func NewImporter(writer RecordWriter, batchSize int, log *logger.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Importer{
		writer:    writer,
		batchSize: batchSize,
		logger:    log.WithComponent("importer"),
	}
}

// ImportFile imports every valid row of the file
func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(path)
	im.logger.Info("Starting import",
		zap.String("file", path),
		zap.String("format", string(format)),
		zap.Int("batch_size", im.batchSize))

	var next func() (ImportRow, error)
	switch format {
	case FormatCSV:
		next, err = csvRows(file)
	case FormatParquet:
		reader := parquet.NewReader(file)
		defer reader.Close()
		next = func() (ImportRow, error) {
			var row ImportRow
			err := reader.Read(&row)
			return row, err
		}
	case FormatJSON:
		dec := json.NewDecoder(file)
		next = func() (ImportRow, error) {
			var row ImportRow
			err := dec.Decode(&row)
			return row, err
		}
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := im.run(ctx, next)
	result.Duration = time.Since(start)

	im.logger.Info("Import completed",
		zap.Int64("total_rows", result.TotalRows),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, err
}

func (im *Importer) run(ctx context.Context, next func() (ImportRow, error)) (*ImportResult, error) {
	result := &ImportResult{}
	batch := make([]Record, 0, im.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		res, err := im.writer.BatchInsert(ctx, batch)
		if err != nil {
			im.logger.Error("Import batch failed", zap.Error(err))
			result.Failed += int64(len(batch))
			result.Errors = append(result.Errors, err.Error())
		} else {
			result.Inserted += res.Inserted
			result.Duplicates += res.Duplicates
		}
		batch = batch[:0]
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		row, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// a malformed JSON stream cannot be resynchronized
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
				flush()
				return result, fmt.Errorf("failed to read import row: %w", err)
			}
			im.logger.Warn("Failed to read import row", zap.Error(err))
			result.Invalid++
			continue
		}
		result.TotalRows++

		record, err := row.toRecord()
		if err != nil {
			im.logger.Debug("Invalid import row", zap.String("id", row.ID), zap.Error(err))
			result.Invalid++
			continue
		}

		batch = append(batch, record)
		if len(batch) >= im.batchSize {
			flush()
		}
	}
	flush()

	return result, nil
}

func (row ImportRow) toRecord() (Record, error) {
	id := strings.TrimSpace(row.ID)
	if id == "" {
		return Record{}, fmt.Errorf("missing id")
	}
	if strings.TrimSpace(row.Text) == "" {
		return Record{}, fmt.Errorf("empty text")
	}
	if len(row.Text) > maxImportTextLength {
		return Record{}, fmt.Errorf("text too long: %d bytes", len(row.Text))
	}
	if row.Relevancy < 0 || row.Relevancy > 1000 {
		return Record{}, fmt.Errorf("relevancy out of range: %d", row.Relevancy)
	}

	meta := Metadata{}
	if s := strings.TrimSpace(row.Metadata); s != "" {
		if err := meta.Scan(s); err != nil {
			return Record{}, err
		}
	}

	contentType := strings.TrimSpace(row.ContentType)
	if contentType == "" {
		contentType = "general"
	}

	return Record{
		ID:             id,
		ContentType:    contentType,
		RelevancyScore: int(row.Relevancy),
		RawText:        row.Text,
		RawMetadata:    meta,
	}, nil
}

// csvRows validates the header and returns a row iterator
func csvRows(r io.Reader) (func() (ImportRow, error), error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvColumns)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, col := range csvColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != col {
			return nil, fmt.Errorf("unexpected CSV column %d: got %q, want %q", i, header[i], col)
		}
	}

	return func() (ImportRow, error) {
		fields, err := reader.Read()
		if err != nil {
			return ImportRow{}, err
		}
		relevancy, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return ImportRow{}, fmt.Errorf("invalid relevancy_score %q: %w", fields[2], err)
		}
		return ImportRow{
			ID:          fields[0],
			ContentType: fields[1],
			Relevancy:   relevancy,
			Text:        fields[3],
			Metadata:    fields[4],
		}, nil
	}, nil
}
