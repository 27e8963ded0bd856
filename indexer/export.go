package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetEvent struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenID    int64  `parquet:"name=token_id, type=INT64"`
	HasToken   bool   `parquet:"name=has_token, type=BOOLEAN"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	IndexedAt  string `parquet:"name=indexed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

const exportPageSize = 500

// ExportParquet writes every indexed event after q.AfterSequence matching q's
// filters to path as a snappy compressed parquet file. It returns the number
// of rows written.
func (i *Indexer) ExportParquet(ctx context.Context, path string, q Query) (int, error) {
	if i == nil || i.db == nil {
		return 0, errNilDB
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetEvent), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	cursor := q.AfterSequence
	for {
		var rows []EventRow
		stmt := i.db.WithContext(ctx).Where("sequence > ?", cursor)
		if q.TokenID != nil {
			stmt = stmt.Where("token_id = ?", *q.TokenID)
		}
		if q.Type != "" {
			stmt = stmt.Where("type = ?", q.Type)
		}
		if err := stmt.Order("sequence ASC").Limit(exportPageSize).Find(&rows).Error; err != nil {
			pw.WriteStop()
			file.Close()
			return written, fmt.Errorf("indexer: export query: %w", err)
		}
		for _, row := range rows {
			if err := pw.Write(toParquetEvent(row)); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
			cursor = row.Sequence
		}
		if len(rows) < exportPageSize {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}

func toParquetEvent(row EventRow) *parquetEvent {
	out := &parquetEvent{
		Sequence:   int64(row.Sequence),
		Type:       row.Type,
		Attributes: row.Attributes,
		Timestamp:  row.Timestamp,
		IndexedAt:  row.IndexedAt.UTC().Format(time.RFC3339),
	}
	if row.TokenID != nil {
		out.TokenID = int64(*row.TokenID)
		out.HasToken = true
	}
	return out
}
