package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/persistorai/docmigrate/internal/models"
)

// Artifact sub-directories of the output directory.
const (
	TransformedDir = "transformed"
	BulkDir        = "bulk"
)

// WriteArtifacts writes a collection's transformed records as JSON, and as
// CSV and Parquet bulk-load files whose columns are id followed by cols.
func WriteArtifacts(dir, collection string, cols []string, records []models.TransformedRecord) error {
	if err := WriteTransformed(filepath.Join(dir, TransformedDir, collection+".json"), records); err != nil {
		return err
	}

	if err := WriteCSV(filepath.Join(dir, BulkDir, collection+".csv"), cols, records); err != nil {
		return err
	}

	return WriteParquet(filepath.Join(dir, BulkDir, collection+".parquet"), cols, records)
}

// WriteTransformed writes records as one JSON array.
func WriteTransformed(path string, records []models.TransformedRecord) error {
	if records == nil {
		records = []models.TransformedRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transformed records: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// WriteCSV writes a header row and one row per record. NULL is an empty field.
func WriteCSV(path string, cols []string, records []models.TransformedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	f, err := os.Create(path) //nolint:gosec // path is built from the configured output dir.
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // close error surfaces through Flush below.

	w := csv.NewWriter(f)
	header := append([]string{models.PrimaryKeyColumn}, cols...)

	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	row := make([]string, len(header))
	for i := range records {
		row[0] = records[i].ID
		for j, c := range cols {
			s, err := cell(records[i].Fields[c])
			if err != nil {
				return fmt.Errorf("record %s column %s: %w", records[i].SourceID, c, err)
			}
			row[j+1] = s
		}

		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	return f.Close()
}

// WriteParquet writes records as SNAPPY-compressed Parquet. Every column is an
// optional UTF8 string holding the same text the CSV carries.
func WriteParquet(path string, cols []string, records []models.TransformedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	header := append([]string{models.PrimaryKeyColumn}, cols...)

	pw, err := writer.NewJSONWriter(parquetSchema(header), fw, 4)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range records {
		row := make(map[string]any, len(header))
		row[models.PrimaryKeyColumn] = records[i].ID

		for _, c := range cols {
			v := records[i].Fields[c]
			if v == nil {
				continue
			}

			s, err := cell(v)
			if err != nil {
				_ = pw.WriteStop()
				_ = fw.Close()
				return fmt.Errorf("record %s column %s: %w", records[i].SourceID, c, err)
			}
			row[c] = s
		}

		line, err := json.Marshal(row)
		if err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("encoding parquet row: %w", err)
		}

		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return fmt.Errorf("writing parquet row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("finishing parquet file: %w", err)
	}

	return fw.Close()
}

func parquetSchema(cols []string) string {
	fields := make([]map[string]string, 0, len(cols))
	for _, c := range cols {
		fields = append(fields, map[string]string{
			"Tag": fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c),
		})
	}

	b, _ := json.Marshal(map[string]any{ //nolint:errcheck // plain strings always encode.
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	})

	return string(b)
}

// cell renders one column value as text.
func cell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}

		return string(b), nil
	}
}
