package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spideyz0r/clipdav/pkg/crypto"
	"github.com/spideyz0r/clipdav/pkg/history"
	"github.com/spideyz0r/clipdav/pkg/storage"
)

// Format represents an export format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Querier is the read access Export needs.
type Querier interface {
	QueryRecords(ctx context.Context, filters storage.QueryFilters) ([]*storage.Record, error)
}

// Options contains export configuration
type Options struct {
	Format     Format
	Filters    storage.QueryFilters
	Location   *time.Location // zone timestamps are rendered in (UTC when nil)
	Passphrase string         // encrypts the whole output when set
}

// Export writes history records to the writer in the specified format
func Export(ctx context.Context, src Querier, writer io.Writer, opts Options) error {
	records, err := src.QueryRecords(ctx, opts.Filters)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	out := writer
	var buf bytes.Buffer
	if opts.Passphrase != "" {
		out = &buf
	}

	switch opts.Format {
	case FormatText:
		err = exportText(records, out, loc)
	case FormatJSON:
		err = exportJSON(records, out, loc)
	case FormatCSV:
		err = exportCSV(records, out, loc)
	default:
		return fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return err
	}

	if opts.Passphrase == "" {
		return nil
	}

	ciphertext, err := crypto.Encrypt(buf.Bytes(), opts.Passphrase)
	if err != nil {
		return fmt.Errorf("failed to encrypt export: %w", err)
	}
	if _, err := writer.Write(ciphertext); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// exportText writes one block per record: a header line, then the text or
// the file reference.
func exportText(records []*storage.Record, writer io.Writer, loc *time.Location) error {
	for _, rec := range records {
		header := fmt.Sprintf("#%d %s %s", rec.ID, rec.Kind, formatTimestamp(rec.CreatedAt, loc))
		if rec.Favorited {
			header += " *"
		}

		body := rec.Content
		if rec.Kind.HasPayload() && rec.HasFile() {
			body = fmt.Sprintf("%s -> %s", rec.Content, *rec.FilePath)
		}

		if _, err := fmt.Fprintf(writer, "%s\n%s\n\n", header, strings.TrimRight(body, "\n")); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	return nil
}

// exportJSON exports records as a JSON array in the API's record shape
func exportJSON(records []*storage.Record, writer io.Writer, loc *time.Location) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(history.NewViews(records, loc)); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// exportCSV exports records as CSV
func exportCSV(records []*storage.Record, writer io.Writer, loc *time.Location) error {
	csvWriter := csv.NewWriter(writer)

	header := []string{
		"id",
		"type",
		"created_at",
		"content",
		"file_path",
		"file_hash",
		"file_size",
		"favorited",
		"extra_data",
	}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		size := ""
		if rec.FileSize != nil {
			size = strconv.FormatInt(*rec.FileSize, 10)
		}
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			string(rec.Kind),
			formatTimestamp(rec.CreatedAt, loc),
			rec.Content,
			deref(rec.FilePath),
			deref(rec.FileHash),
			size,
			strconv.FormatBool(rec.Favorited),
			deref(rec.ExtraData),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatTimestamp formats a capture time as ISO 8601 in loc
func formatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(history.TimeLayout)
}

// ParseFormat parses a format string
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown format: %s (supported: text, json, csv)", s)
	}
}
