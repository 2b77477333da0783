package signature

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// On-disk column layout of the signature database. The order matches
// the existing database files and must not change.
var csvHeader = []string{
	"framework_name", "version", "language", "http_library", "tls_version",
	"ja4_signature", "test_date", "verified_runs", "consistent",
	"detection_rate", "false_positive_rate", "notes",
}

const testDateLayout = "2006-01-02"

// ReadCSV loads a signature database in the documented tabular form
// into a new store. Run history is reconstructed from the run count;
// individual run timestamps collapse to the recorded test date.
func ReadCSV(r io.Reader) (*Store, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("signature: read csv header: %w", err)
	}
	for i, col := range csvHeader {
		if header[i] != col {
			return nil, fmt.Errorf("signature: unexpected csv column %q, want %q", header[i], col)
		}
	}

	store := NewStore()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("signature: read csv row: %w", err)
		}

		entry, err := entryFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("signature: csv line %d: %w", line, err)
		}
		store.setEntry(entry)
	}
	return store, nil
}

// WriteCSV persists every entry in the documented tabular form.
func (s *Store) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("signature: write csv header: %w", err)
	}
	for _, e := range s.Entries() {
		if err := cw.Write(rowFromEntry(e)); err != nil {
			return fmt.Errorf("signature: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadFile reads a database file into a new store. A missing file
// yields an empty store so a first verification campaign can bootstrap
// the database.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// SaveFile writes the store to a database file.
func (s *Store) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if err := s.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func entryFromRow(row []string) (Entry, error) {
	runs, err := strconv.Atoi(row[7])
	if err != nil || runs < 0 {
		return Entry{}, fmt.Errorf("invalid verified_runs %q", row[7])
	}
	consistent, err := strconv.ParseBool(row[8])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid consistent flag %q", row[8])
	}

	testDate, err := time.Parse(testDateLayout, row[6])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid test_date %q", row[6])
	}

	entry := Entry{
		Framework:         row[0],
		Version:           row[1],
		Language:          row[2],
		HTTPLibrary:       row[3],
		TLSVersion:        row[4],
		Signature:         row[5],
		FirstSeen:         testDate.UTC(),
		Inconsistent:      !consistent,
		DetectionRate:     row[9],
		FalsePositiveRate: row[10],
		Notes:             row[11],
	}
	for i := 0; i < runs; i++ {
		entry.Runs = append(entry.Runs, Run{Signature: entry.Signature, Timestamp: entry.FirstSeen})
	}
	return entry, nil
}

func rowFromEntry(e Entry) []string {
	testDate := e.FirstSeen
	if len(e.Runs) > 0 {
		testDate = e.Runs[len(e.Runs)-1].Timestamp
	}
	return []string{
		e.Framework,
		e.Version,
		e.Language,
		e.HTTPLibrary,
		e.TLSVersion,
		e.Signature,
		testDate.UTC().Format(testDateLayout),
		strconv.Itoa(len(e.Runs)),
		strconv.FormatBool(e.Consistent()),
		e.DetectionRate,
		e.FalsePositiveRate,
		e.Notes,
	}
}
