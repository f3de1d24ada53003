// Package tradelog persists one immutable CSV row per applied fill.
// The log is the source of truth for rebuilding ledger state after a
// restart, so column order and meaning must never change across
// versions. New columns may only be appended at the end.
package tradelog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"grid-trader-go/internal/models"
)

// Column order is frozen. Do not reorder.
var header = []string{
	"timestamp", "symbol", "side", "price", "amount", "value",
	"trade_ref", "fee", "trading_pnl", "realized_pnl",
	"balance", "total_value", "inventory",
}

// Writer appends trade records to a CSV file. Safe for concurrent use
// by multiple symbol loops.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewWriter opens (or creates) the trade log and writes the header row
// when the file is empty.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trade log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade log: %w", err)
	}

	w := &Writer{file: file, csv: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := w.csv.Write(header); err != nil {
			file.Close()
			return nil, err
		}
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return w, nil
}

// Append writes one record and flushes it to disk.
func (w *Writer) Append(r models.TradeLogRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Symbol,
		string(r.Side),
		formatFloat(r.Price),
		formatFloat(r.Amount),
		formatFloat(r.Value),
		r.TradeRef,
		formatFloat(r.Fee),
		formatFloat(r.TradingPnl),
		formatFloat(r.RealizedPnl),
		formatFloat(r.Balance),
		formatFloat(r.TotalValue),
		formatFloat(r.Inventory),
	}
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	return w.file.Close()
}

// ReadAll loads every record from the trade log, sorted by timestamp
// ascending. A missing file yields an empty slice, not an error. Rows
// with extra trailing columns are accepted so future appended columns
// remain readable by older readers.
func ReadAll(path string) ([]models.TradeLogRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open trade log: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse trade log: %w", err)
	}

	records := make([]models.TradeLogRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == header[0] {
			continue // header
		}
		if len(row) < len(header) {
			return nil, fmt.Errorf("trade log row %d has %d columns, want at least %d", i+1, len(row), len(header))
		}
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("trade log row %d has invalid timestamp %q: %w", i+1, row[0], err)
		}
		records = append(records, models.TradeLogRecord{
			Timestamp:   ts,
			Symbol:      row[1],
			Side:        models.Side(row[2]),
			Price:       parseFloat(row[3]),
			Amount:      parseFloat(row[4]),
			Value:       parseFloat(row[5]),
			TradeRef:    row[6],
			Fee:         parseFloat(row[7]),
			TradingPnl:  parseFloat(row[8]),
			RealizedPnl: parseFloat(row[9]),
			Balance:     parseFloat(row[10]),
			TotalValue:  parseFloat(row[11]),
			Inventory:   parseFloat(row[12]),
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
