package tradelog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"grid-trader-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(ref string, at time.Time) models.TradeLogRecord {
	return models.TradeLogRecord{
		Timestamp:   at,
		Symbol:      "BTCUSDT",
		Side:        models.Buy,
		Price:       100.5,
		Amount:      0.25,
		Value:       25.125,
		TradeRef:    ref,
		Fee:         0.025,
		TradingPnl:  -0.025,
		RealizedPnl: 0,
		Balance:     974.875,
		TotalValue:  1000,
		Inventory:   0.25,
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	w, err := NewWriter(path)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, w.Append(sampleRecord("t1", now)))
	require.NoError(t, w.Append(sampleRecord("t2", now.Add(time.Second))))
	require.NoError(t, w.Close())

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "t1", records[0].TradeRef)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.Equal(t, models.Buy, records[0].Side)
	assert.InDelta(t, 100.5, records[0].Price, 1e-12)
	assert.InDelta(t, 0.25, records[0].Amount, 1e-12)
	assert.True(t, records[0].Timestamp.Equal(now))
}

func TestWriterAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	now := time.Now().UTC()

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleRecord("t1", now)))
	require.NoError(t, w.Close())

	// 重新打开不应重写表头或丢失已有记录
	w, err = NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleRecord("t2", now.Add(time.Second))))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,symbol"))

	records, err := ReadAll(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestReadAll_MissingFile(t *testing.T) {
	records, err := ReadAll(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadAll_SortsByTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	w, err := NewWriter(path)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, w.Append(sampleRecord("t2", now.Add(time.Minute))))
	require.NoError(t, w.Append(sampleRecord("t1", now)))
	require.NoError(t, w.Close())

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t1", records[0].TradeRef)
	assert.Equal(t, "t2", records[1].TradeRef)
}

func TestReadAll_ToleratesAppendedColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleRecord("t1", time.Now().UTC())))
	require.NoError(t, w.Close())

	// 模拟未来版本在行尾追加新列
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(time.Now().UTC().Format(time.RFC3339Nano) +
		",ETHUSDT,SELL,200,1,200,t9,0.2,1.5,1.5,800,1001,0,extra\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "t9", records[1].TradeRef)
	assert.Equal(t, models.Sell, records[1].Side)
}
