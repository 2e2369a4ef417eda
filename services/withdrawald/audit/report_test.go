package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func sampleRows() []SettlementRow {
	return []SettlementRow{
		{
			RequestID:   strings.Repeat("01", 32),
			Owner:       "0x0a",
			Amount:      100,
			Destination: "76a914",
			TxIndex:     0,
			Attempts:    1,
			RequestedAt: 1,
			BroadcastAt: 2,
			CompletedAt: 5,
			CoreHeight:  900,
		},
		{
			RequestID:   strings.Repeat("02", 32),
			Owner:       "0x0b",
			Amount:      250,
			Destination: "76a915",
			TxIndex:     1,
			Attempts:    2,
			RequestedAt: 1,
			BroadcastAt: 8,
			CompletedAt: 12,
			CoreHeight:  960,
		},
	}
}

func TestSettlementCSVMatchesGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "settlement_report", buf.Bytes())
}

func TestWriteSettlementReportProducesBothFiles(t *testing.T) {
	dir := t.TempDir()
	runID := uuid.MustParse("2f1c7d3e-9a4b-4c1e-8f00-5d6a7b8c9d0e")
	files, err := WriteSettlementReport(dir, runID, sampleRows())
	require.NoError(t, err)
	require.Equal(t, runID, files.RunID)
	require.Equal(t, 2, files.Count)
	require.Equal(t, uint64(350), files.Total)
	require.Contains(t, files.CSVPath, runID.String())

	csvBytes, err := os.ReadFile(files.CSVPath)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(string(csvBytes), "\n"))

	fr, err := local.NewLocalFileReader(files.ParquetPath)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())

	decoded := make([]parquetRow, 2)
	require.NoError(t, pr.Read(&decoded))
	require.Equal(t, strings.Repeat("02", 32), decoded[1].RequestID)
	require.Equal(t, "76a915", decoded[1].Destination)
	require.Equal(t, int64(250), decoded[1].Amount)
}

func TestWriteSettlementReportRemovesPartialRun(t *testing.T) {
	dir := t.TempDir()
	runID := uuid.New()
	runDir := filepath.Join(dir, runID.String())
	require.NoError(t, os.MkdirAll(filepath.Join(runDir, "settlements.parquet"), 0o755))

	_, err := WriteSettlementReport(dir, runID, sampleRows())
	require.Error(t, err)
	_, statErr := os.Stat(runDir)
	require.True(t, os.IsNotExist(statErr), "run directory should be removed, got %v", statErr)
}

func TestWriteSettlementReportAllocatesRunID(t *testing.T) {
	files, err := WriteSettlementReport(t.TempDir(), uuid.Nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, files.RunID)
	require.Zero(t, files.Count)
}
