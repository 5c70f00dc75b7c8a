package csvfeed

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/streetlight-crime-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTable(t *testing.T) {
	in := "id,date,latitude,longitude,ward\n" +
		"1,2013-03-12T10:00:00.000,41.88,-87.63,42\n" +
		"2,\"03/12/2013 10:00:00 AM\",,,\n" +
		"3,2013-03-12T11:00:00.000\n"

	table, err := ReadTable(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "date", "latitude", "longitude", "ward"}, table.Columns)
	require.Len(t, table.Rows, 3)

	assert.Equal(t, "42", table.Rows[0].Get(domain.ColWard))
	assert.Equal(t, "03/12/2013 10:00:00 AM", table.Rows[1].Get(domain.ColDate))
	_, ok := table.Rows[1][domain.ColLatitude]
	assert.False(t, ok, "empty cells are absent")
	assert.Empty(t, table.Rows[2].Get(domain.ColLongitude))
}

func TestReadTable_Empty(t *testing.T) {
	table, err := ReadTable(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Empty(t, table.Rows)
}

func TestReadTable_Malformed(t *testing.T) {
	_, err := ReadTable(strings.NewReader("id,date\n\"1,2013\n"))
	require.Error(t, err)
}

func TestWriteTable_RoundTrip(t *testing.T) {
	table := domain.Table{
		Columns: []string{"service_request_number", "creation_date", "status"},
		Rows: []domain.Record{
			{"service_request_number": "13-1", "creation_date": "2013-03-10T08:00:00.000", "status": "Completed"},
			{"service_request_number": "13-2", "creation_date": "2013-03-11T08:00:00.000"},
			{"service_request_number": "13-3", "status": "Open, Dup"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, table))
	assert.True(t, strings.HasPrefix(buf.String(), "service_request_number,creation_date,status\n"))

	got, err := ReadTable(&buf)
	require.NoError(t, err)
	assert.Equal(t, table, got)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crimes.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,date\n1,2013-03-12T10:00:00\n"), 0o600))

	table, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streetlights.csv")
	table := domain.Table{
		Columns: []string{"service_request_number"},
		Rows:    []domain.Record{{"service_request_number": "13-1"}},
	}
	require.NoError(t, WriteFile(path, table))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, table, got)
}

func TestFile_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crimes.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,date\n1,2013-03-12T10:00:00\n"), 0o600))

	table, err := File(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", table.Rows[0].Get("id"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = File(path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
