package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/couchcryptid/streetlight-crime-etl/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCrimeID = "8945123"

func crimeRecord() Record {
	return Record{
		ColID:            testCrimeID,
		ColDate:          "2013-03-12T10:00:00.000",
		ColYear:          "2013",
		ColPrimaryType:   "BATTERY",
		ColLatitude:      "41.8819",
		ColLongitude:     "-87.6278",
		ColCommunityArea: "32",
		ColBeat:          "0111",
		ColDistrict:      "001",
		ColWard:          "42",
	}
}

func requireDrop(t *testing.T, err error, reason DropReason) {
	t.Helper()
	var dropErr *DropError
	require.True(t, errors.As(err, &dropErr), "expected *DropError, got %v", err)
	assert.Equal(t, reason, dropErr.Reason)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2013, time.March, 10, 8, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2013-03-10T08:00:00.000",
		"2013-03-10T08:00:00",
		"2013-03-10T08:00:00Z",
		"2013-03-10 08:00:00",
		"03/10/2013 08:00:00 AM",
		" 2013-03-10T08:00:00.000 ",
	} {
		t.Run(in, func(t *testing.T) {
			got, err := ParseTimestamp(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTimestamp("")
	require.Error(t, err)
	_, err = ParseTimestamp("not a date")
	require.Error(t, err)
}

func TestParseTimestamp_NormalizesToUTC(t *testing.T) {
	got, err := ParseTimestamp("2013-03-10T02:00:00-06:00")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, time.Date(2013, time.March, 10, 8, 0, 0, 0, time.UTC), got)
}

func TestFormatTimestamp_RoundTrip(t *testing.T) {
	for _, in := range []string{
		"2013-03-10T08:00:00.500",
		"2013-03-10T08:00:00.5",
		"2013-03-10T02:00:00.250-06:00",
	} {
		t.Run(in, func(t *testing.T) {
			parsed, err := ParseTimestamp(in)
			require.NoError(t, err)
			formatted := FormatTimestamp(parsed)
			back, err := ParseTimestamp(formatted)
			require.NoError(t, err)
			assert.True(t, parsed.Equal(back), "%s formatted as %s", in, formatted)
		})
	}
	assert.Equal(t, "2013-03-10T08:00:00.250", FormatTimestamp(time.Date(2013, 3, 10, 2, 0, 0, 250e6, time.FixedZone("CST", -6*3600))))
}

func TestParseCrime(t *testing.T) {
	c, err := ParseCrime(crimeRecord())
	require.NoError(t, err)

	assert.Equal(t, testCrimeID, c.ID)
	assert.Equal(t, "BATTERY", c.Category)
	assert.Equal(t, "2013", c.Year)
	assert.Equal(t, time.Date(2013, 3, 12, 10, 0, 0, 0, time.UTC), c.OccurredAt)
	assert.Equal(t, spatial.WGS84, c.Location.CRS)
	assert.Equal(t, -87.6278, c.Location.Coord[0])
	assert.Equal(t, 41.8819, c.Location.Coord[1])
	assert.Equal(t, "32", c.CommunityArea)
	assert.Equal(t, "0111", c.Beat)
	assert.Equal(t, "001", c.District)
	assert.Equal(t, "42", c.Ward)
}

func TestParseCrime_OptionalFieldsAbsent(t *testing.T) {
	rec := Record{ColID: "1", ColDate: "2013-03-12T10:00:00", ColLatitude: "41.9", ColLongitude: "-87.7"}
	c, err := ParseCrime(rec)
	require.NoError(t, err)
	assert.Empty(t, c.Ward)
	assert.Empty(t, c.Category)
}

func TestParseCrime_Drops(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Record)
		reason DropReason
	}{
		{"missing id", func(r Record) { delete(r, ColID) }, DropMissingID},
		{"unparseable date", func(r Record) { r[ColDate] = "yesterday" }, DropBadTimestamp},
		{"missing date", func(r Record) { r[ColDate] = "" }, DropBadTimestamp},
		{"missing latitude", func(r Record) { delete(r, ColLatitude) }, DropMissingLocation},
		{"garbage longitude", func(r Record) { r[ColLongitude] = "west" }, DropMissingLocation},
		{"out of range latitude", func(r Record) { r[ColLatitude] = "141.9" }, DropMissingLocation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := crimeRecord()
			tc.mutate(rec)
			_, err := ParseCrime(rec)
			requireDrop(t, err, tc.reason)
		})
	}
}

func TestCrimePoint_Reproject(t *testing.T) {
	c, err := ParseCrime(crimeRecord())
	require.NoError(t, err)

	projected, err := c.Reproject(spatial.IllinoisEastFt)
	require.NoError(t, err)
	assert.Equal(t, spatial.IllinoisEastFt, projected.Location.CRS)
	assert.Equal(t, spatial.WGS84, c.Location.CRS, "original is not mutated")
	assert.Equal(t, c.ID, projected.ID)
}

func TestParseRequest(t *testing.T) {
	rec := Record{
		ColServiceRequestNumber: "13-00123456",
		ColCreationDate:         "2013-03-10T08:00:00.000",
		ColCompletionDate:       "2013-03-15T00:00:00.000",
		ColStatus:               "Completed",
		ColLatitude:             "41.8819",
		ColLongitude:            "-87.6278",
	}

	req, err := ParseRequest(rec)
	require.NoError(t, err)
	assert.Equal(t, "13-00123456", req.RequestID)
	assert.Equal(t, time.Date(2013, 3, 10, 8, 0, 0, 0, time.UTC), req.CreationTime)
	require.NotNil(t, req.CompletionTime)
	assert.Equal(t, time.Date(2013, 3, 15, 0, 0, 0, 0, time.UTC), *req.CompletionTime)
	assert.Equal(t, "Completed", req.Status)
	assert.Equal(t, spatial.WGS84, req.Location.CRS)
}

func TestParseRequest_OpenAndBadCompletion(t *testing.T) {
	rec := Record{
		ColServiceRequestNumber: "13-1",
		ColCreationDate:         "2013-03-10T08:00:00",
		ColLatitude:             "41.88",
		ColLongitude:            "-87.63",
	}
	req, err := ParseRequest(rec)
	require.NoError(t, err)
	assert.Nil(t, req.CompletionTime)

	rec[ColCompletionDate] = "n/a"
	req, err = ParseRequest(rec)
	require.NoError(t, err)
	assert.Nil(t, req.CompletionTime, "unparseable completion is treated as open")
}

func TestParseRequest_Drops(t *testing.T) {
	base := func() Record {
		return Record{
			ColServiceRequestNumber: "13-1",
			ColCreationDate:         "2013-03-10T08:00:00",
			ColLatitude:             "41.88",
			ColLongitude:            "-87.63",
		}
	}

	rec := base()
	delete(rec, ColServiceRequestNumber)
	_, err := ParseRequest(rec)
	requireDrop(t, err, DropMissingID)

	rec = base()
	rec[ColCreationDate] = ""
	_, err = ParseRequest(rec)
	requireDrop(t, err, DropMissingCreation)

	rec = base()
	delete(rec, ColLongitude)
	_, err = ParseRequest(rec)
	requireDrop(t, err, DropMissingLocation)

	// Window parsing alone does not need a location.
	_, err = ParseRequestWindow(rec)
	require.NoError(t, err)
}

func TestDropError_Message(t *testing.T) {
	err := &DropError{Reason: DropMissingID}
	assert.Equal(t, "record dropped: missing_id", err.Error())
	err = &DropError{Reason: DropBadTimestamp, Detail: "crime 1"}
	assert.Equal(t, "record dropped: bad_timestamp: crime 1", err.Error())
}

func TestTable_RequireColumns(t *testing.T) {
	table := Table{Columns: []string{ColID, ColDate, ColLatitude}}

	err := RequireColumns(table, "crime", CrimeRequiredColumns...)
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), ColLongitude)
	assert.Contains(t, err.Error(), "crime table")

	table.AddColumns(ColLongitude, ColID)
	require.NoError(t, RequireColumns(table, "crime", CrimeRequiredColumns...))
	assert.Len(t, table.Columns, 4)
}

func TestCanonicalizeRequestColumns(t *testing.T) {
	table := Table{
		Columns: []string{ColServiceRequestNumber, "creating_date", "completed_date"},
		Rows: []Record{
			{ColServiceRequestNumber: "13-1", "creating_date": "2013-03-10T08:00:00", "completed_date": "2013-03-15T00:00:00"},
		},
	}

	CanonicalizeRequestColumns(&table)
	assert.Equal(t, []string{ColServiceRequestNumber, ColCreationDate, ColCompletionDate}, table.Columns)
	assert.Equal(t, "2013-03-10T08:00:00", table.Rows[0][ColCreationDate])
	assert.Equal(t, "2013-03-15T00:00:00", table.Rows[0][ColCompletionDate])
	_, stale := table.Rows[0]["creating_date"]
	assert.False(t, stale)
}

func TestCanonicalizeRequestColumns_KeepsCanonical(t *testing.T) {
	table := Table{
		Columns: []string{ColCreationDate, "creating_date"},
		Rows:    []Record{{ColCreationDate: "a", "creating_date": "b"}},
	}
	CanonicalizeRequestColumns(&table)
	assert.Equal(t, "a", table.Rows[0][ColCreationDate])
	assert.Equal(t, "b", table.Rows[0]["creating_date"])
}

func TestDropCounts(t *testing.T) {
	counts := DropCounts{}
	assert.True(t, counts.Record(&DropError{Reason: DropMissingID}))
	assert.True(t, counts.Record(fmt.Errorf("wrapped: %w", &DropError{Reason: DropMissingID})))
	assert.False(t, counts.Record(errors.New("fatal")))
	assert.Equal(t, 2, counts[DropMissingID])

	counts.Merge(DropCounts{DropBadRadius: 3})
	assert.Equal(t, 5, counts.Total())
}
