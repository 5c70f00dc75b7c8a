// Package domain models the City of Chicago open-data records joined by the
// pipeline and the temporal rules applied after the spatial join.
//
// # Data Sources
//
// Both feeds come from the Chicago Data Portal (https://data.cityofchicago.org),
// a Socrata instance:
//
//	ijzp-q8t2  Crimes - 2001 to Present (one row per reported incident)
//	zuxi-7xem  311 Service Requests - Street Lights - All Out
//
// Rows arrive as flat string maps ([Record]), either from the SODA API or from
// a CSV cache written by cmd/pull.
//
// # Portal Conventions
//
// Timestamps:
//
//	SODA "floating timestamps" carry no zone: "2013-03-10T08:00:00.000".
//	CSV exports use "03/10/2013 08:00:00 AM". Both denote Chicago wall-clock
//	time. They are parsed as naive values in UTC so that day arithmetic is a
//	plain 24h offset with no DST shifts.
//
// Streetlight column names:
//
//	Older exports spell the window columns "creating_date" and "completed_date".
//	[CanonicalizeRequestColumns] renames them to "creation_date" and
//	"completion_date" when the canonical name is missing.
//
// Identifiers:
//
//	Crime "id" is numeric in the API but kept as a string. Service request
//	numbers ("11-00012345") are the request identity and become request_id.
//
// # Temporal Policies
//
// Window (see [InServiceWindow]):
//
//	creation_date <= crime_date <= completion_date, with no upper bound when
//	completion_date is absent. Both edges inclusive.
//
// Buckets (see [AssignBucket]):
//
//	Bucket k covers [creation - k*24h, creation - (k-1)*24h). A coarse
//	floor-to-day gap picks k; the half-open interval check is authoritative
//	and only ever narrows the coarse result.
//
// # Record Drops
//
// Unparseable timestamps, missing coordinates, and missing identifiers drop
// the record with a [*DropError]; callers count drops by [DropReason]. A
// missing column is different: [RequireColumns] returns [ErrMissingColumn],
// which aborts the run.
package domain
