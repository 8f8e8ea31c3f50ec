// Package job wires the fetcher, label generator, persister and uploader
// into named ingestion jobs.
package job

import (
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/label"
	"github.com/Sternrassler/socrata-ingest/pkg/pagination"
	"github.com/Sternrassler/socrata-ingest/pkg/storage"
	"github.com/Sternrassler/socrata-ingest/pkg/table"
)

// Defaults shared by the built-in jobs.
const (
	DefaultBaseURL  = "https://data.cityofchicago.org/resource"
	DefaultPageSize = 100
	DefaultTimeout  = 10 * time.Second
	DefaultDelay    = 1500 * time.Millisecond
	DefaultBucket   = "data-engineering-project"
)

// Built-in job names.
const (
	NameCrimes        = "crimes"
	NameSocioeconomic = "socioeconomic"
)

// LabelKind selects how an artifact label is derived.
type LabelKind string

const (
	// LabelDates labels by the date range of a column.
	LabelDates LabelKind = "dates"

	// LabelGeo uses a static geographic marker.
	LabelGeo LabelKind = "geo"
)

// LabelSpec describes how to name a job's artifact.
type LabelSpec struct {
	Kind   LabelKind
	Column string
	Prefix string
}

// Generate derives the label for t.
func (s LabelSpec) Generate(t *table.Table) (string, error) {
	switch s.Kind {
	case LabelDates:
		return label.FromDates(t, s.Column, s.Prefix)
	case LabelGeo:
		return label.Geo(s.Prefix), nil
	default:
		return "", fmt.Errorf("unknown label kind %q", s.Kind)
	}
}

// Job is one named ingestion: what to fetch, how to name it, where to
// keep it.
type Job struct {
	Name    string
	Request pagination.DatasetRequest
	Label   LabelSpec

	// SavePath is the local directory for the CSV artifact.
	SavePath string

	// Directory is the remote destination.
	Directory storage.Directory
}

// Crimes returns the arrests-since-2019 extract of "Crimes - 2001 to Present".
func Crimes() Job {
	return Job{
		Name: NameCrimes,
		Request: pagination.DatasetRequest{
			BaseURL:  DefaultBaseURL,
			Endpoint: "ijzp-q8t2.json",
			Columns: []string{
				"date", "primary_type", "description", "location_description",
				"arrest", "beat", "district", "ward", "community_area",
				"latitude", "longitude",
			},
			RowFilter: "arrest=true AND date>='2019-01-01T00:00:00' AND date<='2024-10-22T00:00:00'",
			PageSize:  DefaultPageSize,
			Timeout:   DefaultTimeout,
			Delay:     DefaultDelay,
		},
		Label:     LabelSpec{Kind: LabelDates, Column: "date", Prefix: "Crimes"},
		SavePath:  "RawData/DataSet1",
		Directory: storage.Directory{Bucket: DefaultBucket, Path: "Crime2019_to_Present"},
	}
}

// SocioeconomicAreas returns the static "Socioeconomically Disadvantaged
// Areas" dataset.
func SocioeconomicAreas() Job {
	return Job{
		Name: NameSocioeconomic,
		Request: pagination.DatasetRequest{
			BaseURL:  DefaultBaseURL,
			Endpoint: "2ui7-wiq8.json",
			PageSize: DefaultPageSize,
			Timeout:  DefaultTimeout,
			Delay:    DefaultDelay,
		},
		Label:     LabelSpec{Kind: LabelGeo, Prefix: "SocioeconomicAreas"},
		SavePath:  "RawData/DataSet3",
		Directory: storage.Directory{Bucket: DefaultBucket, Path: "Socioeconomic Areas"},
	}
}

var builtins = map[string]func() Job{
	NameCrimes:        Crimes,
	NameSocioeconomic: SocioeconomicAreas,
}

// Lookup returns a fresh copy of the built-in job called name.
func Lookup(name string) (Job, bool) {
	build, ok := builtins[name]
	if !ok {
		return Job{}, false
	}
	return build(), true
}

// Names lists the built-in jobs.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
