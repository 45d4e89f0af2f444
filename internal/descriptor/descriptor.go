// Package descriptor turns a station and date-range selection into an
// immutable download job description.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrIncompleteSelection means a required field has not been chosen yet.
	// Callers treat it as "not ready", not as a user-facing failure.
	ErrIncompleteSelection = errors.New("selection incomplete")

	// ErrInvalidDateOrder is returned when the start month is not strictly
	// before the end month.
	ErrInvalidDateOrder = errors.New("download start date must precede download end date")

	// ErrInvalidSelection covers values that can never form a job: months
	// outside 1..12, non-positive years, unknown frequencies.
	ErrInvalidSelection = errors.New("invalid selection")
)

// Frequency is the sampling interval of the requested records.
type Frequency string

const (
	FrequencyHourly  Frequency = "Hourly"
	FrequencyDaily   Frequency = "Daily"
	FrequencyMonthly Frequency = "Monthly"
)

// ParseFrequency accepts the canonical names case-insensitively.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly":
		return FrequencyHourly, nil
	case "daily":
		return FrequencyDaily, nil
	case "monthly":
		return FrequencyMonthly, nil
	default:
		return "", fmt.Errorf("%w: unknown frequency %q", ErrInvalidSelection, s)
	}
}

// YearMonth is a calendar month normalized for ordering.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (ym YearMonth) index() int {
	return ym.Year*12 + ym.Month - 1
}

// Before reports whether ym is strictly earlier than other.
func (ym YearMonth) Before(other YearMonth) bool {
	return ym.index() < other.index()
}

// FirstDay returns midnight UTC on the first day of the month.
func (ym YearMonth) FirstDay() time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
}

// String renders YYYYMM.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d%02d", ym.Year, ym.Month)
}

// Selection is the raw input collected from the station picker. Zero values
// and nil coordinates mean the field has not been chosen.
type Selection struct {
	StationID            string   `json:"station_id"`
	StationName          string   `json:"station_name"`
	Latitude             *float64 `json:"latitude"`
	Longitude            *float64 `json:"longitude"`
	StartYear            int      `json:"start_year"`
	StartMonth           int      `json:"start_month"`
	EndYear              int      `json:"end_year"`
	EndMonth             int      `json:"end_month"`
	Frequency            string   `json:"frequency"`
	AvailableFrequencies []string `json:"available_frequencies,omitempty"`
}

// Complete reports whether every required field is present.
func (s Selection) Complete() bool {
	return strings.TrimSpace(s.StationID) != "" &&
		strings.TrimSpace(s.StationName) != "" &&
		s.Latitude != nil && s.Longitude != nil &&
		s.StartYear != 0 && s.StartMonth != 0 &&
		s.EndYear != 0 && s.EndMonth != 0 &&
		strings.TrimSpace(s.Frequency) != ""
}

// Descriptor is the immutable description of one download job.
type Descriptor struct {
	stationID    string
	stationName  string
	latitude     float64
	longitude    float64
	start        YearMonth
	end          YearMonth
	frequency    Frequency
	artifactName string
}

func (d Descriptor) StationID() string { return d.stationID }
func (d Descriptor) StationName() string { return d.stationName }
func (d Descriptor) Latitude() float64 { return d.latitude }
func (d Descriptor) Longitude() float64 { return d.longitude }
func (d Descriptor) Start() YearMonth { return d.start }
func (d Descriptor) End() YearMonth { return d.end }
func (d Descriptor) Frequency() Frequency { return d.frequency }
func (d Descriptor) ArtifactName() string { return d.artifactName }
func (d Descriptor) IsZero() bool { return d.artifactName == "" }

// Period returns the covered days: the first day of the start month through
// the day before the first day of the end month.
func (d Descriptor) Period() (from, to time.Time) {
	return d.start.FirstDay(), d.end.FirstDay().AddDate(0, 0, -1)
}

// Summary is the confirmation text shown before the job is started.
func (d Descriptor) Summary() string {
	from, to := d.Period()
	return fmt.Sprintf("Ready to download %s data from %s to %s for station %s (station ID %s)",
		d.frequency, from.Format(time.DateOnly), to.Format(time.DateOnly), d.stationName, d.stationID)
}

// Build validates a selection and produces its descriptor. It has no side
// effects.
func Build(sel Selection) (Descriptor, error) {
	if !sel.Complete() {
		return Descriptor{}, ErrIncompleteSelection
	}

	freq, err := ParseFrequency(sel.Frequency)
	if err != nil {
		return Descriptor{}, err
	}

	// The picker keeps a stale frequency around after the station changes;
	// that is "not ready" rather than invalid.
	if len(sel.AvailableFrequencies) > 0 && !offers(sel.AvailableFrequencies, freq) {
		return Descriptor{}, ErrIncompleteSelection
	}

	start := YearMonth{Year: sel.StartYear, Month: sel.StartMonth}
	end := YearMonth{Year: sel.EndYear, Month: sel.EndMonth}
	for _, ym := range []YearMonth{start, end} {
		if ym.Year < 1 || ym.Year > 9999 || ym.Month < 1 || ym.Month > 12 {
			return Descriptor{}, fmt.Errorf("%w: %d-%02d is not a calendar month", ErrInvalidSelection, ym.Year, ym.Month)
		}
	}

	if !start.Before(end) {
		return Descriptor{}, ErrInvalidDateOrder
	}

	d := Descriptor{
		stationID:   strings.TrimSpace(sel.StationID),
		stationName: strings.TrimSpace(sel.StationName),
		latitude:    *sel.Latitude,
		longitude:   *sel.Longitude,
		start:       start,
		end:         end,
		frequency:   freq,
	}
	d.artifactName = ArtifactName(d.stationName, d.stationID, start, end, freq)

	return d, nil
}

func offers(available []string, freq Frequency) bool {
	for _, a := range available {
		if f, err := ParseFrequency(a); err == nil && f == freq {
			return true
		}
	}
	return false
}

// ArtifactName derives the output file name. Identical inputs always give the
// same name.
func ArtifactName(stationName, stationID string, start, end YearMonth, freq Frequency) string {
	parts := []string{
		"WHC",
		sanitize(stationName),
		sanitize(stationID),
		start.String(),
		end.String(),
		strings.ToLower(string(freq)) + ".csv",
	}
	return strings.Join(parts, "_")
}

// sanitize replaces each run of non-alphanumeric characters with a single
// underscore and trims them from both ends.
func sanitize(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "station"
	}
	return b.String()
}

// wire is the JSON form carried to the worker.
type wire struct {
	StationID    string    `json:"station_id"`
	StationName  string    `json:"station_name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Start        YearMonth `json:"start"`
	End          YearMonth `json:"end"`
	Frequency    Frequency `json:"frequency"`
	ArtifactName string    `json:"artifact_name"`
}

// MarshalJSON implements json.Marshaler.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{
		StationID:    d.stationID,
		StationName:  d.stationName,
		Latitude:     d.latitude,
		Longitude:    d.longitude,
		Start:        d.start,
		End:          d.end,
		Frequency:    d.frequency,
		ArtifactName: d.artifactName,
	})
}

// UnmarshalJSON re-validates through Build so a decoded descriptor obeys the
// same rules as a freshly built one.
func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	lat, lon := w.Latitude, w.Longitude
	built, err := Build(Selection{
		StationID:   w.StationID,
		StationName: w.StationName,
		Latitude:    &lat,
		Longitude:   &lon,
		StartYear:   w.Start.Year,
		StartMonth:  w.Start.Month,
		EndYear:     w.End.Year,
		EndMonth:    w.End.Month,
		Frequency:   string(w.Frequency),
	})
	if err != nil {
		return fmt.Errorf("failed to decode descriptor: %w", err)
	}
	if w.ArtifactName != "" && w.ArtifactName != built.artifactName {
		return fmt.Errorf("%w: artifact name %q does not match selection", ErrInvalidSelection, w.ArtifactName)
	}

	*d = built
	return nil
}
