// Package fetch downloads bulk station CSV data and assembles it into one
// artifact file.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
)

var (
	// ErrUpstream is returned for 5xx responses and transport failures.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrBadResponse is returned when the upstream rejects the request or
	// sends something that is not CSV.
	ErrBadResponse = errors.New("bad upstream response")
)

// Bulk data timeframes understood by the upstream endpoint.
const (
	TimeframeHourly  = 1
	TimeframeDaily   = 2
	TimeframeMonthly = 3
)

// Config holds fetcher configuration
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
}

// Fetcher retrieves pages from the bulk data endpoint, rate limited across
// all jobs of a worker process.
type Fetcher struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Result describes a written artifact.
type Result struct {
	Pages int
	Rows  int
	Bytes int64
}

// Page is one upstream request.
type Page struct {
	Year      int
	Month     int
	Timeframe int
}

// New creates a Fetcher.
func New(cfg Config, logger *slog.Logger) (*Fetcher, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid fetch base url: %w", err)
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Fetcher{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
	}, nil
}

// Pages lists the requests needed to cover the descriptor's period: one per
// month for hourly data, one per year for daily data and a single request
// for monthly data.
func Pages(d descriptor.Descriptor) []Page {
	start, end := d.Start(), d.End()
	last := prevMonth(end)

	switch d.Frequency() {
	case descriptor.FrequencyHourly:
		var pages []Page
		for ym := start; ym.Before(end); ym = nextMonth(ym) {
			pages = append(pages, Page{Year: ym.Year, Month: ym.Month, Timeframe: TimeframeHourly})
		}
		return pages

	case descriptor.FrequencyDaily:
		var pages []Page
		for y := start.Year; y <= last.Year; y++ {
			pages = append(pages, Page{Year: y, Month: 1, Timeframe: TimeframeDaily})
		}
		return pages

	default:
		return []Page{{Year: start.Year, Month: start.Month, Timeframe: TimeframeMonthly}}
	}
}

// Fetch downloads every page for d and writes the combined CSV to dst. The
// file appears atomically; a failed fetch leaves nothing at dst.
func (f *Fetcher) Fetch(ctx context.Context, d descriptor.Descriptor, dst string) (Result, error) {
	pages := Pages(d)

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := newRowWriter(tmp, d.Start(), d.End())

	for _, p := range pages {
		if err := f.limiter.Wait(ctx); err != nil {
			tmp.Close()
			return Result{}, fmt.Errorf("rate limiter: %w", err)
		}
		if err := f.fetchPage(ctx, d.StationID(), p, w); err != nil {
			tmp.Close()
			return Result{}, err
		}
		f.logger.Debug("Page fetched",
			slog.String("station_id", d.StationID()),
			slog.Int("year", p.Year),
			slog.Int("month", p.Month),
			slog.Int("timeframe", p.Timeframe),
		)
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close artifact: %w", err)
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Result{}, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return Result{Pages: len(pages), Rows: w.rows, Bytes: info.Size()}, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, stationID string, p Page, w *rowWriter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.pageURL(stationID, p), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	if err := w.copyFrom(resp.Body); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func (f *Fetcher) pageURL(stationID string, p Page) string {
	q := url.Values{}
	q.Set("format", "csv")
	q.Set("stationID", stationID)
	q.Set("Year", strconv.Itoa(p.Year))
	q.Set("Month", strconv.Itoa(p.Month))
	q.Set("Day", "1")
	q.Set("timeframe", strconv.Itoa(p.Timeframe))
	q.Set("submit", "Download Data")

	sep := "?"
	if strings.Contains(f.baseURL, "?") {
		sep = "&"
	}
	return f.baseURL + sep + q.Encode()
}

// rowWriter concatenates CSV pages, keeping the first header and the rows
// dated inside [from, to).
type rowWriter struct {
	out      *csv.Writer
	from, to descriptor.YearMonth
	header   bool
	rows     int
}

func newRowWriter(w io.Writer, from, to descriptor.YearMonth) *rowWriter {
	return &rowWriter{out: csv.NewWriter(w), from: from, to: to}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func (w *rowWriter) copyFrom(r io.Reader) error {
	br := bufio.NewReader(r)
	// The mark has to go before parsing or a quoted first field is read as
	// literal text.
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return err
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	dateCol := -1
	for i, name := range header {
		if strings.HasPrefix(name, "Date/Time") {
			dateCol = i
			break
		}
	}

	if !w.header {
		if err := w.out.Write(header); err != nil {
			return err
		}
		w.header = true
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		if dateCol >= 0 && dateCol < len(rec) && !w.inPeriod(rec[dateCol]) {
			continue
		}
		if err := w.out.Write(rec); err != nil {
			return err
		}
		w.rows++
	}
}

// inPeriod keeps rows whose date cannot be parsed.
func (w *rowWriter) inPeriod(value string) bool {
	if len(value) < 7 {
		return true
	}
	year, err1 := strconv.Atoi(value[0:4])
	month, err2 := strconv.Atoi(value[5:7])
	if err1 != nil || err2 != nil {
		return true
	}
	ym := descriptor.YearMonth{Year: year, Month: month}
	return !ym.Before(w.from) && ym.Before(w.to)
}

func (w *rowWriter) Flush() error {
	w.out.Flush()
	return w.out.Error()
}

func nextMonth(ym descriptor.YearMonth) descriptor.YearMonth {
	if ym.Month == 12 {
		return descriptor.YearMonth{Year: ym.Year + 1, Month: 1}
	}
	return descriptor.YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

func prevMonth(ym descriptor.YearMonth) descriptor.YearMonth {
	if ym.Month == 1 {
		return descriptor.YearMonth{Year: ym.Year - 1, Month: 12}
	}
	return descriptor.YearMonth{Year: ym.Year, Month: ym.Month - 1}
}
