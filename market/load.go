package market

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// Accepted date layouts, tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102 150405",
}

// Load reads a CSV bar file into a Series. Compression is detected from the
// extension: ".xz" files are decompressed on the fly and ".zip" archives are
// expected to contain a single CSV entry.
//
// The header must contain date, open, high, low and close columns
// (case-insensitive); a volume column is optional and defaults to NaN per row.
func Load(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bar file: %w", err)
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(path, ".xz"):
		r, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("xz bar file %s: %w", path, err)
		}
		return ReadCSV(r)

	case strings.HasSuffix(path, ".zip"):
		return loadZip(f, path)

	default:
		return ReadCSV(f)
	}
}

func loadZip(f *os.File, path string) (*Series, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("zip bar file %s: %w", path, err)
	}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", entry.Name, err)
		}
		defer rc.Close()
		return ReadCSV(rc)
	}
	return nil, fmt.Errorf("zip bar file %s has no entries", path)
}

// ReadCSV parses CSV bar data from r into a Series.
func ReadCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read bar header: %w", err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("bar data must contain a %q column", required)
		}
	}
	volCol, hasVolume := cols["volume"]

	var candles []Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read bar row: %w", err)
		}

		ts, err := parseDate(rec[cols["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c := Candle{Time: ts, Volume: math.NaN()}
		for _, field := range []struct {
			name string
			dst  *float64
		}{
			{"open", &c.Open},
			{"high", &c.High},
			{"low", &c.Low},
			{"close", &c.Close},
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[field.name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s value %q", line, field.name, rec[cols[field.name]])
			}
			*field.dst = v
		}
		if hasVolume {
			if raw := strings.TrimSpace(rec[volCol]); raw != "" {
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad volume value %q", line, raw)
				}
				c.Volume = v
			}
		}

		candles = append(candles, c)
	}

	return NewSeries(candles)
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)

	// Unix seconds are common in crypto exports.
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
