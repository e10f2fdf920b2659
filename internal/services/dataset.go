package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"carsales-dashboard/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	cacheVersion = "v2"

	ColumnPeriod       = "REF_DATE"
	ColumnVehicleType  = "Vehicle_type"
	ColumnOrigin       = "Origin_of_manufacture"
	ColumnProvince     = "Province"
	ColumnProvinceName = "Name_of_Province"
	ColumnUnitsSold    = "Units_Sold"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LoadError is returned when an input file cannot be read, decoded or parsed.
// Loading is all or nothing.
type LoadError struct {
	Op   string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DataSource names the two input files of the dashboard.
type DataSource struct {
	CSVFile     string
	Encoding    string
	GeoJSONFile string
	FeatureKey  string
}

// Dataset is the read-only handle to the loaded sales records and boundaries.
// Nothing mutates it after construction, so it is safe to share between
// concurrent requests.
type Dataset struct {
	records    []models.SalesRecord
	boundaries *Boundaries
	loadedAt   time.Time
}

func NewDataset(records []models.SalesRecord, boundaries *Boundaries) *Dataset {
	if records == nil {
		records = []models.SalesRecord{}
	}
	if boundaries == nil {
		boundaries = emptyBoundaries(DefaultFeatureKey)
	}
	return &Dataset{
		records:    records,
		boundaries: boundaries,
		loadedAt:   time.Now(),
	}
}

// Records returns the records in file order. Callers must not modify the slice.
func (d *Dataset) Records() []models.SalesRecord {
	return d.records
}

func (d *Dataset) Boundaries() *Boundaries {
	return d.boundaries
}

func (d *Dataset) LoadedAt() time.Time {
	return d.loadedAt
}

type recordCache struct {
	Records   []models.SalesRecord
	Encoding  string
	CreatedAt time.Time
}

type Loader struct {
	logger   *slog.Logger
	cacheDir string
}

// NewLoader returns a loader that caches decoded records under cacheDir.
// An empty cacheDir disables the cache.
func NewLoader(logger *slog.Logger, cacheDir string) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		logger:   logger,
		cacheDir: cacheDir,
	}
}

// Load reads both input files concurrently and returns the dataset once both
// have been fully parsed.
func (l *Loader) Load(ctx context.Context, src DataSource) (*Dataset, error) {
	var (
		records    []models.SalesRecord
		boundaries *Boundaries
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = l.LoadRecords(gctx, src.CSVFile, src.Encoding)
		return err
	})
	g.Go(func() error {
		var err error
		boundaries, err = l.LoadBoundaries(gctx, src.GeoJSONFile, src.FeatureKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewDataset(records, boundaries), nil
}

// LoadRecords reads the sales table at path, decoding it from the named
// character encoding. Records keep file order.
func (l *Loader) LoadRecords(ctx context.Context, path, encodingName string) ([]models.SalesRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Op: "stat csv", Path: path, Err: err}
	}

	if cached, err := l.loadFromCache(path, encodingName); err == nil {
		if info.ModTime().Before(cached.CreatedAt) {
			l.logger.Info("loaded records from cache", "path", path, "records", len(cached.Records))
			return cached.Records, nil
		}
	}

	start := time.Now()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Op: "read csv", Path: path, Err: err}
	}

	text, err := decodeText(raw, encodingName)
	if err != nil {
		return nil, &LoadError{Op: "decode csv", Path: path, Err: err}
	}

	records, err := parseRecords(ctx, text)
	if err != nil {
		return nil, &LoadError{Op: "parse csv", Path: path, Err: err}
	}

	if err := l.saveToCache(path, encodingName, records); err != nil {
		l.logger.Warn("failed to save record cache", "path", path, "error", err)
	}

	l.logger.Info("csv processing complete",
		"path", path,
		"encoding", encodingName,
		"records", len(records),
		"duration", time.Since(start),
	)
	return records, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1", "iso_8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc, nil
}

func decodeText(raw []byte, encodingName string) ([]byte, error) {
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	if enc == nil {
		if !utf8.Valid(raw) {
			return nil, errors.New("input is not valid utf-8")
		}
		return bytes.TrimPrefix(raw, utf8BOM), nil
	}

	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", encodingName, err)
	}
	return bytes.TrimPrefix(decoded, utf8BOM), nil
}

type columnLayout struct {
	period, vehicleType, origin, province, provinceName, unitsSold int
}

func resolveColumns(header []string) (columnLayout, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	lookup := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, fmt.Errorf("missing required column %q", name)
		}
		return i, nil
	}

	var (
		layout columnLayout
		err    error
	)
	columns := []struct {
		name string
		dst  *int
	}{
		{ColumnPeriod, &layout.period},
		{ColumnVehicleType, &layout.vehicleType},
		{ColumnOrigin, &layout.origin},
		{ColumnProvince, &layout.province},
		{ColumnProvinceName, &layout.provinceName},
		{ColumnUnitsSold, &layout.unitsSold},
	}
	for _, c := range columns {
		if *c.dst, err = lookup(c.name); err != nil {
			return columnLayout{}, err
		}
	}
	return layout, nil
}

func parseRecords(ctx context.Context, text []byte) ([]models.SalesRecord, error) {
	r := csv.NewReader(bytes.NewReader(text))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	layout, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	records := make([]models.SalesRecord, 0)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := r.FieldPos(0)
		units, err := parseUnits(row[layout.unitsSold])
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColumnUnitsSold, err)
		}

		records = append(records, models.SalesRecord{
			Period:       row[layout.period],
			VehicleType:  row[layout.vehicleType],
			Origin:       row[layout.origin],
			Province:     row[layout.province],
			ProvinceName: row[layout.provinceName],
			UnitsSold:    units,
		})
	}

	if len(records) == 0 {
		return nil, errors.New("no records found")
	}
	return records, nil
}

// parseUnits accepts a non-negative integer, also written with a zero
// fractional part ("120.0") as spreadsheet exports do.
func parseUnits(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%q is not an integer", s)
		}
		n = int(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

// Cache management
func (l *Loader) getCacheFilename(csvPath, encodingName string) string {
	name := strings.ReplaceAll(filepath.Clean(csvPath), string(filepath.Separator), "_")
	enc := strings.ToLower(strings.TrimSpace(encodingName))
	if enc == "" {
		enc = "utf-8"
	}
	return filepath.Join(l.cacheDir, fmt.Sprintf("%s_%s_%s.gob", name, enc, cacheVersion))
}

func (l *Loader) saveToCache(csvPath, encodingName string, records []models.SalesRecord) error {
	if l.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.cacheDir, 0755); err != nil {
		return err
	}

	file, err := os.Create(l.getCacheFilename(csvPath, encodingName))
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewEncoder(file).Encode(recordCache{
		Records:   records,
		Encoding:  encodingName,
		CreatedAt: time.Now(),
	})
}

func (l *Loader) loadFromCache(csvPath, encodingName string) (*recordCache, error) {
	if l.cacheDir == "" {
		return nil, errors.New("cache disabled")
	}

	file, err := os.Open(l.getCacheFilename(csvPath, encodingName))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var data recordCache
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, err
	}
	if len(data.Records) == 0 {
		return nil, errors.New("empty cache")
	}
	return &data, nil
}
