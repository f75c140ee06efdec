// Package file is a directory-backed store: chain snapshots are read from
// CSV exports and metrics history is kept in a JSONL file.
//
// Layout:
//
//	{dir}/{date}/{symbol}/chain.csv (or chain.csv.zst)
//	{dir}/gex_metrics.jsonl
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/store/memory"
)

const (
	chainFile   = "chain.csv"
	metricsFile = "gex_metrics.jsonl"
)

// Store serves reads from memory and persists every metrics write.
type Store struct {
	*memory.Store
	dir    string
	filler Filler
	mu     sync.Mutex
	logger *zap.Logger
}

// Open loads the metrics history and the chain files of date. An empty date
// or "latest" selects the newest date folder; a directory without date
// folders yields a store with no chain.
func Open(dir, date string, filler Filler, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s := &Store{
		Store:  memory.New(),
		dir:    dir,
		filler: filler,
		logger: logger,
	}

	rows, err := readMetrics(s.metricsPath())
	if err != nil {
		return nil, fmt.Errorf("loading metrics history: %w", err)
	}
	s.LoadMetrics(rows)

	if date == "" || date == "latest" {
		date, err = detectLatestDate(dir)
		if err != nil {
			logger.Warn("no chain data found", zap.String("dir", dir), zap.Error(err))
			return s, nil
		}
	}

	if err := s.loadDate(date); err != nil {
		return nil, err
	}

	logger.Info("file store opened",
		zap.String("dir", dir),
		zap.String("date", date),
		zap.Int("metrics", len(rows)),
	)
	return s, nil
}

func (s *Store) metricsPath() string {
	return filepath.Join(s.dir, metricsFile)
}

func (s *Store) loadDate(date string) error {
	dateDir := filepath.Join(s.dir, date)
	return filepath.WalkDir(dateDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (d.Name() != chainFile && d.Name() != chainFile+".zst") {
			return nil
		}
		if _, err := s.ImportChain(context.Background(), path); err != nil {
			s.logger.Warn("failed to load chain", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

// ImportChain loads a chain CSV into the store and records the underlying
// price of its most recent row. It returns the number of quotes read.
func (s *Store) ImportChain(ctx context.Context, path string) (int, error) {
	quotes, err := ReadChainFile(path, s.filler)
	if err != nil {
		return 0, err
	}
	if err := s.UpsertQuotes(ctx, quotes...); err != nil {
		return 0, err
	}
	for sym, q := range LatestPrices(quotes) {
		s.SetPrice(sym, q.Price, q.AsOf)
	}

	s.logger.Info("chain loaded", zap.String("path", path), zap.Int("quotes", len(quotes)))
	return len(quotes), nil
}

// UpsertGEXMetrics implements gex.MetricsWriter. The full history is
// rewritten through a temp file and renamed into place; the record becomes
// visible to readers only once that succeeds.
func (s *Store) UpsertGEXMetrics(ctx context.Context, m *gex.GEXMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := memory.New()
	next.LoadMetrics(s.AllMetrics())
	if err := next.UpsertGEXMetrics(ctx, m); err != nil {
		return err
	}
	if err := writeMetrics(s.metricsPath(), next.AllMetrics()); err != nil {
		return err
	}
	return s.Store.UpsertGEXMetrics(ctx, m)
}

func readMetrics(path string) ([]gex.GEXMetrics, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []gex.GEXMetrics
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m gex.GEXMetrics
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		rows = append(rows, m)
	}
	return rows, scanner.Err()
}

func writeMetrics(path string, rows []gex.GEXMetrics) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range rows {
		if err = enc.Encode(&rows[i]); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing metrics: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// detectLatestDate returns the newest non-empty YYYY-MM-DD folder in dir.
func detectLatestDate(dir string) (string, error) {
	datePattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading data directory: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		if !entry.IsDir() || !datePattern.MatchString(entry.Name()) {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(dir, entry.Name()))
		if err == nil && len(sub) > 0 {
			dates = append(dates, entry.Name())
		}
	}
	if len(dates) == 0 {
		return "", fmt.Errorf("no date folders found in %s", dir)
	}

	// YYYY-MM-DD sorts lexicographically
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates[0], nil
}
