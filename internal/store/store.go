// Package store opens the configured chain and metrics backend.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/config"
	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/store/file"
	"github.com/dgnsrekt/zerogex/internal/store/memory"
	"github.com/dgnsrekt/zerogex/internal/store/postgres"
)

// Store is everything the calculator, analyzer and importer need.
type Store interface {
	gex.ChainReader
	gex.PriceSource
	gex.MetricsWriter
	gex.HistoryReader

	// ImportChain loads a chain CSV export and returns the quote count.
	ImportChain(ctx context.Context, path string) (int, error)
	Close()
}

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, filler file.Filler, logger *zap.Logger) (Store, error) {
	switch config.Backend(cfg.Backend) {
	case config.BackendPostgres:
		pg, err := postgres.New(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		logger.Info("postgres store opened")
		return &postgresStore{Store: pg, filler: filler, logger: logger}, nil

	case config.BackendFile:
		return file.Open(cfg.Directory, cfg.Date, filler, logger)

	case config.BackendMemory:
		return &memoryStore{Store: memory.New(), filler: filler, logger: logger}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

type postgresStore struct {
	*postgres.Store
	filler file.Filler
	logger *zap.Logger
}

func (s *postgresStore) ImportChain(ctx context.Context, path string) (int, error) {
	quotes, err := file.ReadChainFile(path, s.filler)
	if err != nil {
		return 0, err
	}
	if err := s.UpsertQuotes(ctx, quotes...); err != nil {
		return 0, err
	}
	for sym, q := range file.LatestPrices(quotes) {
		if err := s.SetPrice(ctx, sym, q.Price, q.AsOf); err != nil {
			return 0, err
		}
	}
	s.logger.Info("chain imported", zap.String("path", path), zap.Int("quotes", len(quotes)))
	return len(quotes), nil
}

type memoryStore struct {
	*memory.Store
	filler file.Filler
	logger *zap.Logger
}

func (s *memoryStore) ImportChain(ctx context.Context, path string) (int, error) {
	quotes, err := file.ReadChainFile(path, s.filler)
	if err != nil {
		return 0, err
	}
	if err := s.UpsertQuotes(ctx, quotes...); err != nil {
		return 0, err
	}
	for sym, q := range file.LatestPrices(quotes) {
		s.SetPrice(sym, q.Price, q.AsOf)
	}
	s.logger.Info("chain imported", zap.String("path", path), zap.Int("quotes", len(quotes)))
	return len(quotes), nil
}
