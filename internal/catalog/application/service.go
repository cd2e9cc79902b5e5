package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tytya04/zakupki/internal/catalog/domain"
	"github.com/tytya04/zakupki/internal/catalog/index"
)

type Loader interface {
	LoadProducts(ctx context.Context) ([]domain.Product, error)
	LoadSynonyms(ctx context.Context) ([]domain.Synonym, error)
}

// Service owns the index lifecycle: one build at startup, rebuilds on demand.
type Service struct {
	log    *slog.Logger
	loader Loader
	index  *index.Index
}

func NewService(log *slog.Logger, loader Loader, ix *index.Index) *Service {
	return &Service{log: log, loader: loader, index: ix}
}

// Rebuild loads the catalog and synonym tables and swaps the index snapshot.
// In-flight resolutions keep reading the old snapshot until the swap.
func (s *Service) Rebuild(ctx context.Context) (products, synonyms int, err error) {
	prods, err := s.loader.LoadProducts(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("rebuild index: %w", err)
	}
	syns, err := s.loader.LoadSynonyms(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("rebuild index: %w", err)
	}
	s.index.Rebuild(prods, syns)
	s.log.Info("catalog index rebuilt", "products", len(prods), "synonyms", len(syns))
	return len(prods), len(syns), nil
}
