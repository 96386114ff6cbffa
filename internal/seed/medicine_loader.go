// Package seed loads the medicine catalog CSV into the store.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/ledger"
	"medipos/m/internal/store"
)

// Catalog column positions. Rows with fewer than minColumns are skipped.
const (
	colBrandID      = 0
	colBrandName    = 1
	colType         = 2
	colGeneric      = 5
	colManufacturer = 7
	minColumns      = 9
)

// Result counts what a load did.
type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type Loader struct {
	store  store.Store
	ledger *ledger.Ledger
	log    zerolog.Logger
}

func NewLoader(s store.Store, l *ledger.Ledger, log zerolog.Logger) *Loader {
	return &Loader{store: s, ledger: l, log: log.With().Str("component", "seed").Logger()}
}

// LoadFile ingests the catalog at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("unable to load medicine catalog %s: %w", path, err)
	}
	defer file.Close()
	return l.LoadMedicines(ctx, file)
}

// LoadMedicines registers every catalog row whose brand name is not yet in
// the store. Catalog entries start with zero stock.
func (l *Loader) LoadMedicines(ctx context.Context, r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	// Skip header
	if _, err := reader.Read(); err != nil {
		return Result{}, fmt.Errorf("unable to read medicine header: %w", err)
	}

	known, err := l.existingNames(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.log.Warn().Err(err).Msg("unable to read medicine row")
			res.Failed++
			continue
		}
		if len(record) < minColumns {
			res.Skipped++
			continue
		}
		brandName := strings.TrimSpace(record[colBrandName])
		if brandName == "" || known[strings.ToLower(brandName)] {
			res.Skipped++
			continue
		}

		med := domain.Medicine{
			Name:         brandName,
			GenericName:  optional(record[colGeneric]),
			Manufacturer: optional(record[colManufacturer]),
			BatchNumber:  optional(record[colBrandID]),
			Description:  optional(record[colType]),

			MinimumStockLevel: domain.DefaultMinimumStockLevel,
		}
		if _, err := l.ledger.Register(ctx, med); err != nil {
			l.log.Warn().Err(err).Str("medicine", brandName).Msg("unable to insert medicine")
			res.Failed++
			continue
		}
		known[strings.ToLower(brandName)] = true
		res.Inserted++
	}

	l.log.Info().
		Int("inserted", res.Inserted).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("seeded medicine catalog")
	return res, nil
}

func (l *Loader) existingNames(ctx context.Context) (map[string]bool, error) {
	docs, err := l.store.Find(ctx, store.Medicines, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	names := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if name, ok := doc["name"].(string); ok {
			names[strings.ToLower(name)] = true
		}
	}
	return names, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
