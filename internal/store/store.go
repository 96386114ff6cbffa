// Package store defines the document-oriented Record Store shared by every
// component. Backends live in the memory, sqlstore and mongostore
// subpackages and all satisfy Store.
package store

import (
	"context"
	"errors"
	"math"
)

// Collection names.
const (
	Medicines        = "medicines"
	Patients         = "patients"
	Doctors          = "doctors"
	Sales            = "sales"
	Returns          = "returns"
	StockMovements   = "stock_movements"
	OPDPrescriptions = "opd_prescriptions"
	Settings         = "settings"
	CustomTemplates  = "custom_templates"
	Backups          = "backups"
	Users            = "users"
)

// DomainCollections are the business collections a database backup covers.
// Settings travel separately; users and backups are never snapshotted.
var DomainCollections = []string{
	Medicines, Patients, Doctors, Sales, Returns,
	StockMovements, OPDPrescriptions, CustomTemplates,
}

// AllCollections is every collection the application touches.
var AllCollections = append(append([]string{}, DomainCollections...), Settings, Backups, Users)

// NoFloor disables the lower bound check of Increment.
const NoFloor int64 = math.MinInt64

var (
	ErrNotFound    = errors.New("store: document not found")
	ErrBelowFloor  = errors.New("store: increment would cross floor")
	ErrDuplicateID = errors.New("store: duplicate document id")
	ErrMissingID   = errors.New("store: document has no id")
)

// Store is the persistence contract. Every document carries a string "id".
type Store interface {
	Find(ctx context.Context, collection string, filter Filter, opts ...FindOption) ([]Document, error)
	// FindOne returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	Insert(ctx context.Context, collection string, doc Document) error
	InsertMany(ctx context.Context, collection string, docs []Document) error
	// UpdateOne sets the patch fields on the first match and reports whether
	// anything matched. Matching and writing happen atomically.
	UpdateOne(ctx context.Context, collection string, filter Filter, patch Document) (bool, error)
	// Upsert replaces the document with the same id, inserting it if absent.
	Upsert(ctx context.Context, collection string, doc Document) error
	DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	// Increment atomically adds delta to an integer field and returns the new
	// value. When the result would fall below floor nothing is written and
	// ErrBelowFloor is returned. Pass NoFloor to skip the check.
	Increment(ctx context.Context, collection, id, field string, delta, floor int64) (int64, error)
	// ReplaceAll swaps the whole content of a collection for docs.
	ReplaceAll(ctx context.Context, collection string, docs []Document) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// FindOptions controls ordering and paging of Find.
type FindOptions struct {
	SortField string
	SortDesc  bool
	Limit     int
	Skip      int
}

type FindOption func(*FindOptions)

// SortBy orders results by field.
func SortBy(field string, desc bool) FindOption {
	return func(o *FindOptions) {
		o.SortField = field
		o.SortDesc = desc
	}
}

func Limit(n int) FindOption {
	return func(o *FindOptions) { o.Limit = n }
}

func Skip(n int) FindOption {
	return func(o *FindOptions) { o.Skip = n }
}

// ApplyFindOptions folds opts into a FindOptions value.
func ApplyFindOptions(opts []FindOption) FindOptions {
	var fo FindOptions
	for _, opt := range opts {
		opt(&fo)
	}
	return fo
}
