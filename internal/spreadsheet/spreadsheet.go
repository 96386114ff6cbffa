// Package spreadsheet exports collections to an xlsx workbook and imports
// master data (medicines, patients, doctors) back from one.
package spreadsheet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/ledger"
	"medipos/m/internal/store"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	infoSheet   = "Export_Info"
	dateLayout  = "2006-01-02"
)

type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	log    zerolog.Logger
	now    func() time.Time
}

func New(s store.Store, l *ledger.Ledger, log zerolog.Logger) *Service {
	return &Service{store: s, ledger: l, log: log.With().Str("component", "spreadsheet").Logger(), now: time.Now}
}

// ExportRequest selects collections and an optional created_at range.
type ExportRequest struct {
	Collections    []string `json:"collections"`
	DateRangeStart string   `json:"date_range_start,omitempty"`
	DateRangeEnd   string   `json:"date_range_end,omitempty"`
}

type ExportSummary struct {
	Filename string           `json:"filename"`
	Counts   map[string]int64 `json:"counts"`
}

// Export writes a workbook with one sheet per non-empty selected collection.
func (s *Service) Export(ctx context.Context, req ExportRequest, w io.Writer) (ExportSummary, error) {
	collections := req.Collections
	if len(collections) == 0 {
		collections = Exportable()
	}
	for _, c := range collections {
		if _, ok := sheetFor(c); !ok {
			return ExportSummary{}, apperr.Validation(fmt.Sprintf("collection %q cannot be exported", c)).WithDetail("collections", c)
		}
	}
	filter, err := dateFilter(req.DateRangeStart, req.DateRangeEnd)
	if err != nil {
		return ExportSummary{}, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", infoSheet); err != nil {
		return ExportSummary{}, err
	}

	now := s.now()
	counts := make(map[string]int64, len(collections))
	for _, sh := range sheets {
		if !slices.Contains(collections, sh.collection) {
			continue
		}
		docs, err := s.store.Find(ctx, sh.collection, filter, store.SortBy("created_at", false))
		if err != nil {
			return ExportSummary{}, apperr.Storage(err)
		}
		counts[sh.collection] = int64(len(docs))
		if len(docs) == 0 {
			continue
		}
		if err := writeSheet(f, sh, docs); err != nil {
			return ExportSummary{}, fmt.Errorf("write %s sheet: %w", sh.name, err)
		}
	}

	info := [][]any{
		{"MediPOS export"},
		{"Exported At", domain.Timestamp(now)},
	}
	if req.DateRangeStart != "" || req.DateRangeEnd != "" {
		info = append(info, []any{"Date Range", req.DateRangeStart + " - " + req.DateRangeEnd})
	}
	info = append(info, []any{}, []any{"Collection", "Records"})
	for _, sh := range sheets {
		if n, ok := counts[sh.collection]; ok {
			info = append(info, []any{sh.collection, n})
		}
	}
	for i, row := range info {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(infoSheet, cell, &row); err != nil {
			return ExportSummary{}, err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return ExportSummary{}, fmt.Errorf("write workbook: %w", err)
	}
	summary := ExportSummary{
		Filename: fmt.Sprintf("medipos_export_%s.xlsx", now.UTC().Format("20060102_150405")),
		Counts:   counts,
	}
	s.log.Info().Interface("counts", counts).Msg("spreadsheet exported")
	return summary, nil
}

func writeSheet(f *excelize.File, sh sheet, docs []store.Document) error {
	if _, err := f.NewSheet(sh.name); err != nil {
		return err
	}
	headers := make([]any, len(sh.columns))
	for i, c := range sh.columns {
		headers[i] = c.header
	}
	if err := f.SetSheetRow(sh.name, "A1", &headers); err != nil {
		return err
	}
	for r, doc := range docs {
		row := make([]any, len(sh.columns))
		for i, c := range sh.columns {
			row[i] = cellValue(doc[c.field], c.kind)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func cellValue(v any, k kind) any {
	if v == nil {
		switch k {
		case number, integer:
			return 0
		case boolean:
			return false
		}
		return ""
	}
	switch k {
	case integer:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case jsonValue:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return v
}

func dateFilter(start, end string) (store.Filter, error) {
	var conds []store.Cond
	if start != "" {
		t, err := parseDate(start)
		if err != nil {
			return store.Filter{}, apperr.Validation("invalid date_range_start").WithDetail("date_range_start", err.Error())
		}
		conds = append(conds, store.Gte("created_at", domain.Timestamp(t)))
	}
	if end != "" {
		t, err := parseDate(end)
		if err != nil {
			return store.Filter{}, apperr.Validation("invalid date_range_end").WithDetail("date_range_end", err.Error())
		}
		if len(end) == len(dateLayout) {
			t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
		}
		conds = append(conds, store.Lte("created_at", domain.Timestamp(t)))
	}
	return store.Where(conds...), nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return domain.ParseTimestamp(s)
}

// ImportResult reports per-sheet counts and row problems.
type ImportResult struct {
	Success        bool           `json:"success"`
	Message        string         `json:"message"`
	ImportedCounts map[string]int `json:"imported_counts"`
	Errors         []string       `json:"errors"`
	Warnings       []string       `json:"warnings"`
}

// Import merges the Medicines, Patients and Doctors sheets of a workbook by
// id. Existing records are updated, new ones created. Medicine stock goes
// through the ledger so every change leaves a movement.
func (s *Service) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{}, apperr.Validation("invalid Excel file format").WithDetail("file", err.Error())
	}
	defer f.Close()

	res := ImportResult{ImportedCounts: map[string]int{}, Errors: []string{}, Warnings: []string{}}
	for _, name := range f.GetSheetList() {
		sh, ok := sheetNamed(name)
		if !ok || !sh.importable {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		res.ImportedCounts[sh.collection] = s.importSheet(ctx, sh, rows, &res)
	}

	total := 0
	for _, n := range res.ImportedCounts {
		total += n
	}
	res.Success = len(res.Errors) == 0
	res.Message = fmt.Sprintf("Import completed. Imported: %d records", total)
	s.log.Info().Interface("counts", res.ImportedCounts).Int("errors", len(res.Errors)).Msg("spreadsheet imported")
	return res, nil
}

func (s *Service) importSheet(ctx context.Context, sh sheet, rows [][]string, res *ImportResult) int {
	if len(rows) == 0 {
		return 0
	}
	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		index[strings.TrimSpace(h)] = i
	}

	imported := 0
	for n, row := range rows[1:] {
		doc, err := parseRow(sh, index, row)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s row %d: %v", sh.name, n+2, err))
			continue
		}
		if doc.ID() == "" || doc["name"] == nil || doc["name"] == "" {
			continue
		}
		updated, err := s.importRecord(ctx, sh.collection, doc)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s row %d: %v", sh.name, n+2, err))
			continue
		}
		if updated {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Updated existing %s: %s", strings.TrimSuffix(sh.collection, "s"), doc["name"]))
		}
		imported++
	}
	return imported
}

func parseRow(sh sheet, index map[string]int, row []string) (store.Document, error) {
	doc := store.Document{}
	for _, c := range sh.columns {
		if c.field == "created_at" || c.field == "updated_at" {
			continue
		}
		i, ok := index[c.header]
		if !ok {
			continue
		}
		raw := ""
		if i < len(row) {
			raw = strings.TrimSpace(row[i])
		}
		v, err := parseCell(raw, c)
		if err != nil {
			return nil, err
		}
		if v != nil {
			doc[c.field] = v
		}
	}
	return doc, nil
}

func parseCell(raw string, c column) (any, error) {
	switch c.kind {
	case optionalText:
		if raw == "" {
			return nil, nil
		}
		return raw, nil
	case number:
		if raw == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", c.header, raw)
		}
		return f, nil
	case integer:
		if raw == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a whole number", c.header, raw)
		}
		return int64(f), nil
	case boolean:
		if raw == "" {
			return true, nil
		}
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not true or false", c.header, raw)
		}
		return b, nil
	}
	return raw, nil
}

func (s *Service) importRecord(ctx context.Context, collection string, doc store.Document) (bool, error) {
	now := domain.Timestamp(s.now())
	_, err := s.store.FindOne(ctx, collection, store.ByID(doc.ID()))
	exists := err == nil
	if err != nil && !store.IsNotFound(err) {
		return false, err
	}

	if collection == store.Medicines {
		return exists, s.importMedicine(ctx, doc, exists, now)
	}
	doc["updated_at"] = now
	if exists {
		_, err := s.store.UpdateOne(ctx, collection, store.ByID(doc.ID()), doc)
		return true, err
	}
	doc["created_at"] = now
	return false, s.store.Insert(ctx, collection, doc)
}

func (s *Service) importMedicine(ctx context.Context, doc store.Document, exists bool, now string) error {
	stock, hasStock := doc.Int("stock_quantity")
	delete(doc, "stock_quantity")

	if !exists {
		var med domain.Medicine
		if err := store.Decode(doc, &med); err != nil {
			return err
		}
		med.StockQuantity = stock
		if _, ok := doc["minimum_stock_level"]; !ok {
			med.MinimumStockLevel = domain.DefaultMinimumStockLevel
		}
		_, err := s.ledger.Register(ctx, med)
		return err
	}

	doc["updated_at"] = now
	if _, err := s.store.UpdateOne(ctx, store.Medicines, store.ByID(doc.ID()), doc); err != nil {
		return err
	}
	if hasStock {
		if _, err := s.ledger.SetStock(ctx, doc.ID(), stock, "Spreadsheet import"); err != nil {
			return err
		}
	}
	return nil
}
