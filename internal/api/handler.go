package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medipos/m/domain"
	"medipos/m/internal/access"
	"medipos/m/internal/analytics"
	"medipos/m/internal/apperr"
	"medipos/m/internal/backup"
	"medipos/m/internal/idempotency"
	"medipos/m/internal/ledger"
	"medipos/m/internal/logging"
	"medipos/m/internal/metrics"
	"medipos/m/internal/notify"
	"medipos/m/internal/settings"
	"medipos/m/internal/spreadsheet"
	"medipos/m/internal/store"
	"medipos/m/internal/validation"
)

const defaultTokenTTL = 24 * time.Hour

// Deps are the collaborators the HTTP layer serves. Store is required.
// Missing services are built on top of Store.
type Deps struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	Analytics   *analytics.Aggregator
	Backups     *backup.Engine
	Runner      *backup.Runner
	Settings    *settings.Service
	Sheets      *spreadsheet.Service
	Idempotency idempotency.Guard
	Telegram    *notify.Telegram
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	Secret      string
	TokenTTL    time.Duration
	Version     string
	CORSOrigins []string
}

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	store         store.Store
	users         store.Collection[domain.User]
	medicines     store.Collection[domain.Medicine]
	patients      store.Collection[domain.Patient]
	doctors       store.Collection[domain.Doctor]
	sales         store.Collection[domain.Sale]
	returns       store.Collection[domain.Return]
	prescriptions store.Collection[domain.OPDPrescription]
	templates     store.Collection[domain.CustomTemplate]

	ledger    *ledger.Ledger
	analytics *analytics.Aggregator
	backups   *backup.Engine
	runner    *backup.Runner
	settings  *settings.Service
	sheets    *spreadsheet.Service
	idem      idempotency.Guard
	reporter  *notify.Reporter
	guard     *access.Guard
	metrics   *metrics.Metrics
	log       zerolog.Logger

	secret   string
	tokenTTL time.Duration
	version  string
	origins  []string
	now      func() time.Time
	newID    func() string
	started  time.Time
}

// New constructs a Handler.
func New(d Deps) *Handler {
	log := d.Logger.With().Str("component", "api").Logger()
	if d.Ledger == nil {
		d.Ledger = ledger.New(d.Store, d.Logger, ledger.WithMetrics(d.Metrics))
	}
	if d.Analytics == nil {
		d.Analytics = analytics.New(d.Store, d.Logger)
	}
	if d.Settings == nil {
		d.Settings = settings.New(d.Store, d.Logger)
	}
	if d.Sheets == nil {
		d.Sheets = spreadsheet.New(d.Store, d.Ledger, d.Logger)
	}
	if d.Idempotency == nil {
		d.Idempotency = idempotency.NewMemory(idempotency.DefaultTTL)
	}
	if d.Telegram == nil {
		d.Telegram = notify.NewTelegram(d.Logger)
	}
	if d.TokenTTL <= 0 {
		d.TokenTTL = defaultTokenTTL
	}
	return &Handler{
		store:         d.Store,
		users:         store.Typed[domain.User](d.Store, store.Users),
		medicines:     store.Typed[domain.Medicine](d.Store, store.Medicines),
		patients:      store.Typed[domain.Patient](d.Store, store.Patients),
		doctors:       store.Typed[domain.Doctor](d.Store, store.Doctors),
		sales:         store.Typed[domain.Sale](d.Store, store.Sales),
		returns:       store.Typed[domain.Return](d.Store, store.Returns),
		prescriptions: store.Typed[domain.OPDPrescription](d.Store, store.OPDPrescriptions),
		templates:     store.Typed[domain.CustomTemplate](d.Store, store.CustomTemplates),
		ledger:        d.Ledger,
		analytics:     d.Analytics,
		backups:       d.Backups,
		runner:        d.Runner,
		settings:      d.Settings,
		sheets:        d.Sheets,
		idem:          d.Idempotency,
		reporter:      notify.NewReporter(d.Telegram, d.Store, d.Settings, d.Analytics, d.Ledger, d.Logger),
		guard:         access.NewGuard(d.Logger),
		metrics:       d.Metrics,
		log:           log,
		secret:        d.Secret,
		tokenTTL:      d.TokenTTL,
		version:       d.Version,
		origins:       d.CORSOrigins,
		now:           time.Now,
		newID:         uuid.NewString,
		started:       time.Now(),
	}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(h.log))
	r.Use(middleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	can := h.guard.Require

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.login)
			r.Post("/init-admin", h.initAdmin)
			r.Group(func(protected chi.Router) {
				protected.Use(h.authMiddleware)
				protected.Get("/me", h.me)
				protected.Post("/reset-password", h.resetPassword)
				protected.With(can(access.UsersAdd)).Post("/register", h.register)
			})
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.authMiddleware)

			pr.Get("/system-status", h.systemStatus)
			pr.Get("/permissions/definitions", h.permissionDefinitions)

			pr.Route("/users", func(r chi.Router) {
				r.With(can(access.UsersView)).Get("/", h.listUsers)
				r.With(can(access.UsersAdd)).Post("/", h.createUser)
				r.Get("/{id}", h.getUser)
				r.Put("/{id}", h.updateUser)
				r.With(can(access.UsersDelete)).Delete("/{id}", h.deleteUser)
			})

			pr.Route("/medicines", func(r chi.Router) {
				r.With(can(access.MedicinesAdd)).Post("/", h.createMedicine)
				r.With(can(access.MedicinesView)).Get("/", h.listMedicines)
				r.With(can(access.MedicinesView)).Get("/low-stock", h.lowStock)
				r.With(can(access.MedicinesView)).Get("/{id}", h.getMedicine)
				r.With(can(access.MedicinesEdit)).Put("/{id}", h.updateMedicine)
				r.With(can(access.MedicinesDelete)).Delete("/{id}", h.deleteMedicine)
			})

			pr.Route("/patients", func(r chi.Router) {
				r.With(can(access.PatientsAdd)).Post("/", h.createPatient)
				r.With(can(access.PatientsView)).Get("/", h.listPatients)
				r.With(can(access.PatientsView)).Get("/search", h.searchPatients)
				r.With(can(access.PatientsView)).Get("/{id}", h.getPatient)
				r.With(can(access.PatientsEdit)).Put("/{id}", h.updatePatient)
				r.With(can(access.PatientsDelete)).Delete("/{id}", h.deletePatient)
			})

			pr.Route("/doctors", func(r chi.Router) {
				r.With(can(access.DoctorsAdd)).Post("/", h.createDoctor)
				r.With(can(access.DoctorsView)).Get("/", h.listDoctors)
				r.With(can(access.DoctorsView)).Get("/{id}", h.getDoctor)
				r.With(can(access.DoctorsEdit)).Put("/{id}", h.updateDoctor)
				r.With(can(access.DoctorsDelete)).Delete("/{id}", h.deleteDoctor)
			})

			pr.Route("/sales", func(r chi.Router) {
				r.With(can(access.SalesAdd)).Post("/", h.createSale)
				r.With(can(access.SalesView)).Get("/", h.listSales)
				r.With(can(access.SalesView)).Get("/today", h.todaySales)
				r.With(can(access.SalesView)).Get("/patient/{id}", h.patientSales)
				r.With(can(access.SalesView)).Get("/{id}", h.getSale)
			})

			pr.Route("/returns", func(r chi.Router) {
				r.With(can(access.SalesRefund)).Post("/", h.createReturn)
				r.With(can(access.SalesView)).Get("/", h.listReturns)
				r.With(can(access.SalesView)).Get("/sale/{id}", h.saleReturns)
				r.With(can(access.SalesView)).Get("/{id}", h.getReturn)
			})

			pr.Route("/stock-movements", func(r chi.Router) {
				r.With(can(access.MedicinesView)).Get("/", h.listMovements)
				r.With(can(access.MedicinesEdit)).Post("/adjustments", h.adjustStock)
				r.With(can(access.MedicinesView)).Get("/{medicineID}", h.medicineMovements)
			})

			pr.Route("/opd-prescriptions", func(r chi.Router) {
				r.With(can(access.OPDAdd)).Post("/", h.createPrescription)
				r.With(can(access.OPDView)).Get("/", h.listPrescriptions)
				r.With(can(access.OPDView)).Get("/doctor/{id}", h.doctorPrescriptions)
				r.With(can(access.OPDView)).Get("/patient/{id}", h.patientPrescriptions)
				r.With(can(access.OPDView)).Get("/{id}", h.getPrescription)
				r.With(can(access.OPDDelete)).Delete("/{id}", h.deletePrescription)
			})

			pr.Route("/analytics", func(r chi.Router) {
				r.Use(can(access.AnalyticsView))
				r.Get("/comprehensive", h.comprehensiveAnalytics)
				r.Get("/kpis", h.kpis)
				r.Get("/monthly-comparison", h.monthlyComparison)
				r.Get("/yearly-comparison", h.yearlyComparison)
				r.Get("/daily-sales-report", h.dailySalesReport)
				r.Get("/dashboard", h.dashboard)
				r.With(can(access.AnalyticsExport)).Get("/export-data", h.exportAnalytics)
			})

			pr.Route("/settings", func(r chi.Router) {
				r.With(can(access.SettingsView)).Get("/", h.getSettings)
				r.With(can(access.SettingsEdit)).Post("/", h.saveSettings)
			})

			pr.Route("/custom-templates", func(r chi.Router) {
				r.With(can(access.SettingsView)).Get("/", h.listTemplates)
				r.With(can(access.SettingsEdit)).Post("/", h.createTemplate)
				r.With(can(access.SettingsEdit)).Post("/import", h.importTemplate)
				r.With(can(access.SettingsView)).Get("/{id}", h.getTemplate)
				r.With(can(access.SettingsEdit)).Put("/{id}", h.updateTemplate)
				r.With(can(access.SettingsEdit)).Delete("/{id}", h.deleteTemplate)
				r.With(can(access.SettingsEdit)).Post("/{id}/duplicate", h.duplicateTemplate)
				r.With(can(access.SettingsView)).Get("/{id}/export", h.exportTemplate)
			})

			pr.Route("/backup", func(r chi.Router) {
				r.With(can(access.BackupCreate)).Post("/create", h.createBackup)
				r.With(can(access.BackupCreate)).Get("/list", h.listBackups)
				r.With(can(access.BackupCreate)).Get("/storage-info", h.backupStorageInfo)
				r.With(can(access.BackupRestore)).Post("/restore", h.restoreBackup)
				r.With(can(access.BackupDelete)).Post("/cleanup", h.cleanupBackups)
				r.With(can(access.BackupCreate)).Get("/{id}", h.getBackup)
				r.With(can(access.BackupCreate)).Get("/{id}/verify", h.verifyBackup)
				r.With(can(access.BackupDelete)).Delete("/{id}", h.deleteBackup)
			})

			pr.With(can(access.SettingsEdit)).Post("/test-telegram", h.testTelegram)
			pr.With(can(access.SettingsEdit)).Post("/send-test-daily-report", h.sendTestDailyReport)

			pr.With(can(access.AnalyticsExport)).Post("/export/xls", h.exportXLS)
			pr.With(can(access.SettingsEdit)).Post("/import/xls", h.importXLS)
		})
	})

	return r
}

// Helpers

type errorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// decodeJSON reads the body into dest and validates its struct tags.
func decodeJSON(r *http.Request, dest interface{}) error {
	if err := decodeBody(r, dest); err != nil {
		return err
	}
	return validation.Struct(dest)
}

func decodeBody(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Validation("invalid request body").WithDetail("body", err.Error())
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: message, Code: code})
}

// fail writes err in the shared error shape. Server side failures are logged
// with the request id.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	respondJSON(w, appErr.HTTPStatus, errorBody{Error: appErr.Message, Code: appErr.Code, Details: appErr.Details})
}

// lookupErr turns a store lookup failure into a not found or storage error.
func lookupErr(err error, resource, id string) error {
	if store.IsNotFound(err) {
		return apperr.NotFoundWithID(resource, id)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage(err)
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// pageOptions reads skip and limit query parameters, newest first.
func pageOptions(r *http.Request, defaultLimit int) ([]store.FindOption, error) {
	opts := []store.FindOption{store.SortBy("created_at", true)}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		opts = append(opts, store.Limit(limit))
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		return nil, err
	}
	if skip > 0 {
		opts = append(opts, store.Skip(skip))
	}
	return opts, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation(name+" must be a non-negative integer").WithDetail(name, v)
	}
	return n, nil
}

func timeDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (h *Handler) timestamp() string {
	return domain.Timestamp(h.now())
}

// patchOf encodes a request whose nil pointer fields are left out, giving a
// field-scoped update.
func patchOf(req any) (store.Document, error) {
	doc, err := store.Encode(req)
	if err != nil {
		return nil, apperr.Validation("invalid update").Wrap(err)
	}
	return doc, nil
}
