// Package access decides which principal may perform which operation and
// enforces it as chi middleware.
package access

import (
	"strings"

	"medipos/m/domain"
)

type Permission string

const (
	MedicinesView   Permission = "medicines_view"
	MedicinesAdd    Permission = "medicines_add"
	MedicinesEdit   Permission = "medicines_edit"
	MedicinesDelete Permission = "medicines_delete"

	PatientsView   Permission = "patients_view"
	PatientsAdd    Permission = "patients_add"
	PatientsEdit   Permission = "patients_edit"
	PatientsDelete Permission = "patients_delete"

	SalesView   Permission = "sales_view"
	SalesAdd    Permission = "sales_add"
	SalesEdit   Permission = "sales_edit"
	SalesDelete Permission = "sales_delete"
	SalesRefund Permission = "sales_refund"

	DoctorsView   Permission = "doctors_view"
	DoctorsAdd    Permission = "doctors_add"
	DoctorsEdit   Permission = "doctors_edit"
	DoctorsDelete Permission = "doctors_delete"

	OPDView   Permission = "opd_view"
	OPDAdd    Permission = "opd_add"
	OPDEdit   Permission = "opd_edit"
	OPDDelete Permission = "opd_delete"

	AnalyticsView   Permission = "analytics_view"
	AnalyticsExport Permission = "analytics_export"

	SettingsView Permission = "settings_view"
	SettingsEdit Permission = "settings_edit"

	UsersView   Permission = "users_view"
	UsersAdd    Permission = "users_add"
	UsersEdit   Permission = "users_edit"
	UsersDelete Permission = "users_delete"

	BackupCreate  Permission = "backup_create"
	BackupRestore Permission = "backup_restore"
	BackupDelete  Permission = "backup_delete"
)

// All lists every permission in a stable order.
var All = []Permission{
	MedicinesView, MedicinesAdd, MedicinesEdit, MedicinesDelete,
	PatientsView, PatientsAdd, PatientsEdit, PatientsDelete,
	SalesView, SalesAdd, SalesEdit, SalesDelete, SalesRefund,
	DoctorsView, DoctorsAdd, DoctorsEdit, DoctorsDelete,
	OPDView, OPDAdd, OPDEdit, OPDDelete,
	AnalyticsView, AnalyticsExport,
	SettingsView, SettingsEdit,
	UsersView, UsersAdd, UsersEdit, UsersDelete,
	BackupCreate, BackupRestore, BackupDelete,
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	_, ok := known[p]
	return ok
}

var known = func() map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(All))
	for _, p := range All {
		m[p] = struct{}{}
	}
	return m
}()

func set(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

var roleTable = map[domain.Role]map[Permission]bool{
	domain.RoleAdmin: set(All...),
	domain.RoleManager: set(
		MedicinesView, MedicinesAdd, MedicinesEdit,
		PatientsView, PatientsAdd, PatientsEdit,
		SalesView, SalesAdd, SalesEdit, SalesRefund,
		DoctorsView, DoctorsAdd, DoctorsEdit,
		OPDView, OPDAdd, OPDEdit,
		AnalyticsView, AnalyticsExport,
		SettingsView,
		BackupCreate,
	),
	domain.RoleStaff: set(
		MedicinesView,
		PatientsView, PatientsAdd, PatientsEdit,
		SalesView, SalesAdd,
		DoctorsView,
		OPDView, OPDAdd,
	),
}

// RoleGrants reports whether role grants p before any per-user override.
func RoleGrants(role domain.Role, p Permission) bool {
	return roleTable[role][p]
}

// Defaults returns the full permission map of role, every permission
// present with true or false.
func Defaults(role domain.Role) map[string]bool {
	out := make(map[string]bool, len(All))
	for _, p := range All {
		out[string(p)] = RoleGrants(role, p)
	}
	return out
}

var descriptions = map[Permission]string{
	MedicinesView:   "View medicines inventory",
	MedicinesAdd:    "Add new medicines",
	MedicinesEdit:   "Edit medicine details",
	MedicinesDelete: "Delete medicines",
	PatientsView:    "View patient records",
	PatientsAdd:     "Add new patients",
	PatientsEdit:    "Edit patient information",
	PatientsDelete:  "Delete patient records",
	SalesView:       "View sales records",
	SalesAdd:        "Create new sales",
	SalesEdit:       "Edit sales records",
	SalesDelete:     "Delete sales records",
	SalesRefund:     "Process refunds",
	DoctorsView:     "View doctor profiles",
	DoctorsAdd:      "Add new doctors",
	DoctorsEdit:     "Edit doctor information",
	DoctorsDelete:   "Delete doctor profiles",
	OPDView:         "View OPD prescriptions",
	OPDAdd:          "Create new prescriptions",
	OPDEdit:         "Edit prescriptions",
	OPDDelete:       "Delete prescriptions",
	AnalyticsView:   "View analytics and reports",
	AnalyticsExport: "Export analytics data",
	SettingsView:    "View system settings",
	SettingsEdit:    "Modify system settings",
	UsersView:       "View user accounts",
	UsersAdd:        "Create new users",
	UsersEdit:       "Edit user accounts",
	UsersDelete:     "Delete user accounts",
	BackupCreate:    "Create system backups",
	BackupRestore:   "Restore from backups",
	BackupDelete:    "Delete backup files",
}

func (p Permission) Description() string {
	return descriptions[p]
}

// Category is the resource part of the permission name, e.g. "sales".
func (p Permission) Category() string {
	category, _, _ := strings.Cut(string(p), "_")
	return category
}

// Definitions describes every permission and groups them by category.
func Definitions() (perms map[string]string, categories map[string][]string) {
	perms = make(map[string]string, len(All))
	categories = make(map[string][]string)
	for _, p := range All {
		perms[string(p)] = p.Description()
		categories[p.Category()] = append(categories[p.Category()], string(p))
	}
	return perms, categories
}
