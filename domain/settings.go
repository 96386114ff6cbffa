package domain

// SettingsID is the fixed key of the process-wide settings document.
const SettingsID = "app_settings"

// SettingsSections lists the sections a settings document may carry.
var SettingsSections = []string{"general", "opd_paper", "printer", "telegram", "alerts", "custom_templates"}

type CustomTemplate struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	HTML        string  `json:"html"`
	CSS         *string `json:"css,omitempty"`
	Category    string  `json:"category"`
	IsPublic    bool    `json:"is_public"`
	CreatedBy   *string `json:"created_by,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}
