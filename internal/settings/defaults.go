package settings

import "medipos/m/internal/store"

// Defaults is what a fresh installation reports before anything is saved.
func Defaults() store.Document {
	return store.Document{
		"general": map[string]any{
			"shop_name":        "MediPOS Pharmacy",
			"shop_address":     "",
			"shop_phone":       "",
			"shop_email":       "",
			"shop_license":     "",
			"owner_name":       "",
			"gst_number":       "",
			"currency":         "USD",
			"currency_symbol":  "$",
			"default_tax_rate": 10.0,
			"timezone":         "UTC",
			"date_format":      "YYYY-MM-DD",
			"time_format":      "24",
			"decimal_places":   2.0,
			"language":         "English",
			"backup_frequency": "daily",
			"auto_backup":      true,
		},
		"opd_paper": map[string]any{
			"paper_size":              "A4",
			"margin_top":              20.0,
			"margin_bottom":           20.0,
			"margin_left":             20.0,
			"margin_right":            20.0,
			"header_height":           80.0,
			"footer_height":           60.0,
			"line_height":             24.0,
			"font_size":               12.0,
			"font_family":             "Arial",
			"show_logo":               true,
			"logo_position":           "left",
			"prescription_area_lines": 15.0,
			"show_medical_history":    true,
			"show_emergency_contact":  false,
			"watermark_text":          "",
			"custom_html_enabled":     false,
		},
		"printer": map[string]any{
			"default_printer":          "",
			"receipt_width":            80.0,
			"receipt_font_size":        10.0,
			"auto_print_receipts":      false,
			"auto_print_prescriptions": false,
			"print_copies":             1.0,
			"barcode_format":           "CODE128",
			"receipt_header":           "MediPOS Pharmacy",
			"receipt_footer":           "Thank you for your business!",
			"thermal_printer":          false,
		},
		"telegram": map[string]any{
			"enabled":           false,
			"bot_token":         "",
			"chat_id":           "",
			"daily_report_time": "18:00",
			"report_format":     "detailed",
		},
		"alerts": map[string]any{
			"low_stock_enabled":    true,
			"low_stock_threshold":  10.0,
			"expiry_alert_enabled": true,
			"expiry_alert_days":    30.0,
			"system_notifications": true,
		},
		"custom_templates": map[string]any{},
	}
}
