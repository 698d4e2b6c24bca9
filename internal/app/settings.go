package app

import "github.com/specialistvlad/stagegrid/internal/settings"

// SettingsName is the prefix of every environment setting, e.g.
// STAGEGRID_WORKERS.
const SettingsName = "stagegrid"

// NewSettings declares the environment-backed defaults of the CLI flags.
// A nil source reads the process environment.
func NewSettings(source settings.Source) *settings.Settings {
	var s *settings.Settings
	if source == nil {
		s = settings.New(SettingsName)
	} else {
		s = settings.NewWithSource(SettingsName, source)
	}
	return s.
		String("ref").
		String("log_level", "info").
		String("log_format", "text").
		Int("workers", 0).
		Int("healthcheck_port", 0).
		String("report").
		String("secrets_region")
}
