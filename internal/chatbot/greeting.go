package chatbot

import "time"

const defaultTimezone = "America/Sao_Paulo"

// loadLocation falls back to a fixed UTC-3 zone when tzdata is unavailable.
func loadLocation(name string) *time.Location {
	if name == "" {
		name = defaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// greetingPeriod returns the salutation used in the main menu template.
func greetingPeriod(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "bom dia"
	case h < 18:
		return "boa tarde"
	default:
		return "boa noite"
	}
}
