package smc

import (
	"time"

	"smc-trading-core/config"
)

// ActiveSession returns the name of the session window containing t (UTC),
// or "" when none is active. An empty session list means always active.
func ActiveSession(sessions []config.SessionWindow, t time.Time) string {
	if len(sessions) == 0 {
		return "any"
	}
	hour := t.UTC().Hour()
	for _, s := range sessions {
		if s.StartHour <= s.EndHour {
			if hour >= s.StartHour && hour < s.EndHour {
				return s.Name
			}
		} else {
			// Window wrapping midnight, e.g. Sydney 21-06.
			if hour >= s.StartHour || hour < s.EndHour {
				return s.Name
			}
		}
	}
	return ""
}
