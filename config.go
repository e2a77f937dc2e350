package dashboard

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Config carries the explicit runtime configuration for the dashboard.
// It is passed by reference into the pieces that need it; nothing reads
// the environment after construction.
type Config struct {
	ClientID     string
	ClientSecret string
	SessionKey   string
	BaseURL      string // public base URL, used for the oauth redirect
	APIBaseURL   string // remote activity API root
	DatabasePath string // sqlite file; empty means in-memory stores

	WeekStart       time.Weekday
	RecentCacheTTL  time.Duration
	HistoryCacheTTL time.Duration
}

// OAuth builds the oauth2 configuration for the remote service.
func (c *Config) OAuth() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       []string{"read,activity:read_all"},
		RedirectURL:  strings.TrimSuffix(c.BaseURL, "/") + "/auth/callback",
		Endpoint:     Endpoint,
	}
}

// ParseWeekday maps a day name to its weekday, defaulting to Monday.
func ParseWeekday(name string) time.Weekday {
	switch strings.ToLower(name) {
	case "sunday":
		return time.Sunday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}
