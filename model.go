package dashboard

import "time"

// Activity is one recorded workout as reported by the remote service.
// Activities are read-only from our side; they are never written back.
type Activity struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	SportType        string       `json:"sport_type"`
	Distance         float64      `json:"distance"`      // meters
	MovingTime       int          `json:"moving_time"`   // seconds
	ElapsedTime      int          `json:"elapsed_time"`  // seconds
	AverageSpeed     float64      `json:"average_speed"` // m/s
	MaxSpeed         float64      `json:"max_speed"`     // m/s
	AverageHeartrate float64      `json:"average_heartrate,omitempty"`
	MaxHeartrate     float64      `json:"max_heartrate,omitempty"`
	AverageCadence   float64      `json:"average_cadence,omitempty"`
	SufferScore      float64      `json:"suffer_score,omitempty"`
	HasHeartrate     bool         `json:"has_heartrate"`
	StartDate        time.Time    `json:"start_date"`
	StartDateLocal   time.Time    `json:"start_date_local"`
	Zones            []ZoneBucket `json:"zones,omitempty"`
}

// ZoneBucket is one heart-rate band with the time spent in it.
type ZoneBucket struct {
	Min  int `json:"min"`  // bpm, lower bound
	Max  int `json:"max"`  // bpm, upper bound, -1 for open-ended
	Time int `json:"time"` // seconds
}

// HasZones reports whether zone detail has been attached to the activity.
func (a *Activity) HasZones() bool {
	return len(a.Zones) > 0
}

// Sport selects which activity categories a query returns.
type Sport string

const (
	SportAll  Sport = ""
	SportRun  Sport = "run"
	SportRide Sport = "ride"
)

var rideSports = map[string]bool{
	"Ride":             true,
	"VirtualRide":      true,
	"EBikeRide":        true,
	"GravelRide":       true,
	"MountainBikeRide": true,
	"Handcycle":        true,
	"Velomobile":       true,
}

var runSports = map[string]bool{
	"Run":        true,
	"TrailRun":   true,
	"VirtualRun": true,
}

// Matches reports whether the activity belongs to the sport category.
func (s Sport) Matches(a *Activity) bool {
	switch s {
	case SportRun:
		return runSports[a.SportType]
	case SportRide:
		return rideSports[a.SportType]
	default:
		return true
	}
}

// Race is a user-entered goal race, unrelated to remote activities.
type Race struct {
	ID        int64     `json:"id"`
	AthleteID int64     `json:"athlete_id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"`     // YYYY-MM-DD
	Distance  float64   `json:"distance"` // meters
	CreatedAt time.Time `json:"created_at"`
}

// Bucket is a derived per-week or per-month rollup. It is recomputed on
// every query and never persisted. Averages are nil when no activity in
// the bucket carries the underlying field, to distinguish "no data" from
// an average of zero.
type Bucket struct {
	Start            time.Time   `json:"start"`
	Activities       []*Activity `json:"activities"`
	Count            int         `json:"count"`
	Miles            float64     `json:"miles"`
	AverageHeartrate *float64    `json:"average_heartrate"`
	AverageCadence   *float64    `json:"average_cadence"`
}
