package dashboard

import (
	"context"
	"database/sql"
	"time"
)

// RaceStore persists the user-entered races list, scoped by athlete.
type RaceStore struct {
	db *sql.DB
}

// NewRaceStore creates the races table if needed and returns the store.
func NewRaceStore(db *sql.DB) (*RaceStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS races (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			athlete_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			date TEXT NOT NULL,
			distance REAL NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_races_athlete ON races(athlete_id)`)
	if err != nil {
		return nil, err
	}
	return &RaceStore{db: db}, nil
}

// Create inserts a race and returns it with its assigned id.
func (s *RaceStore) Create(ctx context.Context, race Race) (Race, error) {
	race.CreatedAt = time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO races (athlete_id, name, date, distance, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		race.AthleteID, race.Name, race.Date, race.Distance, race.CreatedAt.Unix())
	if err != nil {
		return Race{}, err
	}
	race.ID, err = res.LastInsertId()
	if err != nil {
		return Race{}, err
	}
	return race, nil
}

// List returns the athlete's races ordered by date.
func (s *RaceStore) List(ctx context.Context, athleteID int64) ([]Race, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, athlete_id, name, date, distance, created_at
		FROM races WHERE athlete_id = ? ORDER BY date, id`, athleteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	races := []Race{}
	for rows.Next() {
		var r Race
		var created int64
		if err := rows.Scan(&r.ID, &r.AthleteID, &r.Name, &r.Date, &r.Distance, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(created, 0).UTC()
		races = append(races, r)
	}
	return races, rows.Err()
}

// Delete removes one race, but only if it belongs to the athlete.
// Returns whether a row was deleted.
func (s *RaceStore) Delete(ctx context.Context, athleteID, raceID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM races WHERE id = ? AND athlete_id = ?", raceID, athleteID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
