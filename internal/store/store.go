// Package store persists resolved radar/vision correlations to a local
// sqlite database so correlation quality can be audited offline.
package store

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is the stored timestamp format. Kept as text so rows stay
// greppable with the sqlite CLI on the device.
const timeLayout = "2006-01-02 15:04:05.000"

type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS matches (
			match_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			class         TEXT,
			radar_speed   BIGINT,
			ai_speed      DOUBLE,
			calibrating   BOOLEAN,
			timestamp     TEXT
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db}, nil
}

// RecordMatch inserts one resolved correlation. Satisfies the engine's
// MatchRecorder interface.
func (s *Store) RecordMatch(class string, radarSpeed int, aiSpeed float64, calibrating bool) error {
	_, err := s.Exec(
		"INSERT INTO matches (class, radar_speed, ai_speed, calibrating, timestamp) VALUES (?, ?, ?, ?, ?)",
		class, radarSpeed, aiSpeed, calibrating, time.Now().UTC().Format(timeLayout),
	)
	return err
}

// Match is one audited correlation row.
type Match struct {
	Class       string
	RadarSpeed  int
	AISpeed     float64
	Calibrating bool
	Timestamp   time.Time
}

// RecentMatches returns up to limit matches, newest first.
func (s *Store) RecentMatches(limit int) ([]Match, error) {
	rows, err := s.Query(
		"SELECT class, radar_speed, ai_speed, calibrating, timestamp FROM matches ORDER BY match_id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var ts string
		if err := rows.Scan(&m.Class, &m.RadarSpeed, &m.AISpeed, &m.Calibrating, &ts); err != nil {
			return nil, err
		}
		if m.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
