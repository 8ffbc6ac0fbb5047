package model

import "time"

// Report is a geolocated environmental report.
//
// Nickname is not a column of the reports table: it is joined from the owning
// user every time a report is read, so a rename shows up on old reports too.
type Report struct {
	ID        int64     `json:"id"         db:"id"`
	UserID    int64     `json:"user_id"    db:"user_id"`
	Nickname  string    `json:"nickname"   db:"nickname"`
	Latitude  float64   `json:"latitude"   db:"latitude"`
	Longitude float64   `json:"longitude"  db:"longitude"`
	MapURL    *string   `json:"map_url"    db:"map_url"`
	Comment   *string   `json:"comment"    db:"comment"`
	PhotoPath *string   `json:"photo_path" db:"photo_path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewReport is the input for creating a report row. Comment must already be
// normalized and PhotoPath must point at a stored file.
type NewReport struct {
	UserID    int64
	Latitude  float64
	Longitude float64
	MapURL    *string
	Comment   *string
	PhotoPath *string
}
