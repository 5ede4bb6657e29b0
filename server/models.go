package main

import "time"

// DBFlag is one row of the append-only flag table. Rows are never
// updated or deleted.
type DBFlag struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	ChallengeName string
	FlagValue     string
	Points        int
	TeamName      *string // NULL for operator-submitted, team-less flags
	CreatedAt     time.Time
}

func (DBFlag) TableName() string { return "flag" }

// DBSessionDetails records the competition session metadata, written
// once at startup.
type DBSessionDetails struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Name      string
	Details   string
	MaxUsers  int
	StartTime time.Time
}

func (DBSessionDetails) TableName() string { return "session_details" }
