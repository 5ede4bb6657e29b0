package main

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tinapay/shared"
)

// Database holds the sqlite connection and the flag store methods.
type Database struct {
	db *gorm.DB
}

// NewDatabase opens (or creates) the session database file and
// migrates the schema.
func NewDatabase(dbPath string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Reduce log noise
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&DBSessionDetails{},
		&DBFlag{},
	)
	if err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// RecordSessionDetails stores the session metadata row.
func (d *Database) RecordSessionDetails(name, details string, maxUsers int, start time.Time) error {
	return d.db.Create(&DBSessionDetails{
		Name:      name,
		Details:   details,
		MaxUsers:  maxUsers,
		StartTime: start,
	}).Error
}

// InsertFlag appends one flag submission. An empty team is stored as
// NULL, matching operator submissions that carry no team.
func (d *Database) InsertFlag(challenge, value string, points int, team string) error {
	flag := &DBFlag{
		ChallengeName: challenge,
		FlagValue:     value,
		Points:        points,
	}
	if team != "" {
		flag.TeamName = &team
	}
	return d.db.Create(flag).Error
}

// AllFlags returns every submission in insertion order.
func (d *Database) AllFlags() ([]shared.FlagRow, error) {
	var flags []DBFlag
	if err := d.db.Order("id asc").Find(&flags).Error; err != nil {
		return nil, err
	}
	return toRows(flags), nil
}

// FlagsByTeam returns one team's submissions.
func (d *Database) FlagsByTeam(team string) ([]shared.FlagRow, error) {
	var flags []DBFlag
	if err := d.db.Where("team_name = ?", team).Order("id asc").Find(&flags).Error; err != nil {
		return nil, err
	}
	return toRows(flags), nil
}

// TeamFlags returns every submission that carries a team, for the
// operator's team-flags view.
func (d *Database) TeamFlags() ([]shared.FlagRow, error) {
	var flags []DBFlag
	if err := d.db.Where("team_name IS NOT NULL").Order("id asc").Find(&flags).Error; err != nil {
		return nil, err
	}
	return toRows(flags), nil
}

func (d *Database) Close() error {
	if db, err := d.db.DB(); err == nil {
		return db.Close()
	}
	return nil
}

func toRows(flags []DBFlag) []shared.FlagRow {
	rows := make([]shared.FlagRow, 0, len(flags))
	for _, f := range flags {
		row := shared.FlagRow{
			ID:            f.ID,
			ChallengeName: f.ChallengeName,
			FlagValue:     f.FlagValue,
			Points:        f.Points,
			Timestamp:     f.CreatedAt.UTC().Format(time.RFC3339),
		}
		if f.TeamName != nil {
			row.TeamName = *f.TeamName
		}
		rows = append(rows, row)
	}
	return rows
}
