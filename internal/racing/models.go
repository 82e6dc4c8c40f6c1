// Package racing holds the race schedule and stable models and the
// repository the sync job and dashboard use to read and write them.
package racing

import (
	"fmt"
	"time"

	"race-sync-service/internal/database"
)

type Race struct {
	RaceID     string    `json:"race_id"`
	TrackID    string    `json:"track_id"`
	TrackName  string    `json:"track_name"`
	RaceNumber int       `json:"race_number"`
	RaceDate   string    `json:"race_date"`
	PostTime   time.Time `json:"post_time"`
	Distance   string    `json:"distance"`
	NumRunners int       `json:"num_runners"`
	Surface    string    `json:"surface"`
	RaceClass  string    `json:"race_class"`
}

// TrackID is the country-qualified track code, e.g. "US_AQU".
func TrackID(country, code string) string {
	return country + "_" + code
}

// RaceID identifies a race by track, card date and race number, e.g.
// "US_AQU_2024-05-01_3". Two races sharing all three collapse onto one row.
func RaceID(country, code, date string, number int) string {
	return fmt.Sprintf("%s_%s_%d", TrackID(country, code), date, number)
}

// Record maps the race onto tvg.races columns.
func (r Race) Record() database.Record {
	rec := database.Record{
		"race_id":     r.RaceID,
		"track_id":    r.TrackID,
		"track_name":  r.TrackName,
		"race_number": r.RaceNumber,
		"race_date":   r.RaceDate,
		"distance":    r.Distance,
		"num_runners": r.NumRunners,
		"surface":     r.Surface,
		"race_class":  r.RaceClass,
	}
	if !r.PostTime.IsZero() {
		rec["post_time"] = r.PostTime
	}
	return rec
}

type Horse struct {
	HorseID     string `json:"horse_id"`
	HorseName   string `json:"horse_name"`
	FoalingDate string `json:"foaling_date"`
	Sex         string `json:"sex"`
}

func (h Horse) Record() database.Record {
	return database.Record{
		"horse_id":     h.HorseID,
		"horse_name":   h.HorseName,
		"foaling_date": h.FoalingDate,
		"sex":          h.Sex,
	}
}

// SexCount is one slice of the stable's gender breakdown.
type SexCount struct {
	Sex   string `json:"sex"`
	Count int64  `json:"count"`
}
