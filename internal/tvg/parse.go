package tvg

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"race-sync-service/internal/logger"
	"race-sync-service/internal/racing"
)

type scheduleResponse struct {
	Data struct {
		Races []scheduleRace `json:"races"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type scheduleRace struct {
	Number     int    `json:"number"`
	Distance   string `json:"distance"`
	NumRunners int    `json:"numRunners"`
	PostTime   string `json:"postTime"`
	Track      struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		Location struct {
			Country string `json:"country"`
		} `json:"location"`
	} `json:"track"`
	RaceClass struct {
		Name string `json:"name"`
	} `json:"raceClass"`
	Surface struct {
		Name string `json:"name"`
	} `json:"surface"`
}

// ParseSchedule turns a getFullScheduleRaces payload into races. A payload
// without data yields no races; GraphQL errors without data are returned.
func ParseSchedule(payload []byte) ([]racing.Race, error) {
	var resp scheduleResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if len(resp.Data.Races) == 0 && len(resp.Errors) > 0 {
		return nil, fmt.Errorf("schedule query: %s", resp.Errors[0].Message)
	}

	races := make([]racing.Race, 0, len(resp.Data.Races))
	for i, d := range resp.Data.Races {
		if len(d.PostTime) < len(time.DateOnly) {
			return nil, fmt.Errorf("race %d: post time %q too short", i, d.PostTime)
		}
		r := racing.Race{
			TrackID:    racing.TrackID(d.Track.Location.Country, d.Track.Code),
			TrackName:  d.Track.Name,
			RaceNumber: d.Number,
			RaceDate:   d.PostTime[:len(time.DateOnly)],
			Distance:   d.Distance,
			NumRunners: d.NumRunners,
			Surface:    strings.ToLower(d.Surface.Name),
			RaceClass:  strings.ToLower(d.RaceClass.Name),
		}
		if t, err := time.Parse(time.RFC3339, d.PostTime); err == nil {
			r.PostTime = t
		}
		r.RaceID = racing.RaceID(d.Track.Location.Country, d.Track.Code, r.RaceDate, r.RaceNumber)
		races = append(races, r)
	}
	logger.Log.Info("Parsed races", zap.Int("races", len(races)))
	return races, nil
}
