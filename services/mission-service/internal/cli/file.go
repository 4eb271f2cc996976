package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"gopkg.in/yaml.v3"
)

// missionsFile is the offline schedule windowctl reads. Instants are wall
// clock in Zone unless they carry their own offset.
type missionsFile struct {
	Zone     string         `yaml:"zone"`
	Missions []missionEntry `yaml:"missions"`
}

type missionEntry struct {
	ID                 string   `yaml:"id"`
	ResourceID         string   `yaml:"resource_id"`
	Departure          string   `yaml:"departure"`
	Return             string   `yaml:"return"`
	TotalLegHours      float64  `yaml:"total_leg_hours"`
	ReturnLegHours     *float64 `yaml:"return_leg_hours"`
	SecondaryDeparture string   `yaml:"secondary_departure"`
	SecondaryReturn    string   `yaml:"secondary_return"`
	Status             string   `yaml:"status"`
}

func loadMissions(path string, fallbackZone string) ([]model.Mission, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read missions file: %w", err)
	}
	var f missionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse missions file: %w", err)
	}
	zone := f.Zone
	if zone == "" {
		zone = fallbackZone
	}
	n, err := timezone.New(zone)
	if err != nil {
		return nil, err
	}

	out := make([]model.Mission, 0, len(f.Missions))
	for i, e := range f.Missions {
		m, err := e.mission(n)
		if err != nil {
			return nil, fmt.Errorf("mission %d (%s): %w", i, e.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (e missionEntry) mission(n *timezone.Normalizer) (model.Mission, error) {
	dep, err := n.ToInstant(e.Departure)
	if err != nil {
		return model.Mission{}, fmt.Errorf("departure: %w", err)
	}
	ret, err := n.ToInstant(e.Return)
	if err != nil {
		return model.Mission{}, fmt.Errorf("return: %w", err)
	}
	status := e.Status
	if status == "" {
		status = model.StatusBooked
	}
	m := model.Mission{
		ID:             e.ID,
		ResourceID:     e.ResourceID,
		Departure:      dep,
		Return:         ret,
		TotalLegHours:  e.TotalLegHours,
		ReturnLegHours: e.ReturnLegHours,
		Status:         status,
	}
	if e.SecondaryDeparture != "" || e.SecondaryReturn != "" {
		sd, err := n.ToInstant(e.SecondaryDeparture)
		if err != nil {
			return model.Mission{}, fmt.Errorf("secondary_departure: %w", err)
		}
		sr, err := n.ToInstant(e.SecondaryReturn)
		if err != nil {
			return model.Mission{}, fmt.Errorf("secondary_return: %w", err)
		}
		m.SecondaryDeparture, m.SecondaryReturn = &sd, &sr
	}
	return m, nil
}
