package trip

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed seed/demo.yaml
var demoSeed []byte

type seedFile struct {
	Trips []seedTrip `yaml:"trips"`
}

type seedTrip struct {
	ID       string     `yaml:"id"`
	JoinCode string     `yaml:"join_code"`
	Name     string     `yaml:"name"`
	Center   *Center    `yaml:"center"`
	Schedule []seedItem `yaml:"schedule"`
}

type seedItem struct {
	Title     string   `yaml:"title"`
	TimeStart string   `yaml:"time_start"`
	TimeEnd   string   `yaml:"time_end"`
	Lat       *float64 `yaml:"lat"`
	Lng       *float64 `yaml:"lng"`
	Notes     string   `yaml:"notes"`
	MapURL    string   `yaml:"gmaps_url"`
}

// DemoSeed returns the trips bundled with the binary.
func DemoSeed() ([]Trip, error) {
	return LoadSeed(bytes.NewReader(demoSeed))
}

func LoadSeedFile(path string) ([]Trip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSeed(f)
}

// LoadSeed decodes a YAML seed document. Schedule items are checked with the
// same rules as the REST endpoint.
func LoadSeed(r io.Reader) ([]Trip, error) {
	var doc seedFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	trips := make([]Trip, 0, len(doc.Trips))
	for i, st := range doc.Trips {
		t := Trip{
			ID:       st.ID,
			JoinCode: st.JoinCode,
			Name:     st.Name,
			Center:   DefaultCenter,
		}
		if t.Name == "" {
			t.Name = DefaultTripName
		}
		if st.Center != nil {
			t.Center = *st.Center
		}
		for j, si := range st.Schedule {
			item, err := si.item()
			if err != nil {
				return nil, fmt.Errorf("seed trip %d item %d: %w", i, j, err)
			}
			t.Schedule = append(t.Schedule, item)
		}
		trips = append(trips, t)
	}
	return trips, nil
}

func (si seedItem) item() (ScheduleItem, error) {
	in := ScheduleInput{
		Title:  si.Title,
		Lat:    si.Lat,
		Lng:    si.Lng,
		Notes:  si.Notes,
		MapURL: si.MapURL,
	}
	if si.TimeStart != "" {
		start, err := parseScheduleTime("time_start", si.TimeStart)
		if err != nil {
			return ScheduleItem{}, err
		}
		in.TimeStart = &start
	}
	if si.TimeEnd != "" {
		end, err := parseScheduleTime("time_end", si.TimeEnd)
		if err != nil {
			return ScheduleItem{}, err
		}
		in.TimeEnd = &end
	}
	if err := validateInput(in); err != nil {
		return ScheduleItem{}, err
	}
	return ScheduleItem{
		ID:        uuid.NewString(),
		Title:     in.Title,
		TimeStart: *in.TimeStart,
		TimeEnd:   in.TimeEnd,
		Lat:       in.Lat,
		Lng:       in.Lng,
		Notes:     in.Notes,
		MapURL:    in.MapURL,
	}, nil
}
