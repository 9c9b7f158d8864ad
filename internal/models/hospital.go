// internal/models/hospital.go
package models

import (
	"math"
	"strings"
)

type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (l *Location) Valid() bool {
	return l != nil && !(l.Lat == 0 && l.Lon == 0) &&
		l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

type UnitCensus struct {
	Available int `json:"available" yaml:"available"`
	Total     int `json:"total" yaml:"total"`
}

// BedCensus is keyed by unit name (e.g. "PICU", "General").
type BedCensus map[string]UnitCensus

type Hospital struct {
	CampusID    string    `json:"campus_id" yaml:"campus_id"`
	Name        string    `json:"name" yaml:"name"`
	CareLevels  []string  `json:"care_levels" yaml:"care_levels"`
	Specialties []string  `json:"specialties" yaml:"specialties"`
	Location    Location  `json:"location" yaml:"location"`
	BedCensus   BedCensus `json:"bed_census,omitempty" yaml:"bed_census,omitempty"`
}

func (h Hospital) SupportsCareLevel(level string) bool {
	want := NormalizeCareLevel(level)
	for _, l := range h.CareLevels {
		if NormalizeCareLevel(l) == want {
			return true
		}
	}
	return false
}

func (h Hospital) HasSpecialty(name string) bool {
	for _, s := range h.Specialties {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two points.
func HaversineKm(a, b Location) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
