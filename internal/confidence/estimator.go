// Package confidence estimates how much a recommendation can be trusted
// from the completeness of the data behind it.
package confidence

import (
	"transfer-advisor/internal/models"
)

const (
	weightDataCompleteness = 0.20
	weightClinicalClarity  = 0.25
	weightExclusionClarity = 0.15
	weightProximity        = 0.15
	weightScoring          = 0.25

	neutralExclusion = 0.5
	neutralProximity = 0.3
	neutralScoring   = 0.3
)

// Proximity describes the trip from the sending facility to a campus.
type Proximity struct {
	Origin             *models.Location
	Destination        *models.Location
	OriginAddress      string
	DestinationAddress string
	ETAMinutes         *float64
	TransportMode      string
	Traffic            string
	Weather            string
}

// Inputs gathers everything the estimate looks at. Nil fields are absent.
type Inputs struct {
	Entities         models.ExtractedEntities
	Exclusions       []models.CheckedExclusion
	Proximity        *Proximity
	Scores           models.ScoringResults
	CampusMatchScore *float64
}

// Breakdown holds each sub-score in [0,1] and the final value in [0,100].
type Breakdown struct {
	DataCompleteness float64
	ClinicalClarity  float64
	ExclusionClarity float64
	Proximity        float64
	Scoring          float64
	Multiplier       float64
	Score            float64
}

func Estimate(in Inputs) float64 {
	return Explain(in).Score
}

func Explain(in Inputs) Breakdown {
	b := Breakdown{
		DataCompleteness: dataCompleteness(in.Entities),
		ClinicalClarity:  clinicalClarity(in.Entities),
		ExclusionClarity: exclusionClarity(in.Exclusions),
		Proximity:        proximity(in.Proximity),
		Scoring:          scoring(in.Scores),
		Multiplier:       1,
	}

	weighted := b.DataCompleteness*weightDataCompleteness +
		b.ClinicalClarity*weightClinicalClarity +
		b.ExclusionClarity*weightExclusionClarity +
		b.Proximity*weightProximity +
		b.Scoring*weightScoring

	if in.CampusMatchScore != nil {
		b.Multiplier = clamp(*in.CampusMatchScore/5, 0.7, 1)
	}

	b.Score = models.ClampConfidence(weighted * b.Multiplier * 100)
	return b
}

func dataCompleteness(e models.ExtractedEntities) float64 {
	fields := []string{
		e.Demographics.Age,
		e.Demographics.Gender,
		e.VitalSigns.HR,
		e.VitalSigns.RR,
		e.VitalSigns.BP,
		e.VitalSigns.Temp,
		e.VitalSigns.O2,
		e.ClinicalInfo.ChiefComplaint,
		e.ClinicalInfo.ClinicalHistory,
	}
	present := 0
	for _, f := range fields {
		if f != "" {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

func clinicalClarity(e models.ExtractedEntities) float64 {
	const maxPoints = 10.0
	points := 0.0

	if c := e.ClinicalInfo.ChiefComplaint; c != "" {
		if len(c) > 5 {
			points++
		}
		if len(c) > 20 {
			points++
		}
	}
	if h := e.ClinicalInfo.ClinicalHistory; h != "" {
		if len(h) > 10 {
			points++
		}
		if len(h) > 50 {
			points++
		}
	}
	points += float64(e.VitalSigns.Present())
	if e.CareNeeds.SuggestedCareLevel != "" {
		points++
	}
	return points / maxPoints
}

func exclusionClarity(checks []models.CheckedExclusion) float64 {
	if len(checks) == 0 {
		return neutralExclusion
	}
	total := 0.0
	for _, c := range checks {
		if c.Found {
			total += 1
		} else {
			total += 0.5
		}
	}
	return total / float64(len(checks))
}

func proximity(p *Proximity) float64 {
	if p == nil {
		return neutralProximity
	}
	const maxPoints = 8.0
	points := 0.0
	if p.Origin.Valid() && p.Destination.Valid() {
		points += 2
	}
	if p.OriginAddress != "" {
		points++
	}
	if p.DestinationAddress != "" {
		points++
	}
	if p.ETAMinutes != nil {
		points++
	}
	if p.TransportMode != "" {
		points++
	}
	if p.Traffic != "" {
		points++
	}
	if p.Weather != "" {
		points++
	}
	if points == 0 {
		return neutralProximity
	}
	return points / maxPoints
}

// scoring rewards more severity scores, scores that carry both a number and
// an interpretation, and the presence of care-level recommendations and
// justifications.
func scoring(s models.ScoringResults) float64 {
	if len(s) == 0 {
		return neutralScoring
	}
	if nested := s.Entry("scores"); nested != nil {
		flat := models.ScoringResults{}
		for k, v := range nested {
			flat[k] = v
		}
		for _, k := range []string{"recommended_care_levels", "justifications"} {
			if v, ok := s[k]; ok {
				flat[k] = v
			}
		}
		s = flat
	}

	count, complete := 0, 0
	for _, name := range s.Names() {
		if name == "recommended_care_levels" || name == "justifications" {
			continue
		}
		entry := s.Entry(name)
		if entry == nil {
			continue
		}
		count++
		_, hasScore := models.AsFloat(first(entry, "score", "total_score"))
		if hasScore && models.StringAt(entry, "interpretation") != "" {
			complete++
		}
	}

	var base float64
	switch {
	case count >= 3:
		base = 1.0
	case count == 2:
		base = 0.8
	case count == 1:
		base = 0.6
	default:
		return neutralScoring
	}

	value := base * (0.5 + 0.5*float64(complete)/float64(count))
	if _, ok := s["recommended_care_levels"]; ok {
		value += 0.1
	}
	if _, ok := s["justifications"]; ok {
		value += 0.1
	}
	return clamp(value, 0, 1)
}

func first(m map[string]interface{}, keys ...string) interface{} {
	v, _ := models.Lookup(m, keys...)
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
