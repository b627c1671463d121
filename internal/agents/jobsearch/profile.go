package jobsearch

import (
	"fmt"
	"strings"

	"github.com/garyjia/agent-runtime/internal/ai"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// profile is what the seeker is looking for
type profile struct {
	skills    map[string]bool
	locations map[string]bool
	remoteOK  bool
	minSalary float64
}

func parseProfile(payload map[string]interface{}) profile {
	p := profile{
		skills:    stringSet(payload["skills"]),
		locations: stringSet(payload["locations"]),
		remoteOK:  true,
	}
	if v, ok := payload["remote_ok"].(bool); ok {
		p.remoteOK = v
	}
	p.minSalary = ai.Candidate{Data: payload}.Float("min_salary")
	return p
}

func (p profile) dimensions() []ai.Dimension {
	return []ai.Dimension{
		{Name: "skills", Weight: 0.6, Score: p.skillScore},
		{Name: "location", Weight: 0.2, Score: p.locationScore},
		{Name: "salary", Weight: 0.2, Score: p.salaryScore},
	}
}

// skillScore is the share of the seeker's skills the job asks for
func (p profile) skillScore(c ai.Candidate) float64 {
	if len(p.skills) == 0 {
		return 0.5
	}
	matched := 0
	for skill := range stringSet(c.Data["skills"]) {
		if p.skills[skill] {
			matched++
		}
	}
	return float64(matched) / float64(len(p.skills))
}

func (p profile) locationScore(c ai.Candidate) float64 {
	if remote, _ := c.Data["remote"].(bool); remote && p.remoteOK {
		return 1
	}
	if len(p.locations) == 0 {
		return 0.5
	}
	if p.locations[normalize(c.Text("location"))] {
		return 1
	}
	return 0
}

func (p profile) salaryScore(c ai.Candidate) float64 {
	if p.minSalary <= 0 {
		return 1
	}
	salary := c.Float("salary")
	if salary <= 0 {
		return 0.5
	}
	return salary / p.minSalary
}

func parseJobs(payload map[string]interface{}) ([]ai.Candidate, error) {
	var raw []map[string]interface{}
	switch v := payload["jobs"].(type) {
	case nil:
		return nil, nil
	case []map[string]interface{}:
		raw = v
	case []interface{}:
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, entity.NewValidationError("jobs", fmt.Sprintf("job %d is not an object", i))
			}
			raw = append(raw, m)
		}
	default:
		return nil, entity.NewValidationError("jobs", "must be a list")
	}

	jobs := make([]ai.Candidate, 0, len(raw))
	for i, m := range raw {
		id, _ := m["id"].(string)
		if id == "" {
			return nil, entity.NewValidationError("jobs", fmt.Sprintf("job %d has no id", i))
		}
		jobs = append(jobs, ai.Candidate{ID: id, Data: m})
	}
	return jobs, nil
}

func stringSet(v interface{}) map[string]bool {
	set := make(map[string]bool)
	switch items := v.(type) {
	case []string:
		for _, s := range items {
			set[normalize(s)] = true
		}
	case []interface{}:
		for _, item := range items {
			if s, ok := item.(string); ok {
				set[normalize(s)] = true
			}
		}
	}
	delete(set, "")
	return set
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
