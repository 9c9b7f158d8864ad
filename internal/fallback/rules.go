package fallback

import (
	"fmt"
	"strings"

	"transfer-advisor/internal/models"

	"github.com/google/cel-go/cel"
)

// EscalationRule raises the care level when its CEL condition holds. The
// condition sees one variable, s, a map of score name to value.
type EscalationRule struct {
	Name      string
	Condition string
	Level     string
}

// DefaultEscalationRules are ordered most severe first per score.
var DefaultEscalationRules = []EscalationRule{
	{Name: "pews_picu", Condition: `"pews" in s && s["pews"] >= 7.0`, Level: models.CarePICU},
	{Name: "pews_icu", Condition: `"pews" in s && s["pews"] >= 5.0`, Level: models.CareICU},
	{Name: "trap_picu", Condition: `"trap" in s && s["trap"] == "high"`, Level: models.CarePICU},
	{Name: "trap_icu", Condition: `"trap" in s && s["trap"] == "medium"`, Level: models.CareICU},
	{Name: "cameo_icu", Condition: `"cameo" in s && s["cameo"] >= 25.0`, Level: models.CareICU},
	{Name: "prism_picu", Condition: `"prism" in s && s["prism"] >= 10.0`, Level: models.CarePICU},
	{Name: "prism_icu", Condition: `"prism" in s && s["prism"] >= 5.0`, Level: models.CareICU},
	{Name: "queensland_picu", Condition: `"queensland" in s && s["queensland"].contains("PICU")`, Level: models.CarePICU},
	{Name: "queensland_icu", Condition: `"queensland" in s && s["queensland"].contains("ICU")`, Level: models.CareICU},
	{Name: "tps_picu", Condition: `"tps" in s && s["tps"] >= 8.0`, Level: models.CarePICU},
	{Name: "tps_icu", Condition: `"tps" in s && s["tps"] >= 5.0`, Level: models.CareICU},
	{Name: "chews_picu", Condition: `"chews" in s && s["chews"] >= 5.0`, Level: models.CarePICU},
	{Name: "chews_icu", Condition: `"chews" in s && s["chews"] >= 3.0`, Level: models.CareICU},
}

type compiledRule struct {
	rule    EscalationRule
	program cel.Program
}

// Escalator evaluates escalation rules against severity scores.
type Escalator struct {
	rules []compiledRule
}

func NewEscalator(rules []EscalationRule) (*Escalator, error) {
	env, err := cel.NewEnv(
		cel.Variable("s", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	e := &Escalator{}
	for _, r := range rules {
		ast, issues := env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("error compiling rule %s: %v", r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %s does not evaluate to bool", r.Name)
		}
		p, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("error creating program for rule %s: %v", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{rule: r, program: p})
	}
	return e, nil
}

// Escalation is one rule that raised the care level.
type Escalation struct {
	Rule  string
	Level string
}

// Apply returns level raised by every rule that fires; it never lowers it.
func (e *Escalator) Apply(level string, scores models.ScoringResults) (string, []Escalation) {
	vars := ScoreVariables(scores)
	if len(vars) == 0 {
		return level, nil
	}

	var fired []Escalation
	for _, cr := range e.rules {
		out, _, err := cr.program.Eval(map[string]interface{}{"s": vars})
		if err != nil {
			continue
		}
		hit, ok := out.Value().(bool)
		if !ok || !hit {
			continue
		}
		if raised := models.EscalateCareLevel(level, cr.rule.Level); raised != level {
			fired = append(fired, Escalation{Rule: cr.rule.Name, Level: raised})
			level = raised
		}
	}
	return level, fired
}

// ScoreVariables flattens the score objects into the values the rules use.
// Results nested under a "scores" key are accepted.
func ScoreVariables(scores models.ScoringResults) map[string]interface{} {
	if nested := scores.Entry("scores"); nested != nil {
		scores = models.ScoringResults(nested)
	}

	vars := map[string]interface{}{}
	for _, name := range []string{"pews", "cameo", "prism", "tps", "chews"} {
		if v, ok := scores.Number(name, "total_score", "score"); ok {
			vars[name] = v
		}
	}
	if risk := scores.Text("trap", "risk_level", "risk"); risk != "" {
		vars["trap"] = strings.ToLower(risk)
	}
	if rec := scores.Text("queensland", "recommendation"); rec != "" {
		vars["queensland"] = strings.ToUpper(rec)
	}
	return vars
}

// ScoreSummaries renders "PEWS: 8 - recommendation" lines for notes.
func ScoreSummaries(scores models.ScoringResults) []string {
	if nested := scores.Entry("scores"); nested != nil {
		scores = models.ScoringResults(nested)
	}

	labels := map[string]string{
		"pews": "PEWS", "trap": "TRAP", "cameo": "CAMEO II", "prism": "PRISM III",
		"queensland": "Queensland", "tps": "TPS", "chews": "CHEWS",
	}
	var out []string
	for _, name := range scores.Names() {
		label, ok := labels[strings.ToLower(name)]
		if !ok {
			label = strings.ToUpper(name)
		}
		value := scores.Text(name, "total_score", "score", "risk_level")
		if value == "" {
			if v, ok := scores.Number(name); ok {
				value = models.AsString(v)
			}
		}
		line := label + ": " + value
		if rec := scores.Text(name, "recommendation", "interpretation"); rec != "" {
			line += " - " + rec
		}
		out = append(out, line)
	}
	return out
}
