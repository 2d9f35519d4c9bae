package engage

import (
	"sort"
	"time"

	"nextup/domain"
)

// Suggestion pairs a task with its score and the reasons behind it. It is
// derived fresh on every request, never cached across context changes.
type Suggestion struct {
	Task    domain.Task `json:"task"`
	Score   int         `json:"score"`
	Reasons []string    `json:"reasons"`
}

const (
	scoreNextAction   = 50
	scoreProject      = 30
	scoreOverdue      = 100
	scoreDueToday     = 75
	scoreDueSoon      = 25
	scoreLocation     = 20
	scoreEnergyExact  = 15
	scoreEnergyClose  = 5
	scoreTimeFits     = 15
	scoreTimeClose    = 5
	scoreStale        = 5
	dueSoonWindow     = 3 * 24 * time.Hour
	staleAfter        = 7 * 24 * time.Hour
	closeTimeFraction = 1.2
)

// Contexts a task may carry and still be workable from each location.
var locationContexts = map[domain.Location][]domain.Context{
	domain.LocationHome:   {domain.ContextHome, domain.ContextCalls, domain.ContextComputer, domain.ContextAnywhere},
	domain.LocationOffice: {domain.ContextOffice, domain.ContextCalls, domain.ContextComputer, domain.ContextAnywhere},
	domain.LocationMobile: {domain.ContextCalls, domain.ContextErrands, domain.ContextAnywhere},
}

// Suggest scores the actionable tasks against the context and returns them
// ranked by descending score. Ties keep the source collection's relative
// order. limit <= 0 returns every suggestion.
func Suggest(tasks []domain.Task, ctx domain.EngagementContext, now time.Time, limit int) []Suggestion {
	suggestions := make([]Suggestion, 0, len(tasks))
	for _, t := range tasks {
		if t.Status != domain.StatusNextAction && t.Status != domain.StatusProject {
			continue
		}
		score, reasons := Score(t, ctx, now)
		suggestions = append(suggestions, Suggestion{Task: t, Score: score, Reasons: reasons})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if limit > 0 && len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions
}

// Score computes the additive score for one task, with one reason string
// per factor that fired. Only next_action and project tasks reach here.
func Score(t domain.Task, ctx domain.EngagementContext, now time.Time) (int, []string) {
	score := 0
	reasons := []string{}

	switch t.Status {
	case domain.StatusNextAction:
		score += scoreNextAction
		reasons = append(reasons, "Ready for action")
	case domain.StatusProject:
		score += scoreProject
		reasons = append(reasons, "Project work available")
	}

	if t.Priority >= 1 && t.Priority <= 5 {
		score += (6 - t.Priority) * 10
		if t.Priority <= 2 {
			reasons = append(reasons, "High priority")
		}
	}

	if t.Due != nil {
		switch {
		case t.Due.Before(now):
			score += scoreOverdue
			reasons = append(reasons, "Overdue!")
		case sameDay(*t.Due, now):
			score += scoreDueToday
			reasons = append(reasons, "Due today")
		case t.Due.Sub(now) <= dueSoonWindow:
			score += scoreDueSoon
			reasons = append(reasons, "Due soon")
		}
	}

	if t.Context != "" {
		for _, c := range locationContexts[ctx.Location] {
			if c == t.Context {
				score += scoreLocation
				reasons = append(reasons, "Perfect for "+string(ctx.Location))
				break
			}
		}
	}

	if t.Energy != "" {
		switch {
		case t.Energy == ctx.Energy:
			score += scoreEnergyExact
			reasons = append(reasons, "Matches your energy level")
		case ctx.Energy == domain.EnergyHigh && t.Energy == domain.EnergyMedium,
			ctx.Energy == domain.EnergyMedium && t.Energy == domain.EnergyLow:
			score += scoreEnergyClose
			reasons = append(reasons, "Good energy match")
		}
	}

	if mins := t.Duration.Minutes(); mins > 0 {
		if avail := ctx.AvailableTime.Minutes(); avail > 0 {
			switch {
			case mins <= avail:
				score += scoreTimeFits
				reasons = append(reasons, "Fits in available time")
			case float64(mins) <= closeTimeFraction*float64(avail):
				score += scoreTimeClose
				reasons = append(reasons, "Close time match")
			}
		}
	}

	if !t.CreatedAt.IsZero() && now.Sub(t.CreatedAt) > staleAfter {
		score += scoreStale
		reasons = append(reasons, "Needs attention")
	}

	if score < 0 {
		score = 0
	}
	return score, reasons
}
