package engage

import (
	"testing"
	"time"

	"nextup/domain"
)

func ts(t time.Time) *time.Time { return &t }

func TestOfficeScenario(t *testing.T) {
	now := time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC)
	ctx := domain.EngagementContext{
		Location:      domain.LocationOffice,
		Energy:        domain.EnergyHigh,
		AvailableTime: domain.Duration30Min,
	}
	a := domain.Task{
		ID:        "a",
		Status:    domain.StatusNextAction,
		Priority:  1,
		Due:       ts(now.Add(-24 * time.Hour)),
		Context:   domain.ContextOffice,
		Energy:    domain.EnergyHigh,
		Duration:  domain.Duration15Min,
		CreatedAt: now,
	}
	b := domain.Task{
		ID:        "b",
		Status:    domain.StatusNextAction,
		Priority:  5,
		Context:   domain.ContextHome,
		Energy:    domain.EnergyLow,
		Duration:  domain.Duration2Hour,
		CreatedAt: now,
	}

	scoreA, reasonsA := Score(a, ctx, now)
	if scoreA != 250 {
		t.Fatalf("task a: expected score 250, got %d (reasons %v)", scoreA, reasonsA)
	}
	if !hasReason(reasonsA, "Overdue!") {
		t.Fatalf("task a: missing overdue reason, got %v", reasonsA)
	}

	scoreB, reasonsB := Score(b, ctx, now)
	if scoreB != 60 {
		t.Fatalf("task b: expected score 60, got %d (reasons %v)", scoreB, reasonsB)
	}
	for _, r := range reasonsB {
		if r == "Perfect for office" || r == "Matches your energy level" || r == "Fits in available time" {
			t.Fatalf("task b earned an unexpected bonus: %v", reasonsB)
		}
	}

	ranked := Suggest([]domain.Task{b, a}, ctx, now, 10)
	if len(ranked) != 2 || ranked[0].Task.ID != "a" {
		t.Fatalf("expected a ranked first, got %#v", ranked)
	}
}

func hasReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func TestOnlyActionableStatusesAreScored(t *testing.T) {
	now := time.Now()
	ctx := domain.DefaultEngagementContext()
	tasks := []domain.Task{
		{ID: "1", Status: domain.StatusCaptured, CreatedAt: now},
		{ID: "2", Status: domain.StatusWaitingFor, CreatedAt: now},
		{ID: "3", Status: domain.StatusSomeday, CreatedAt: now},
		{ID: "4", Status: domain.StatusCompleted, CreatedAt: now},
		{ID: "5", Status: domain.StatusProject, CreatedAt: now},
	}
	got := Suggest(tasks, ctx, now, 0)
	if len(got) != 1 || got[0].Task.ID != "5" {
		t.Fatalf("only the project task should be scored, got %#v", got)
	}
	if got[0].Score != 30 || !hasReason(got[0].Reasons, "Project work available") {
		t.Fatalf("unexpected project scoring: %#v", got[0])
	}
}

func TestTiesKeepSourceOrder(t *testing.T) {
	now := time.Now()
	ctx := domain.DefaultEngagementContext()
	tasks := []domain.Task{
		{ID: "first", Status: domain.StatusNextAction, CreatedAt: now},
		{ID: "second", Status: domain.StatusNextAction, CreatedAt: now},
		{ID: "third", Status: domain.StatusNextAction, CreatedAt: now},
	}
	got := Suggest(tasks, ctx, now, 0)
	if got[0].Task.ID != "first" || got[1].Task.ID != "second" || got[2].Task.ID != "third" {
		t.Fatalf("equal scores must keep source order, got %v %v %v",
			got[0].Task.ID, got[1].Task.ID, got[2].Task.ID)
	}
}

func TestOverdueNeverLowersScore(t *testing.T) {
	now := time.Now()
	ctx := domain.DefaultEngagementContext()
	base := domain.Task{Status: domain.StatusNextAction, Priority: 3, CreatedAt: now}

	before, _ := Score(base, ctx, now)

	overdue := base
	overdue.Due = ts(now.Add(-time.Hour))
	after, _ := Score(overdue, ctx, now)

	if after < before {
		t.Fatalf("overdue lowered the score: %d -> %d", before, after)
	}
}

func TestDueFactorsAreMutuallyExclusive(t *testing.T) {
	now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	ctx := domain.DefaultEngagementContext()
	base := domain.Task{Status: domain.StatusNextAction, CreatedAt: now}

	cases := []struct {
		name   string
		due    time.Time
		want   int
		reason string
	}{
		{"overdue", now.Add(-time.Minute), scoreNextAction + scoreOverdue, "Overdue!"},
		{"due today", now.Add(8 * time.Hour), scoreNextAction + scoreDueToday, "Due today"},
		{"due soon", now.Add(48 * time.Hour), scoreNextAction + scoreDueSoon, "Due soon"},
		{"far future", now.Add(30 * 24 * time.Hour), scoreNextAction, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := base
			task.Due = ts(tc.due)
			score, reasons := Score(task, ctx, now)
			if score != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, score, reasons)
			}
			if tc.reason != "" && !hasReason(reasons, tc.reason) {
				t.Fatalf("missing reason %q in %v", tc.reason, reasons)
			}
		})
	}
}

func TestEnergyOneStepDown(t *testing.T) {
	now := time.Now()
	task := domain.Task{Status: domain.StatusNextAction, Energy: domain.EnergyMedium, CreatedAt: now}

	high := domain.EngagementContext{Location: domain.LocationHome, Energy: domain.EnergyHigh, AvailableTime: domain.Duration30Min}
	score, reasons := Score(task, high, now)
	if score != scoreNextAction+scoreEnergyClose || !hasReason(reasons, "Good energy match") {
		t.Fatalf("high context with medium task: %d %v", score, reasons)
	}

	low := domain.EngagementContext{Location: domain.LocationHome, Energy: domain.EnergyLow, AvailableTime: domain.Duration30Min}
	score, reasons = Score(task, low, now)
	if score != scoreNextAction || hasReason(reasons, "Good energy match") {
		t.Fatalf("low context wanting medium task must get no credit: %d %v", score, reasons)
	}
}

func TestDurationCloseMatch(t *testing.T) {
	now := time.Now()
	ctx := domain.EngagementContext{Location: domain.LocationHome, Energy: domain.EnergyMedium, AvailableTime: domain.Duration1Hour}

	fits := domain.Task{Status: domain.StatusNextAction, Duration: domain.Duration30Min, CreatedAt: now}
	if score, reasons := Score(fits, ctx, now); score != scoreNextAction+scoreTimeFits || !hasReason(reasons, "Fits in available time") {
		t.Fatalf("30min in a 1h window: %d %v", score, reasons)
	}

	over := domain.Task{Status: domain.StatusNextAction, Duration: domain.Duration2Hour, CreatedAt: now}
	if score, reasons := Score(over, ctx, now); score != scoreNextAction || hasReason(reasons, "Close time match") {
		t.Fatalf("120min against a 60min window is not close: %d %v", score, reasons)
	}

	hourTask := domain.Task{Status: domain.StatusNextAction, Duration: domain.Duration1Hour, CreatedAt: now}
	halfHour := domain.EngagementContext{Location: domain.LocationHome, Energy: domain.EnergyMedium, AvailableTime: domain.Duration30Min}
	if score, reasons := Score(hourTask, halfHour, now); score != scoreNextAction || hasReason(reasons, "Close time match") {
		t.Fatalf("60min against 30min exceeds 120%%: %d %v", score, reasons)
	}

	quarter := domain.Task{Status: domain.StatusNextAction, Duration: domain.Duration15Min, CreatedAt: now}
	tight := domain.EngagementContext{Location: domain.LocationHome, Energy: domain.EnergyMedium, AvailableTime: domain.Duration15Min}
	if score, _ := Score(quarter, tight, now); score != scoreNextAction+scoreTimeFits {
		t.Fatalf("exact fit should earn the full bonus: %d", score)
	}
}

func TestStaleTaskNeedsAttention(t *testing.T) {
	now := time.Now()
	ctx := domain.DefaultEngagementContext()
	task := domain.Task{Status: domain.StatusNextAction, CreatedAt: now.Add(-8 * 24 * time.Hour)}
	score, reasons := Score(task, ctx, now)
	if score != scoreNextAction+scoreStale || !hasReason(reasons, "Needs attention") {
		t.Fatalf("8-day-old task: %d %v", score, reasons)
	}
}

func TestMobileLocationContexts(t *testing.T) {
	now := time.Now()
	mobile := domain.EngagementContext{Location: domain.LocationMobile, Energy: domain.EnergyMedium, AvailableTime: domain.Duration30Min}

	errand := domain.Task{Status: domain.StatusNextAction, Context: domain.ContextErrands, CreatedAt: now}
	if _, reasons := Score(errand, mobile, now); !hasReason(reasons, "Perfect for mobile") {
		t.Fatalf("errands should match mobile: %v", reasons)
	}

	desk := domain.Task{Status: domain.StatusNextAction, Context: domain.ContextComputer, CreatedAt: now}
	if _, reasons := Score(desk, mobile, now); hasReason(reasons, "Perfect for mobile") {
		t.Fatalf("computer must not match mobile: %v", reasons)
	}
}

func TestSuggestTruncatesToLimit(t *testing.T) {
	now := time.Now()
	ctx := domain.DefaultEngagementContext()
	tasks := make([]domain.Task, 20)
	for i := range tasks {
		tasks[i] = domain.Task{ID: string(rune('a' + i)), Status: domain.StatusNextAction, CreatedAt: now}
	}
	if got := Suggest(tasks, ctx, now, 8); len(got) != 8 {
		t.Fatalf("expected 8 suggestions, got %d", len(got))
	}
}
