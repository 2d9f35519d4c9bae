package domain

// Location is where the user currently is. It extends the task context
// vocabulary with "mobile" for in-transit situations.
type Location string

const (
	LocationHome   Location = "home"
	LocationOffice Location = "office"
	LocationMobile Location = "mobile"
)

// EngagementContext is the user's current situation. It is ephemeral and
// only feeds the suggestion scoring.
type EngagementContext struct {
	Location      Location `json:"location"`
	Energy        Energy   `json:"energy"`
	AvailableTime Duration `json:"availableTime"`
}

// DefaultEngagementContext returns the session-start context: at home,
// medium energy, a 30-minute window.
func DefaultEngagementContext() EngagementContext {
	return EngagementContext{
		Location:      LocationHome,
		Energy:        EnergyMedium,
		AvailableTime: Duration30Min,
	}
}

// ContextPatch merges non-empty fields into an EngagementContext.
type ContextPatch struct {
	Location      *Location `json:"location,omitempty"`
	Energy        *Energy   `json:"energy,omitempty"`
	AvailableTime *Duration `json:"availableTime,omitempty"`
}

// Apply folds the patch into the context.
func (p ContextPatch) Apply(c *EngagementContext) {
	if p.Location != nil {
		c.Location = *p.Location
	}
	if p.Energy != nil {
		c.Energy = *p.Energy
	}
	if p.AvailableTime != nil {
		c.AvailableTime = *p.AvailableTime
	}
}
