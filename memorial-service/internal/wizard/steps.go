// Package wizard drives the multi-step memorial creation flow.
package wizard

// StepID names a step panel.
type StepID string

const (
	StepBasic    StepID = "basic"
	StepStory    StepID = "story"
	StepServices StepID = "services"
	StepMoments  StepID = "moments"
	StepSettings StepID = "settings"
	StepReview   StepID = "review"
)

// Step is one declared panel. Optional steps can be skipped without validation.
type Step struct {
	ID       StepID `json:"id"`
	Title    string `json:"title"`
	Optional bool   `json:"optional"`
}

// DefaultSteps is the panel list of the memorial wizard. The machine itself
// works with whatever list it is given; the last entry is the review step.
func DefaultSteps() []Step {
	return []Step{
		{ID: StepBasic, Title: "About your loved one"},
		{ID: StepStory, Title: "Their story", Optional: true},
		{ID: StepServices, Title: "Services", Optional: true},
		{ID: StepMoments, Title: "Photos & videos", Optional: true},
		{ID: StepSettings, Title: "Privacy"},
		{ID: StepReview, Title: "Review & publish"},
	}
}
