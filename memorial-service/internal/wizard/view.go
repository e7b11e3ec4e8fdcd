package wizard

import "memorial-server/shared/models"

// DraftView is the draft as returned to the browser. The password hash never
// leaves the service.
type DraftView struct {
	models.Draft
	HasPassword bool `json:"hasPassword"`
}

// ViewOf builds the client view of d.
func ViewOf(d *models.Draft) DraftView {
	v := DraftView{Draft: *d.Clone(), HasPassword: d.Settings.HasPassword()}
	v.Settings.PasswordHash = ""
	return v
}

// State is what every wizard endpoint answers with.
type State struct {
	Step       int       `json:"step"`
	StepCount  int       `json:"stepCount"`
	Current    Step      `json:"current"`
	Steps      []Step    `json:"steps"`
	CanPublish bool      `json:"canPublish"`
	Uploading  bool      `json:"uploading"`
	Draft      DraftView `json:"draft"`
}

// State snapshots the machine together with the draft.
func (w *Wizard) State() State {
	w.mu.Lock()
	idx := w.current
	steps := append([]Step(nil), w.steps...)
	w.mu.Unlock()
	return State{
		Step:       idx,
		StepCount:  len(steps),
		Current:    steps[idx-1],
		Steps:      steps,
		CanPublish: idx == len(steps),
		Draft:      ViewOf(w.editor.Draft()),
	}
}
