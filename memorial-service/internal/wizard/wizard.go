package wizard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"memorial-server/memorial-service/internal/draft"
	"memorial-server/shared/models"

	"go.uber.org/zap"
)

// DraftEditor is the draft store as seen by the wizard.
type DraftEditor interface {
	Draft() *models.Draft
	Mutate(fn func(d *models.Draft) error) error
}

// AutosaveTrigger is the debounced autosave wiring of the story step.
type AutosaveTrigger interface {
	Start()
	Touch()
}

// Option customises a Wizard.
type Option func(*Wizard)

// WithClock replaces time.Now for date validation.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

// Wizard is the step state machine of one session. Steps are numbered from 1.
type Wizard struct {
	mu      sync.Mutex
	steps   []Step
	current int
	form    *Form
	preview string

	editor   DraftEditor
	autosave AutosaveTrigger
	renderer *Renderer
	now      func() time.Time
	logger   *zap.Logger
}

// New starts a wizard on step 1 with the form prefilled from the current draft.
func New(steps []Step, editor DraftEditor, autosave AutosaveTrigger, renderer *Renderer, logger *zap.Logger, opts ...Option) (*Wizard, error) {
	if len(steps) == 0 {
		return nil, errors.New("wizard needs at least one step")
	}
	w := &Wizard{
		steps:    append([]Step(nil), steps...),
		current:  1,
		form:     formFromDraft(editor.Draft()),
		editor:   editor,
		autosave: autosave,
		renderer: renderer,
		now:      time.Now,
		logger:   logger.Named("Wizard"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.enter()
	return w, nil
}

// Current returns the 1-based index and the panel of the visible step.
func (w *Wizard) Current() (int, Step) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.steps[w.current-1]
}

// AtFinalStep reports whether publish is reachable.
func (w *Wizard) AtFinalStep() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current == len(w.steps)
}

// UpdateForm buffers form fields. Story edits go straight into the draft
// and touch the autosave debouncer.
func (w *Wizard) UpdateForm(f *Form) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.form.merge(f)
	if f != nil && f.Story != nil {
		if err := w.collect(StepStory); err != nil {
			return err
		}
		if w.autosave != nil {
			w.autosave.Touch()
		}
	}
	return nil
}

// Next validates the current step, collects it into the draft and advances.
// A failed validation leaves the step unchanged.
func (w *Wizard) Next(f *Form) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.form.merge(f)
	if w.current == len(w.steps) {
		return fmt.Errorf("%w: already at the last step", models.ErrBadRequest)
	}
	id := w.steps[w.current-1].ID
	if err := w.validate(id); err != nil {
		w.logger.Debug("Step validation failed", zap.String("step", string(id)), zap.Error(err))
		return err
	}
	if err := w.collect(id); err != nil {
		return err
	}
	w.current++
	w.enter()
	return nil
}

// Previous goes back one step without validation. No-op on the first step.
func (w *Wizard) Previous(f *Form) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.form.merge(f)
	if w.current == 1 {
		return nil
	}
	if err := w.collect(w.steps[w.current-1].ID); err != nil {
		return err
	}
	w.current--
	w.enter()
	return nil
}

// Skip advances past an optional step without validating it.
func (w *Wizard) Skip(f *Form) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.form.merge(f)
	step := w.steps[w.current-1]
	if !step.Optional || w.current == len(w.steps) {
		return fmt.Errorf("%w: step %q cannot be skipped", models.ErrBadRequest, step.ID)
	}
	if err := w.collect(step.ID); err != nil {
		return err
	}
	w.current++
	w.enter()
	return nil
}

// Collect writes the visible step's buffered fields into the draft.
func (w *Wizard) Collect() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.collect(w.steps[w.current-1].ID)
}

// Preview returns the preview rendered when the final step was entered.
func (w *Wizard) Preview() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.preview
}

// RenderPreview renders the current draft again.
func (w *Wizard) RenderPreview() (string, error) {
	if w.renderer == nil {
		return "", errors.New("preview renderer not configured")
	}
	return w.renderer.Render(w.editor.Draft())
}

// enter runs the side effects of the step just entered.
func (w *Wizard) enter() {
	switch {
	case w.steps[w.current-1].ID == StepStory:
		if w.autosave != nil {
			w.autosave.Start()
		}
	case w.current == len(w.steps) && w.renderer != nil:
		html, err := w.renderer.Render(w.editor.Draft())
		if err != nil {
			w.logger.Error("Failed to render draft preview", zap.Error(err))
			return
		}
		w.preview = html
	}
}

// validate checks the buffered fields of step as they would be collected.
func (w *Wizard) validate(id StepID) error {
	candidate := w.editor.Draft()
	w.applyTo(id, candidate)
	switch id {
	case StepBasic:
		if err := draft.ValidateNameParts(candidate.Basic); err != nil {
			return err
		}
		return draft.ValidateDates(candidate.Basic, w.now())
	case StepServices:
		return draft.ValidateServices(candidate.Services)
	case StepSettings:
		return draft.ValidatePrivacy(candidate.Settings)
	}
	return nil
}

func (w *Wizard) collect(id StepID) error {
	return w.editor.Mutate(func(d *models.Draft) error {
		w.applyTo(id, d)
		return nil
	})
}

func (w *Wizard) applyTo(id StepID, d *models.Draft) {
	switch id {
	case StepBasic:
		if w.form.Basic != nil {
			w.form.Basic.apply(d)
		}
	case StepStory:
		if w.form.Story != nil {
			w.form.Story.apply(d)
		}
	case StepServices:
		if w.form.Services != nil {
			w.form.Services.apply(d)
		}
	case StepSettings:
		if w.form.Settings != nil {
			w.form.Settings.apply(d)
		}
	}
}
