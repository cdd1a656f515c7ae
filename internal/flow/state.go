// Package flow sequences one badge session through upload, edit and
// preview.
package flow

import (
	"errors"

	"github.com/dunamismax/badgeflow/internal/badge"
	"github.com/dunamismax/badgeflow/internal/crop"
	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/filter"
	"github.com/dunamismax/badgeflow/internal/pipeline"
)

type Stage int

const (
	StageUploading Stage = iota
	StageEditing
	StagePreviewing
)

func (s Stage) String() string {
	switch s {
	case StageUploading:
		return "uploading"
	case StageEditing:
		return "editing"
	case StagePreviewing:
		return "previewing"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrWrongStage = errors.New("operation not allowed at this stage")

// State is one immutable snapshot of a session. Every With method returns
// a modified copy.
type State struct {
	Stage     Stage
	Profile   domain.Profile
	Source    *pipeline.SourceImage
	Gesture   crop.Gesture
	Filters   filter.Settings
	Composite *pipeline.CompositedImage
}

func NewState() State {
	return State{
		Stage:   StageUploading,
		Gesture: crop.DefaultGesture(),
		Filters: filter.Default(),
	}
}

func (s State) WithProfile(p domain.Profile) State {
	s.Profile = p
	return s
}

// WithSource replaces the photo. The crop starts over; filters are kept.
func (s State) WithSource(src *pipeline.SourceImage) State {
	s.Source = src
	s.Gesture = crop.DefaultGesture()
	s.Composite = nil
	return s
}

// WithoutSource drops the photo along with every edit made to it.
func (s State) WithoutSource() State {
	s.Source = nil
	s.Gesture = crop.DefaultGesture()
	s.Filters = filter.Default()
	s.Composite = nil
	return s
}

// WithGesture stores g restricted so the crop stays inside the source.
func (s State) WithGesture(g crop.Gesture) State {
	if s.Source != nil {
		g = g.Restrict(s.Source.Width, s.Source.Height)
	} else {
		g = g.Normalized()
	}
	s.Gesture = g
	return s
}

func (s State) WithFilter(f filter.Field, value int) (State, error) {
	next, err := s.Filters.Set(f, value)
	if err != nil {
		return s, err
	}
	s.Filters = next
	return s, nil
}

// WithFiltersReset puts crop, zoom and every filter back to their defaults.
func (s State) WithFiltersReset() State {
	s.Gesture = crop.DefaultGesture()
	s.Filters = filter.Default()
	return s
}

// WithComposite enters Previewing with c as the mounted photo.
func (s State) WithComposite(c *pipeline.CompositedImage) State {
	s.Composite = c
	s.Stage = StagePreviewing
	return s
}

func (s State) WithStage(stage Stage) State {
	s.Stage = stage
	return s
}

// Back steps to the previous stage. Nothing else changes; the old
// composite is kept but is only mounted again by a new forward transition.
func (s State) Back() (State, error) {
	switch s.Stage {
	case StagePreviewing:
		s.Stage = StageEditing
	case StageEditing:
		s.Stage = StageUploading
	default:
		return s, ErrWrongStage
	}
	return s, nil
}

// Validate reports what blocks Uploading -> Editing. The result is empty
// when the session may advance.
func (s State) Validate() domain.FieldErrors {
	errs := s.Profile.Validate()
	if s.Source == nil {
		errs.Add(domain.FieldPhoto, domain.ErrMissingRequiredField, domain.MessagePhotoRequired)
	}
	return errs
}

// Region resolves the current gesture against the source.
func (s State) Region() (crop.Region, error) {
	if s.Source == nil {
		return crop.Region{}, crop.ErrNoSource
	}
	return crop.Resolve(s.Gesture, s.Source.Width, s.Source.Height)
}

// View is the badge as mounted on the preview screen, or nil before
// Previewing.
func (s State) View() *badge.View {
	if s.Stage != StagePreviewing {
		return nil
	}
	return &badge.View{
		Name:    s.Profile.Name,
		Photo:   s.Composite,
		Filters: s.Filters,
	}
}
