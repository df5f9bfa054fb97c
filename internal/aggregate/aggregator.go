// Package aggregate turns a stream of point-in-time samples into merged
// session intervals via a lazy-open, force-close state machine.
package aggregate

import (
	"time"

	"github.com/WWWonderer/activity-logger/internal/domain"
)

// Aggregator folds ordered samples into sessions. It keeps the most
// recent unterminated interval open across calls; only a sample with a
// differing identity, or an explicit Close, ends it. Classification
// happens lazily at close time.
type Aggregator struct {
	classifier domain.Classifier
	deviceID   string
	state      domain.AggregatorState
}

// New creates an aggregator. The initial state usually comes from the
// store's resume-from-tail mechanism.
func New(classifier domain.Classifier, deviceID string, initial domain.AggregatorState) *Aggregator {
	return &Aggregator{
		classifier: classifier,
		deviceID:   deviceID,
		state:      initial,
	}
}

// State returns the current open-session marker.
func (a *Aggregator) State() domain.AggregatorState {
	return a.state
}

// Fold consumes samples in order, emitting a closed session each time
// the identity changes. The last run of samples stays open: zero samples
// produce no sessions and leave the state untouched; samples sharing one
// identity produce no sessions at all.
func (a *Aggregator) Fold(samples []domain.Sample) []domain.Session {
	var sessions []domain.Session

	for _, smp := range samples {
		id := smp.Identity()
		if a.state.Active && id == a.state.Identity {
			continue
		}
		if a.state.Active {
			sessions = append(sessions, a.closeAt(smp.Timestamp))
		}
		a.state = domain.AggregatorState{
			Active:   true,
			Identity: id,
			Start:    smp.Timestamp,
		}
	}

	return sessions
}

// Close force-closes the open session using now as its end time and
// resets the state. Returns nil when nothing is open.
func (a *Aggregator) Close(now time.Time) *domain.Session {
	if !a.state.Active {
		return nil
	}
	s := a.closeAt(now)
	a.state = domain.AggregatorState{}
	return &s
}

// Drain is the flush entry point: fold the buffered samples, then
// optionally force-close the remaining open session. closeActive is set
// on shutdown so the in-progress session is not lost.
func (a *Aggregator) Drain(samples []domain.Sample, closeActive bool, now time.Time) []domain.Session {
	sessions := a.Fold(samples)
	if closeActive {
		if s := a.Close(now); s != nil {
			sessions = append(sessions, *s)
		}
	}
	return sessions
}

// closeAt materializes the open session ending at end. Duration is
// computed here, once, and never recomputed from storage.
func (a *Aggregator) closeAt(end time.Time) domain.Session {
	id := a.state.Identity
	category, productive := a.classifier.Classify(id.App, id.Title, id.URL, contextKey(id))
	return domain.Session{
		StartTime:    a.state.Start,
		EndTime:      end,
		DurationSec:  end.Sub(a.state.Start).Seconds(),
		App:          id.App,
		Title:        id.Title,
		URL:          id.URL,
		Category:     category,
		IsProductive: productive,
		DeviceID:     a.deviceID,
	}
}

// contextKey identifies one continuous viewing session for keyword-count
// deduplication.
func contextKey(id domain.Identity) string {
	return id.App + "\x00" + id.Title + "\x00" + id.URL
}
