package approval

// Recorder observes every status transition. It is called with the token's
// lock held, in transition order, and must not call back into the Store.
type Recorder interface {
	RecordTransition(action PendingAction, from Status)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(action PendingAction, from Status)

func (f RecorderFunc) RecordTransition(action PendingAction, from Status) { f(action, from) }

// MultiRecorder fans a transition out to several recorders.
type MultiRecorder []Recorder

func (m MultiRecorder) RecordTransition(action PendingAction, from Status) {
	for _, r := range m {
		if r != nil {
			r.RecordTransition(action, from)
		}
	}
}
