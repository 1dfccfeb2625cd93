package generation

// Event is a job lifecycle notification. The set of implementations is
// closed: Started, Progress, Completed, Failed and Cancelled.
type Event interface {
	isEvent()
}

// Started is emitted as soon as a submission begins, before the backend
// answers.
type Started struct{}

// Progress reports backend progress (0..100) for the held job handle. The
// first Progress after Started carries the freshly issued handle.
type Progress struct {
	Progress  int
	ProcessID string
}

// Completed reports a finished job and the output image.
type Completed struct {
	OutputImage string
	OutputURL   string
}

// Failed reports a job or transport failure with a user-facing message.
type Failed struct {
	Message string
}

// Cancelled reports that the job was cancelled, locally or on the backend.
type Cancelled struct{}

func (Started) isEvent()   {}
func (Progress) isEvent()  {}
func (Completed) isEvent() {}
func (Failed) isEvent()    {}
func (Cancelled) isEvent() {}

// Sink receives lifecycle events in emission order. It is called while the
// controller holds its lock and must not call back into the controller.
type Sink func(Event)

// EventName returns a stable label for logging.
func EventName(ev Event) string {
	switch ev.(type) {
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
