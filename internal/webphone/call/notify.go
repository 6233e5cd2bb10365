package call

// Severity classifies a user-facing notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityDanger
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityDanger:
		return "danger"
	default:
		return "info"
	}
}

// Notifier receives the dismissible user-facing notifications the engine
// emits for recoverable failures and operation outcomes.
type Notifier interface {
	Notify(severity Severity, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Severity, string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(severity Severity, message string) {
	f(severity, message)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Severity, string) {}
