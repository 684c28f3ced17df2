package logging

import (
	"fmt"
	"time"
)

// TimestampLayout is the second-precision layout used for every rendered line.
const TimestampLayout = "2006-01-02 15:04:05"

type Kind string

const (
	KindStarted       Kind = "STARTED"
	KindListening     Kind = "LISTENING"
	KindNewConnection Kind = "NEW_CONNECTION"
	KindData          Kind = "DATA"
	KindError         Kind = "ERROR"
	KindClosed        Kind = "CLOSED"
	KindFatal         Kind = "FATAL"
	KindInfo          Kind = "INFO"
)

// Kinds lists every event kind in declaration order.
var Kinds = []Kind{
	KindStarted,
	KindListening,
	KindNewConnection,
	KindData,
	KindError,
	KindClosed,
	KindFatal,
	KindInfo,
}

// ParseKind maps a kind name to its Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind: %q", name)
}

// Event is one recorded honeypot event. Service, Peer and Bytes are
// structured copies of what Text already says; only Time, Kind and Text
// are rendered into the log.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Text    string    `json:"text"`
	Service string    `json:"service,omitempty"`
	Peer    string    `json:"peer,omitempty"`
	Bytes   int       `json:"bytes,omitempty"`
}

func NewEvent(kind Kind, format string, args ...interface{}) Event {
	return Event{
		Time: time.Now(),
		Kind: kind,
		Text: fmt.Sprintf(format, args...),
	}
}

// Render formats the event as a single log line without the trailing newline.
func (e Event) Render() string {
	return fmt.Sprintf("[%s] %s %s", e.Time.Format(TimestampLayout), e.Kind, e.Text)
}

// Recorder accepts events. Implementations must be safe for concurrent use
// and must never fail back into the caller.
type Recorder interface {
	Record(ev Event)
}

// Observer receives every event after it has been written to the log, in
// log order. Observe is called with the sink lock held and must not block.
type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Announcer writes the startup header block.
type Announcer interface {
	WriteHeader(ports []int) error
}
