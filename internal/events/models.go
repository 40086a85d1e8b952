package events

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindStarted      Kind = "started"
	KindCompleted    Kind = "completed"
	KindFailed       Kind = "failed"
	KindAnalysisDone Kind = "analysis_done"
)

const (
	// AnalysisDoneJob stands in for the job name on analysis level events.
	AnalysisDoneJob = "done"

	msgRunning     = "Running"
	msgCompleted   = "Completed"
	msgError       = "ERROR"
	msgAllComplete = "allcomplete"
)

// Message is the object listeners receive. Field names and presence are part
// of the contract with the front-end.
type Message struct {
	Analysis string   `json:"analysis"`
	Job      string   `json:"job"`
	Msg      string   `json:"msg"`
	Results  []string `json:"results"`
	Done     int      `json:"done"`
}

// Event is a Message plus the routing data of the bus. It serializes flat, so
// a stored event is also a valid Message.
type Event struct {
	Seq        uint64 `json:"seq,omitempty"`
	Kind       Kind   `json:"kind"`
	AnalysisID string `json:"analysis_id"`
	Recipient  string `json:"-"`
	Message
}

func NewStartedEvent(analysisID, analysisName, job string) Event {
	return newEvent(KindStarted, analysisID, Message{
		Analysis: analysisName,
		Job:      job,
		Msg:      msgRunning,
	})
}

func NewCompletedEvent(analysisID, analysisName, job string, results []string) Event {
	return newEvent(KindCompleted, analysisID, Message{
		Analysis: analysisName,
		Job:      job,
		Msg:      msgCompleted,
		Results:  results,
		Done:     1,
	})
}

func NewFailedEvent(analysisID, analysisName, job, reason string) Event {
	msg := msgError
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msgError, reason)
	}
	return newEvent(KindFailed, analysisID, Message{
		Analysis: analysisName,
		Job:      job,
		Msg:      msg,
		Done:     1,
	})
}

func NewAnalysisDoneEvent(analysisID, analysisName string) Event {
	return newEvent(KindAnalysisDone, analysisID, Message{
		Analysis: analysisName,
		Job:      AnalysisDoneJob,
		Msg:      msgAllComplete,
	})
}

func newEvent(kind Kind, analysisID string, msg Message) Event {
	if msg.Results == nil {
		msg.Results = []string{}
	}
	return Event{Kind: kind, AnalysisID: analysisID, Message: msg}
}

// encode serializes the event without its sequence number; transports that
// assign the sequence themselves prepend it.
func encode(e Event) ([]byte, error) {
	e.Seq = 0
	if e.Results == nil {
		e.Results = []string{}
	}
	return json.Marshal(e)
}

func decode(recipient string, data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	e.Recipient = recipient
	if e.Results == nil {
		e.Results = []string{}
	}
	return e, nil
}
