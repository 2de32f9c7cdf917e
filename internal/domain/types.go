package domain

import (
	"fmt"
	"time"
)

// Source says where a task originally came from.
type Source string

const (
	SourceChat   Source = "chat"
	SourceManual Source = "manual"
	SourceVoice  Source = "voice"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Envelope is one inbound share event: raw text plus provenance.
// Built once per event and never mutated.
type Envelope struct {
	Text                string
	AppName             string
	SenderInfo          string
	ConversationContext string
	ReceivedAt          time.Time
}

// ClockTime is a wall-clock time of day without a date.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Candidate is the extraction engine's interpretation of an envelope.
// Date, when set, is local midnight of the resolved day; TimeOfDay is
// kept separate so date-only and date+time candidates stay distinct.
type Candidate struct {
	OriginalText        string
	Title               string
	Description         string
	Date                *time.Time
	TimeOfDay           *ClockTime
	SuggestedCategory   string
	Confidence          float64
	Source              Source
	ConversationContext string
	SenderInfo          string
	Keywords            []string
	InferredPriority    Priority
	ReceivedAt          time.Time
}

// SameAs reports candidate equality for dedup purposes: two extractions
// of the same text resolving to the same title are the same candidate.
func (c Candidate) SameAs(other Candidate) bool {
	return c.OriginalText == other.OriginalText && c.Title == other.Title
}

// HasTimeReference reports whether extraction found any date or time.
func (c Candidate) HasTimeReference() bool {
	return c.Date != nil || c.TimeOfDay != nil
}

// LacksContext reports whether the candidate carries nothing beyond its title.
func (c Candidate) LacksContext() bool {
	return c.Description == "" && len(c.Keywords) == 0
}

// ReminderInterval is a fixed offset before a task's due time.
type ReminderInterval string

const (
	IntervalAtTime  ReminderInterval = "at_time"
	IntervalOneHour ReminderInterval = "one_hour"
	IntervalOneDay  ReminderInterval = "one_day"
)

// Offset returns how long before the due time the interval fires.
func (i ReminderInterval) Offset() time.Duration {
	switch i {
	case IntervalAtTime:
		return 0
	case IntervalOneHour:
		return time.Hour
	case IntervalOneDay:
		return 24 * time.Hour
	}
	return 0
}

func ParseInterval(s string) (ReminderInterval, error) {
	switch ReminderInterval(s) {
	case IntervalAtTime, IntervalOneHour, IntervalOneDay:
		return ReminderInterval(s), nil
	}
	return "", fmt.Errorf("unknown reminder interval %q", s)
}

// Task is the persisted record a candidate materializes into. DueDate is
// local midnight of the due day; DueAt is set only when the candidate
// carried both a date and a clock time.
type Task struct {
	ID             string
	Title          string
	Description    string
	CategoryID     string
	DueDate        *time.Time
	DueAt          *time.Time
	Priority       Priority
	Source         Source
	Completed      bool
	HasReminder    bool
	Intervals      []ReminderInterval
	IdempotencyKey string
	CreatedAt      time.Time
}

// Job is one keyed deferred reminder. Key is unique per
// (task id, interval); rescheduling replaces, never duplicates.
type Job struct {
	Key       string
	TaskID    string
	Interval  ReminderInterval
	TriggerAt time.Time
	Payload   []byte
	Attempts  int
	State     string
}

// JobKey builds the stable key for a task's reminder at one interval.
func JobKey(taskID string, interval ReminderInterval) string {
	return taskID + "|" + string(interval)
}
