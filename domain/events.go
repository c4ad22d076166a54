package domain

const (
	// FactRecorded is emitted after a fact write has been recomputed.
	FactRecorded = "fact-recorded"
	// ProgressUpdated is published whenever a GroupProgress row changes.
	ProgressUpdated = "progress-updated"
)

// Event notifies other processes that the progress of a (habit, date) changed.
type Event struct {
	ID        string         `json:"Id"`
	Type      string         `json:"Type"`
	HabitID   string         `json:"HabitId"`
	GroupID   string         `json:"GroupId"`
	UserID    string         `json:"UserId,omitempty"`
	Date      string         `json:"Date"`
	Timestamp int64          `json:"Timestamp"`
	Progress  *GroupProgress `json:"Progress,omitempty"`
}
