package domain

// Completion is the qualitative state of a day cell.
type Completion string

const (
	NotStarted Completion = "not_started"
	Bad        Completion = "bad"
	Average    Completion = "average"
	Good       Completion = "good"
)

// Classify maps a completion rate to its display state. A nil rate means no
// fact exists yet and is never merged with a zero rate.
func Classify(rate *float64) Completion {
	switch {
	case rate == nil:
		return NotStarted
	case *rate >= 1:
		return Good
	case *rate <= 0:
		return Bad
	default:
		return Average
	}
}

// ClassifyWeek labels every day of a window.
func ClassifyWeek(week [WeekLength]DayRate) [WeekLength]ClassifiedDay {
	var out [WeekLength]ClassifiedDay
	for i, d := range week {
		out[i] = ClassifiedDay{Date: d.Date, Rate: d.Rate, State: Classify(d.Rate)}
	}
	return out
}
