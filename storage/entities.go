package storage

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"habit-progress/domain"
)

const (
	edmInt64  = "Edm.Int64"
	edmDouble = "Edm.Double"
)

// entityKeys carries the table keys of every entity.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type factEntity struct {
	entityKeys
	HabitID       string `json:"HabitId"`
	GroupID       string `json:"GroupId"`
	UserID        string `json:"UserId"`
	Date          string `json:"Date"`
	Completed     bool   `json:"Completed"`
	Feeling       string `json:"Feeling,omitempty"`
	Comment       string `json:"Comment,omitempty"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type progressEntity struct {
	entityKeys
	HabitID            string  `json:"HabitId"`
	GroupID            string  `json:"GroupId"`
	Date               string  `json:"Date"`
	CompletionRate     float64 `json:"CompletionRate"`
	CompletionRateType string  `json:"CompletionRate@odata.type"`
	CompletedCount     int     `json:"CompletedCount"`
	MemberCount        int     `json:"MemberCount"`
	UpdatedAt          int64   `json:"UpdatedAt,string"`
	UpdatedAtType      string  `json:"UpdatedAt@odata.type"`
}

type groupEntity struct {
	entityKeys
	Name      string `json:"Name"`
	OwnerID   string `json:"OwnerId"`
	MemberIDs string `json:"MemberIds"`
	HabitIDs  string `json:"HabitIds"`
	Private   bool   `json:"Private"`
}

type habitEntity struct {
	entityKeys
	Name          string `json:"Name"`
	Description   string `json:"Description,omitempty"`
	Category      string `json:"Category,omitempty"`
	OwnerID       string `json:"OwnerId"`
	FrequencyType string `json:"FrequencyType"`
	FrequencyDays string `json:"FrequencyDays,omitempty"`
	StartDate     string `json:"StartDate,omitempty"`
	EndDate       string `json:"EndDate,omitempty"`
}

// factPartition groups all facts of one habit on one day.
func factPartition(habitID string, date time.Time) string {
	return habitID + "_" + domain.DateKey(date)
}

func toFactEntity(f domain.Fact) factEntity {
	return factEntity{
		entityKeys:    entityKeys{PartitionKey: factPartition(f.HabitID, f.Date), RowKey: f.UserID},
		HabitID:       f.HabitID,
		GroupID:       f.GroupID,
		UserID:        f.UserID,
		Date:          domain.FormatDate(f.Date),
		Completed:     f.Completed,
		Feeling:       string(f.Feeling),
		Comment:       f.Comment,
		UpdatedAt:     f.UpdatedAt.UnixMilli(),
		UpdatedAtType: edmInt64,
	}
}

func (e factEntity) toDomain() (domain.Fact, error) {
	date, err := domain.ParseDate(e.Date)
	if err != nil {
		return domain.Fact{}, err
	}
	return domain.Fact{
		HabitID:   e.HabitID,
		GroupID:   e.GroupID,
		UserID:    e.UserID,
		Date:      date,
		Completed: e.Completed,
		Feeling:   domain.Feeling(e.Feeling),
		Comment:   e.Comment,
		UpdatedAt: time.UnixMilli(e.UpdatedAt).UTC(),
	}, nil
}

func toProgressEntity(p domain.GroupProgress) progressEntity {
	return progressEntity{
		entityKeys:         entityKeys{PartitionKey: p.HabitID, RowKey: domain.DateKey(p.Date)},
		HabitID:            p.HabitID,
		GroupID:            p.GroupID,
		Date:               domain.FormatDate(p.Date),
		CompletionRate:     p.CompletionRate,
		CompletionRateType: edmDouble,
		CompletedCount:     p.CompletedCount,
		MemberCount:        p.MemberCount,
		UpdatedAt:          p.UpdatedAt.UnixMilli(),
		UpdatedAtType:      edmInt64,
	}
}

func (e progressEntity) toDomain() (domain.GroupProgress, error) {
	date, err := domain.ParseDate(e.Date)
	if err != nil {
		return domain.GroupProgress{}, err
	}
	return domain.GroupProgress{
		HabitID:        e.HabitID,
		GroupID:        e.GroupID,
		Date:           date,
		CompletionRate: e.CompletionRate,
		CompletedCount: e.CompletedCount,
		MemberCount:    e.MemberCount,
		UpdatedAt:      time.UnixMilli(e.UpdatedAt).UTC(),
	}, nil
}

func toGroupEntity(g domain.Group) (groupEntity, error) {
	members, err := json.Marshal(nonNil(g.MemberIDs))
	if err != nil {
		return groupEntity{}, err
	}
	habits, err := json.Marshal(nonNil(g.HabitIDs))
	if err != nil {
		return groupEntity{}, err
	}
	return groupEntity{
		entityKeys: entityKeys{PartitionKey: g.ID, RowKey: g.ID},
		Name:       g.Name,
		OwnerID:    g.OwnerID,
		MemberIDs:  string(members),
		HabitIDs:   string(habits),
		Private:    g.Private,
	}, nil
}

func (e groupEntity) toDomain() (domain.Group, error) {
	g := domain.Group{ID: e.RowKey, Name: e.Name, OwnerID: e.OwnerID, Private: e.Private}
	if e.MemberIDs != "" {
		if err := json.Unmarshal([]byte(e.MemberIDs), &g.MemberIDs); err != nil {
			return domain.Group{}, err
		}
	}
	if e.HabitIDs != "" {
		if err := json.Unmarshal([]byte(e.HabitIDs), &g.HabitIDs); err != nil {
			return domain.Group{}, err
		}
	}
	return g, nil
}

func toHabitEntity(h domain.Habit) habitEntity {
	days := make([]string, 0, len(h.Frequency.Days))
	for _, d := range h.Frequency.Days {
		days = append(days, strconv.Itoa(int(d)))
	}
	ent := habitEntity{
		entityKeys:    entityKeys{PartitionKey: h.GroupID, RowKey: h.ID},
		Name:          h.Name,
		Description:   h.Description,
		Category:      h.Category,
		OwnerID:       h.OwnerID,
		FrequencyType: string(h.Frequency.Type),
		FrequencyDays: strings.Join(days, ","),
	}
	if !h.StartDate.IsZero() {
		ent.StartDate = domain.FormatDate(h.StartDate)
	}
	if h.EndDate != nil {
		ent.EndDate = domain.FormatDate(*h.EndDate)
	}
	return ent
}

// toDomain keeps unknown frequency types as they are so the schedule
// evaluator can report them.
func (e habitEntity) toDomain() (domain.Habit, error) {
	h := domain.Habit{
		ID:          e.RowKey,
		GroupID:     e.PartitionKey,
		OwnerID:     e.OwnerID,
		Name:        e.Name,
		Description: e.Description,
		Category:    e.Category,
		Frequency:   domain.Frequency{Type: domain.FrequencyType(e.FrequencyType)},
	}
	if e.FrequencyDays != "" {
		for _, raw := range strings.Split(e.FrequencyDays, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return domain.Habit{}, err
			}
			h.Frequency.Days = append(h.Frequency.Days, time.Weekday(n))
		}
	}
	if e.StartDate != "" {
		start, err := domain.ParseDate(e.StartDate)
		if err != nil {
			return domain.Habit{}, err
		}
		h.StartDate = start
	}
	if e.EndDate != "" {
		end, err := domain.ParseDate(e.EndDate)
		if err != nil {
			return domain.Habit{}, err
		}
		h.EndDate = &end
	}
	return h, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
