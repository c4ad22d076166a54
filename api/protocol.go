package api

import "habit-progress/domain"

const maxBodySize = 16 * 1024 // 16 KiB

const headerIdempotencyKey = "Idempotency-Key"

// POST /api/groups/:groupId/habits/:habitId/toggle request body
type toggleRequest struct {
	Date string `json:"date"`
}

// PUT /api/groups/:groupId/habits/:habitId/progress request body
type progressRequest struct {
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
	Feeling   string `json:"feeling,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// PUT /api/groups/:groupId/habits/:habitId/frequency request body
type frequencyRequest struct {
	Type         string           `json:"type"`
	Days         []int            `json:"days,omitempty"`
	DayIndexBase domain.IndexBase `json:"dayIndexBase,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
