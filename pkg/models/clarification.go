package models

import "time"

// ClarificationQuestion is a guided-mode question posed to the client.
// At most one question per session is outstanding at a time.
type ClarificationQuestion struct {
	QuestionID  string     `json:"question_id"`
	SessionID   string     `json:"session_id"`
	Question    string     `json:"question"`
	Suggestions []string   `json:"suggestions,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Answer      string     `json:"answer,omitempty"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
}
