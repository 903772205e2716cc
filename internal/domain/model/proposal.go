package model

import "time"

// Proposal is a generated cover letter kept in the account's history.
// Only successful generations are recorded.
type Proposal struct {
	ID               string
	AccountID        string
	JobTitle         string
	JobDescription   string
	Tone             string
	Content          string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}
