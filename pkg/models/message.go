package models

import "time"

// SearchCriteria selects candidate verification emails
type SearchCriteria struct {
	Sender     string
	Since      time.Time
	UnseenOnly bool
}

// CandidateMessage is one search hit fetched from the mailbox
type CandidateMessage struct {
	UID uint32
	Raw []byte // full RFC 5322 source
}
