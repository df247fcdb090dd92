package birthday

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status is the outcome of notifying a single user.
type Status string

const (
	// StatusSent means the email was delivered and the marker saved.
	StatusSent Status = "sent"
	// StatusDeliveryFailed means the email was not delivered; the marker is untouched.
	StatusDeliveryFailed Status = "delivery_failed"
	// StatusMarkFailed means the email was delivered but the marker could not be saved.
	StatusMarkFailed Status = "mark_failed"
)

// Result records what happened to one recipient.
type Result struct {
	UserID primitive.ObjectID
	Email  string
	Status Status
	Err    error
}

// Report summarizes one scan.
type Report struct {
	Date    time.Time
	Year    int
	Matched int
	Results []Result
	// Err is set when the scan could not run at all.
	Err error
}

// Sent counts delivered emails, including those whose marker failed to save.
func (r Report) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusSent || res.Status == StatusMarkFailed {
			n++
		}
	}
	return n
}

// Failed counts recipients whose email was not delivered.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusDeliveryFailed {
			n++
		}
	}
	return n
}
