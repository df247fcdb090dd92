package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DateLayout is the calendar date format accepted for dateOfBirth.
const DateLayout = "2006-01-02"

// User represents one registrant awaiting a yearly birthday email.
type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username    string             `bson:"username" json:"username"`
	Email       string             `bson:"email" json:"email"`
	DateOfBirth time.Time          `bson:"date_of_birth" json:"dateOfBirth"`
	// LastEmailSentYear is the calendar year of the last successful birthday
	// email; nil until the first send.
	LastEmailSentYear *int      `bson:"last_email_sent_year,omitempty" json:"lastEmailSentYear"`
	CreatedAt         time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}

// NotifiedIn reports whether a birthday email was already sent during year.
func (u User) NotifiedIn(year int) bool {
	return u.LastEmailSentYear != nil && *u.LastEmailSentYear == year
}
