package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// BirthdayQuery selects users whose birthday falls on a given civil date and
// who have not been emailed yet that year.
type BirthdayQuery struct {
	Day   int
	Month time.Month
	Year  int
	// IncludeLeapDay also selects users born on February 29. It is set on
	// February 28 of non-leap years.
	IncludeLeapDay bool
}

// BirthdayQueryFor builds the query for the civil date of t in its own location.
func BirthdayQueryFor(t time.Time) BirthdayQuery {
	year, month, day := t.Date()

	return BirthdayQuery{
		Day:            day,
		Month:          month,
		Year:           year,
		IncludeLeapDay: month == time.February && day == 28 && !IsLeapYear(year),
	}
}

// IsLeapYear reports whether year has a February 29.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// Matches evaluates the query against a single user in memory.
// Dates of birth are stored at UTC midnight, so they are compared in UTC.
func (q BirthdayQuery) Matches(u User) bool {
	if u.NotifiedIn(q.Year) {
		return false
	}

	_, month, day := u.DateOfBirth.UTC().Date()
	if month == q.Month && day == q.Day {
		return true
	}

	return q.IncludeLeapDay && month == time.February && day == 29
}

// Filter renders the query as a MongoDB filter document.
func (q BirthdayQuery) Filter() bson.M {
	dates := bson.A{sameDayExpr(q.Day, int(q.Month))}
	if q.IncludeLeapDay {
		dates = append(dates, sameDayExpr(29, int(time.February)))
	}

	return bson.M{
		"last_email_sent_year": bson.M{"$ne": q.Year},
		"$expr":                bson.M{"$or": dates},
	}
}

func sameDayExpr(day, month int) bson.M {
	return bson.M{"$and": bson.A{
		bson.M{"$eq": bson.A{bson.M{"$dayOfMonth": "$date_of_birth"}, day}},
		bson.M{"$eq": bson.A{bson.M{"$month": "$date_of_birth"}, month}},
	}}
}
