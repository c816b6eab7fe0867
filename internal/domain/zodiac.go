package domain

import (
	"fmt"
	"time"
)

// zodiacBoundary marks the first day of a sign within the calendar year.
// Boundaries are the conventional tropical ones, inclusive on both ends.
type zodiacBoundary struct {
	month time.Month
	day   int
	sign  string
}

// Ordered by start date within the year. A date before the first boundary
// falls into Capricorn, which wraps over the year end.
var zodiacBoundaries = []zodiacBoundary{
	{time.January, 20, "Aquarius"},
	{time.February, 19, "Pisces"},
	{time.March, 21, "Aries"},
	{time.April, 20, "Taurus"},
	{time.May, 21, "Gemini"},
	{time.June, 21, "Cancer"},
	{time.July, 23, "Leo"},
	{time.August, 23, "Virgo"},
	{time.September, 23, "Libra"},
	{time.October, 23, "Scorpio"},
	{time.November, 22, "Sagittarius"},
	{time.December, 22, "Capricorn"},
}

// ZodiacSign returns the tropical zodiac sign for a month/day pair.
func ZodiacSign(month time.Month, day int) string {
	sign := "Capricorn"
	for _, b := range zodiacBoundaries {
		if month > b.month || (month == b.month && day >= b.day) {
			sign = b.sign
		}
	}
	return sign
}

// ZodiacSignFromDate derives the sign from a YYYY-MM-DD date string.
func ZodiacSignFromDate(dateOfBirth string) (string, error) {
	t, err := time.Parse("2006-01-02", dateOfBirth)
	if err != nil {
		return "", fmt.Errorf("parse date of birth: %w", err)
	}
	return ZodiacSign(t.Month(), t.Day()), nil
}
