package calendar

import "github.com/daviddao/skyclock/pkg/model"

// DaysInMonth returns the number of days of month in year. Years after 1582
// follow the Gregorian leap rule, earlier years the Julian one.
//
// Month 0 means December of the previous year and month 13 January of the
// next, so an editor can step one past either end of the year. Any other
// out-of-range month yields 0.
func DaysInMonth(month, year int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	case 0:
		return DaysInMonth(12, year-1)
	case 13:
		return DaysInMonth(1, year+1)
	}
	return 0
}

func isLeapYear(year int) bool {
	if year > 1582 {
		return year%4 == 0 && (year%100 != 0 || year%400 == 0)
	}
	// Go's % keeps the dividend's sign, which is still 0 for multiples of 4.
	return year%4 == 0
}

// NormalizeRollover carries out-of-range fields of c into the next larger
// unit until every field is in its canonical range. Overflow cascades: 90
// extra minutes on 23:00 of the last day of a year end up in the next year.
//
// A result inside the Gregorian reform gap (1582-10-05 to 1582-10-14) is
// moved to 1582-10-15, the first day that exists after the gap.
func NormalizeRollover(c *model.CivilDateTime) {
	for c.Second > 59 {
		c.Second -= 60
		c.Minute++
	}
	for c.Second < 0 {
		c.Second += 60
		c.Minute--
	}
	for c.Minute > 59 {
		c.Minute -= 60
		c.Hour++
	}
	for c.Minute < 0 {
		c.Minute += 60
		c.Hour--
	}
	for c.Hour > 23 {
		c.Hour -= 24
		c.Day++
	}
	for c.Hour < 0 {
		c.Hour += 24
		c.Day--
	}

	// Day counting only knows months 0..13; fold anything wider first so
	// DaysInMonth never returns 0 inside the loops below.
	if c.Month < 0 || c.Month > 13 {
		wrapMonth(c)
	}

	for c.Day > DaysInMonth(c.Month, c.Year) {
		c.Day -= DaysInMonth(c.Month, c.Year)
		c.Month++
		if c.Month > 12 {
			c.Month -= 12
			c.Year++
		}
	}
	for c.Day < 1 {
		c.Day += DaysInMonth(c.Month-1, c.Year)
		c.Month--
		if c.Month < 1 {
			c.Month += 12
			c.Year--
		}
	}
	wrapMonth(c)

	if c.Year == 1582 && c.Month == 10 && c.Day > 4 && c.Day < 15 {
		c.Day = 15
	}
}

func wrapMonth(c *model.CivilDateTime) {
	for c.Month > 12 {
		c.Month -= 12
		c.Year++
	}
	for c.Month < 1 {
		c.Month += 12
		c.Year--
	}
}
