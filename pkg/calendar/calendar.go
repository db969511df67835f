// Package calendar converts between Julian Day numbers and civil calendar
// fields.
//
// The conversions follow the integer algorithms of "Numerical Recipes in C,
// 2nd Ed." (1992), pp. 11-15. The Julian calendar applies before the
// Gregorian reform (JD 2299161, 1582-10-15) and the Gregorian calendar from
// then on. Years use astronomical numbering: year 0 exists and year -1 is
// 2 BCE.
//
// All functions are pure and safe for concurrent use.
package calendar

import (
	"fmt"
	"math"
	"time"

	"github.com/daviddao/skyclock/pkg/model"
)

const (
	// GregorianStartJD is the first Julian Day (noon) of the Gregorian
	// calendar, 1582-10-15.
	GregorianStartJD = 2299161

	// UnixEpochJD is 1970-01-01T00:00:00Z.
	UnixEpochJD = 2440587.5

	// MJDOffset converts a Julian Day to a Modified Julian Day.
	MJDOffset = 2400000.5

	// MillisPerDay is the number of milliseconds in one JD unit.
	MillisPerDay = 24 * 60 * 60 * 1000

	// JDSecond is one second expressed in days. A time rate of exactly
	// JDSecond means the simulated clock runs at real-time speed.
	JDSecond = 0.000011574074074074074074

	// gregorianStart is 1582-10-15 encoded as d + 31*(m + 12*y).
	gregorianStart = 15 + 31*(10+12*1582)

	// julianCentury is the number of days in 100 Julian years.
	julianCentury = 36525
)

// JDToDate returns the calendar date of the day containing jd.
//
// Days start at midnight, so jd is shifted by half a day before truncation.
// Negative day numbers are moved forward by whole Julian centuries, converted,
// and moved back, which keeps the algorithm defined arbitrarily far in the
// past.
func JDToDate(jd float64) (year, month, day int) {
	julian := math.Floor(jd + 0.5)

	var ja float64
	switch {
	case julian >= GregorianStartJD:
		jalpha := math.Trunc(((julian - 1867216) - 0.25) / 36524.25)
		ja = julian + 1 + jalpha - math.Trunc(0.25*jalpha)
	case julian < 0:
		ja = julian + julianCentury*(1-math.Trunc(julian/julianCentury))
	default:
		ja = julian
	}

	jb := ja + 1524
	jc := math.Trunc(6680 + ((jb - 2439870) - 122.1) / 365.25)
	jdd := math.Trunc(365*jc + 0.25*jc)
	je := math.Trunc((jb - jdd) / 30.6001)

	day = int(jb - jdd - math.Trunc(30.6001*je))
	month = int(je) - 1
	if month > 12 {
		month -= 12
	}
	year = int(jc) - 4715
	if month > 2 {
		year--
	}
	// No year-zero adjustment: astronomical numbering keeps year 0.
	if julian < 0 {
		year -= 100 * int(1-math.Trunc(julian/julianCentury))
	}
	return year, month, day
}

// JDToTime returns the time of day of jd. Julian Days begin at noon, so the
// fraction is offset by 12 hours. A small fuzz added to the second count
// absorbs floating point truncation (e.g. 59.99999 seconds).
func JDToTime(jd float64) (hour, minute, second int) {
	frac := jd - math.Floor(jd)
	s := int64(math.Floor(frac*24*60*60 + 0.0001))

	hour = int((s/(60*60) + 12) % 24)
	minute = int((s / 60) % 60)
	second = int(s % 60)
	return hour, minute, second
}

// DateTimeToJD converts civil date and time fields to a Julian Day.
//
// The fields are expected to be normalized (see NormalizeRollover). The
// Gregorian correction applies for dates on or after 1582-10-15.
func DateTimeToJD(year, month, day, hour, minute, second int) float64 {
	deltaTime := float64(hour)/24 +
		float64(minute)/(24*60) +
		float64(second)/(24*60*60) -
		0.5

	jy := float64(year)
	var jm float64
	if month > 2 {
		jm = float64(month + 1)
	} else {
		jy--
		jm = float64(month + 13)
	}

	jul := math.Trunc(math.Floor(365.25*jy) + math.Floor(30.6001*jm) + float64(day) + 1720995)
	if day+31*(month+12*year) >= gregorianStart {
		ja := math.Trunc(0.01 * jy)
		jul += 2 - ja + math.Trunc(0.25*ja)
	}
	return jul + deltaTime
}

// UnixMillisToJD converts milliseconds since the Unix epoch to a Julian Day.
func UnixMillisToJD(ms int64) float64 {
	return float64(ms)/MillisPerDay + UnixEpochJD
}

// TimeToJD converts t to a Julian Day.
func TimeToJD(t time.Time) float64 {
	return UnixMillisToJD(t.UnixMilli())
}

// JDToMJD converts a Julian Day to a Modified Julian Day.
func JDToMJD(jd float64) float64 { return jd - MJDOffset }

// MJDToJD converts a Modified Julian Day to a Julian Day.
func MJDToJD(mjd float64) float64 { return mjd + MJDOffset }

// JDToCivil splits jd into civil fields.
func JDToCivil(jd float64) model.CivilDateTime {
	var c model.CivilDateTime
	c.Year, c.Month, c.Day = JDToDate(jd)
	c.Hour, c.Minute, c.Second = JDToTime(jd)
	return c
}

// CivilToJD converts c to a Julian Day without normalizing it first.
func CivilToJD(c model.CivilDateTime) float64 {
	return DateTimeToJD(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second)
}

// FormatISO renders jd as an ISO 8601 date and time without zone.
func FormatISO(jd float64) string {
	c := JDToCivil(jd)
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d",
		c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second)
}
