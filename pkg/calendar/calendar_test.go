package calendar

import (
	"math"
	"testing"
	"time"

	"github.com/daviddao/skyclock/pkg/model"
)

func TestUnixEpochFixedPoint(t *testing.T) {
	if got := UnixMillisToJD(0); got != 2440587.5 {
		t.Fatalf("UnixMillisToJD(0) = %v, want 2440587.5", got)
	}
	if got := TimeToJD(time.Unix(0, 0)); got != 2440587.5 {
		t.Fatalf("TimeToJD(epoch) = %v, want 2440587.5", got)
	}
}

func TestUnixMillisToJD_OneDay(t *testing.T) {
	if got := UnixMillisToJD(MillisPerDay); got != 2440588.5 {
		t.Fatalf("UnixMillisToJD(1 day) = %v, want 2440588.5", got)
	}
}

func TestKnownJulianDays(t *testing.T) {
	cases := []struct {
		name                   string
		y, mo, d, h, mi, s int
		want                   float64
	}{
		{"J2000", 2000, 1, 1, 12, 0, 0, 2451545},
		{"unix epoch", 1970, 1, 1, 0, 0, 0, 2440587.5},
		{"first gregorian day", 1582, 10, 15, 0, 0, 0, 2299160.5},
		{"last julian day", 1582, 10, 4, 0, 0, 0, 2299159.5},
		{"epoch noon", -4712, 1, 1, 12, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DateTimeToJD(tc.y, tc.mo, tc.d, tc.h, tc.mi, tc.s)
			if got != tc.want {
				t.Fatalf("DateTimeToJD = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJDToDate_GregorianBoundary(t *testing.T) {
	y, m, d := JDToDate(2299160.5)
	if y != 1582 || m != 10 || d != 15 {
		t.Fatalf("JDToDate(2299160.5) = %d-%d-%d, want 1582-10-15", y, m, d)
	}
	y, m, d = JDToDate(2299159.5)
	if y != 1582 || m != 10 || d != 4 {
		t.Fatalf("JDToDate(2299159.5) = %d-%d-%d, want 1582-10-04", y, m, d)
	}
}

func TestJDToDate_NegativeJD(t *testing.T) {
	y, m, d := JDToDate(-1)
	if y != -4713 || m != 12 || d != 31 {
		t.Fatalf("JDToDate(-1) = %d-%d-%d, want -4713-12-31", y, m, d)
	}
	y, m, d = JDToDate(0)
	if y != -4712 || m != 1 || d != 1 {
		t.Fatalf("JDToDate(0) = %d-%d-%d, want -4712-01-01", y, m, d)
	}
}

func TestJDToTime_NoonBoundary(t *testing.T) {
	cases := []struct {
		jd                  float64
		hour, minute, second int
	}{
		{2451545.0, 12, 0, 0},
		{2451545.5, 0, 0, 0},
		{2440587.5, 0, 0, 0},
		{2451545.25, 18, 0, 0},
		{2451544.75, 6, 0, 0},
	}
	for _, tc := range cases {
		h, m, s := JDToTime(tc.jd)
		if h != tc.hour || m != tc.minute || s != tc.second {
			t.Fatalf("JDToTime(%v) = %02d:%02d:%02d, want %02d:%02d:%02d",
				tc.jd, h, m, s, tc.hour, tc.minute, tc.second)
		}
	}
}

func TestRoundTrip_CivilFields(t *testing.T) {
	cases := []model.CivilDateTime{
		{Year: 2024, Month: 2, Day: 29, Hour: 23, Minute: 59, Second: 59},
		{Year: 1999, Month: 12, Day: 31, Hour: 23, Minute: 59, Second: 59},
		{Year: 2100, Month: 2, Day: 28, Hour: 1, Minute: 2, Second: 3},
		{Year: 1600, Month: 2, Day: 29, Hour: 7, Minute: 8, Second: 9},
		{Year: 1582, Month: 10, Day: 15, Hour: 0, Minute: 0, Second: 0},
		{Year: 1582, Month: 10, Day: 4, Hour: 12, Minute: 0, Second: 0},
		{Year: 1500, Month: 2, Day: 29, Hour: 10, Minute: 11, Second: 12},
		{Year: 1, Month: 1, Day: 1, Hour: 0, Minute: 0, Second: 0},
		{Year: 0, Month: 3, Day: 1, Hour: 6, Minute: 30, Second: 15},
		{Year: -4712, Month: 1, Day: 1, Hour: 12, Minute: 0, Second: 0},
		{Year: -5000, Month: 6, Day: 15, Hour: 18, Minute: 45, Second: 30},
	}
	for _, want := range cases {
		jd := CivilToJD(want)
		if got := JDToCivil(jd); got != want {
			t.Fatalf("round trip of %+v via JD %v gave %+v", want, jd, got)
		}
	}
}

func TestRoundTrip_JDSweep(t *testing.T) {
	// Sweep both calendars and negative day numbers. Civil fields floor to
	// whole seconds, so the way back may lose up to one second.
	const tolerance = 1.001 / (24 * 60 * 60)
	for jd := -200000.0; jd < 2600000; jd += 12345.678 {
		back := CivilToJD(JDToCivil(jd))
		if math.Abs(back-jd) > tolerance {
			t.Fatalf("JD %v round tripped to %v (civil %+v)", jd, back, JDToCivil(jd))
		}
	}
}

func TestJDMJD(t *testing.T) {
	if got := JDToMJD(2451545); got != 51544.5 {
		t.Fatalf("JDToMJD(2451545) = %v, want 51544.5", got)
	}
	if got := MJDToJD(51544.5); got != 2451545 {
		t.Fatalf("MJDToJD(51544.5) = %v, want 2451545", got)
	}
}

func TestFormatISO(t *testing.T) {
	if got := FormatISO(2451545); got != "2000-01-01T12:00:00" {
		t.Fatalf("FormatISO(J2000) = %q", got)
	}
}
