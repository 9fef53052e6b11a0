// Copyright (c) 2023-2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package businesstime

import (
	"strconv"
	"time"
)

// Duration is a business-time delta expressed the way Alert.business_time
// is displayed: whole business days plus a remainder in seconds. Days is a
// count of full business-hours windows (12 hours each, given the default
// 06:00-18:00 window) elapsed; TotalSeconds then flattens it back assuming 8
// hours per day, matching business_time_seconds' own comment ("remember
// that 1 day == 8 hours") — a carried-over inconsistency with the actual
// configured window width, not a rounding choice made here.
type Duration struct {
	Days    int
	Seconds int
}

// flattenedSecondsPerDay is the fixed 8-hour-day assumption
// business_time_seconds applies when flattening Days, independent of the
// Calculator's actual business-hours window width.
const flattenedSecondsPerDay = 8 * 60 * 60

// TotalSeconds returns the flattened business_time_seconds value.
func (d Duration) TotalSeconds() int64 {
	return int64(d.Days)*flattenedSecondsPerDay + int64(d.Seconds)
}

// String formats d the way business_time_str does: "N days, H hours", with
// either half omitted if zero.
func (d Duration) String() string {
	result := ""

	if d.Days > 0 {
		suffix := ""
		if d.Days > 1 {
			suffix = "s"
		}

		result = pluralDays(d.Days, suffix)
	}

	hours := d.Seconds / 60 / 60
	if hours > 0 {
		suffix := ""
		if hours > 1 {
			suffix = "s"
		}

		if result == "" {
			result = pluralHours(hours, suffix)
		} else {
			result = result + ", " + pluralHours(hours, suffix)
		}
	}

	return result
}

func pluralDays(n int, suffix string) string {
	return strconv.Itoa(n) + " day" + suffix
}

func pluralHours(n int, suffix string) string {
	return strconv.Itoa(n) + " hour" + suffix
}

// Hours is a clock time of day used to bound the business-hours window.
type Hours struct {
	Start time.Duration // offset from midnight, e.g. 6*time.Hour
	End   time.Duration
}

// DefaultHours is the 06:00-18:00 window spec.md §4.4 names.
var DefaultHours = Hours{Start: 6 * time.Hour, End: 18 * time.Hour}

// Calculator computes business-time deltas against a fixed business-hours
// window and holiday calendar, the Go equivalent of the module-level
// `_bt = businesstime.BusinessTime(...)` instance the original constructs
// once at import time.
type Calculator struct {
	Hours    Hours
	Holidays Calendar
}

// NewCalculator builds a Calculator with spec.md's default hours and the
// SiteHolidays calendar.
func NewCalculator() Calculator {
	return Calculator{Hours: DefaultHours, Holidays: NewCalendar(SiteHolidays)}
}

// Delta computes the business-time age between start and end, matching
// businesstimedelta. If end is before start, the result is zero. Both times
// are interpreted in their own (site) location.
func (c Calculator) Delta(start, end time.Time) Duration {
	if !end.After(start) {
		return Duration{}
	}

	var total int64

	day := startOfDay(start)
	endDay := startOfDay(end)

	for !day.After(endDay) {
		total += c.businessSecondsOnDay(day, start, end)
		day = day.AddDate(0, 0, 1)
	}

	dayLength := int64((c.Hours.End - c.Hours.Start).Seconds())
	if dayLength <= 0 {
		return Duration{Seconds: int(total)}
	}

	return Duration{
		Days:    int(total / dayLength),
		Seconds: int(total % dayLength),
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// businessSecondsOnDay returns the number of business-hours seconds that
// fall within [start, end) on the given calendar day.
func (c Calculator) businessSecondsOnDay(day, start, end time.Time) int64 {
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return 0
	}

	if c.Holidays.IsHoliday(day) {
		return 0
	}

	windowStart := day.Add(c.Hours.Start)
	windowEnd := day.Add(c.Hours.End)

	lo := maxTime(windowStart, start)
	hi := minTime(windowEnd, end)

	if hi.Before(lo) {
		return 0
	}

	return int64(hi.Sub(lo).Seconds())
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}

	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}

	return b
}
