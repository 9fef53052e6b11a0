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

// Package businesstime computes alert age over an 8-hour business day
// (06:00-18:00 site local), skipping weekends and a fixed holiday calendar,
// and the SLA approaching/over judgements built on it. Grounded on
// SiteHolidays, Alert.business_time/business_time_seconds/sla/
// is_approaching_sla/is_over_sla in original_source/lib/saq/database.py.
package businesstime

import "time"

// Rule is a single holiday rule, modeled per spec.md's REDESIGN note as a
// tagged union rather than the original's single "protected method" plugin
// point: either a fixed calendar date (FixedDate) or the Nth (or, if Week is
// negative, last) weekday of a month (WeekdayOfMonth).
type Rule struct {
	Name string

	Month time.Month

	// Day is set for a FixedDate rule (e.g. July 4th); zero otherwise.
	Day int

	// Weekday and Week are set for a WeekdayOfMonth rule (e.g. the last
	// Monday in May); Week counts from 1, or from the end if negative
	// (-1 is "last"). Day must be zero when these are used.
	Weekday time.Weekday
	Week    int

	// DaysAfter moves the holiday that many days past the date the other
	// fields select (e.g. 1 for the day after the fourth Thursday).
	DaysAfter int
}

// isFixedDate reports whether r is a day-of-month rule (as opposed to a
// Nth-weekday-of-month rule).
func (r Rule) isFixedDate() bool {
	return r.Day != 0
}

// matches reports whether date (truncated to a calendar day, in its own
// location) falls on this rule, ignoring the weekend-shift policy.
func (r Rule) matches(date time.Time) bool {
	if r.DaysAfter != 0 {
		date = date.AddDate(0, 0, -r.DaysAfter)
	}

	if date.Month() != r.Month {
		return false
	}

	if r.isFixedDate() {
		return date.Day() == r.Day
	}

	if date.Weekday() != r.Weekday {
		return false
	}

	if r.Week > 0 {
		return weekOfMonth(date) == r.Week
	}

	return lastWeekdayOfMonth(date)
}

func weekOfMonth(date time.Time) int {
	return (date.Day()-1)/7 + 1
}

// lastWeekdayOfMonth reports whether date is the final occurrence of its
// weekday within its month.
func lastWeekdayOfMonth(date time.Time) bool {
	next := date.AddDate(0, 0, 7)
	return next.Month() != date.Month()
}

// SiteHolidays is the fixed US-style holiday calendar named in spec.md §4.4,
// ported from SiteHolidays.rules.
var SiteHolidays = []Rule{
	{Name: "New Year's Day", Month: time.January, Day: 1},
	{Name: "Memorial Day", Month: time.May, Weekday: time.Monday, Week: -1},
	{Name: "Independence Day", Month: time.July, Day: 4},
	{Name: "Labor Day", Month: time.September, Weekday: time.Monday, Week: 1},
	{Name: "Thanksgiving Day", Month: time.November, Weekday: time.Thursday, Week: 4},
	{Name: "Day After Thanksgiving Day", Month: time.November, Weekday: time.Thursday, Week: 4, DaysAfter: 1},
	{Name: "Christmas Eve", Month: time.December, Day: 24},
	{Name: "Christmas Day", Month: time.December, Day: 25},
}

// Calendar decides whether a given day is a holiday, applying the
// weekend-shift policy: a FixedDate rule whose actual date falls on a
// Saturday is additionally observed the preceding Friday, and one falling on
// a Sunday is additionally observed the following Monday. Both the actual
// and the observed day count as holidays, matching SiteHolidays'
// _day_rule_matches override.
type Calendar struct {
	Rules []Rule
}

// NewCalendar wraps rules in a Calendar. A nil/empty slice means no
// holidays are observed.
func NewCalendar(rules []Rule) Calendar {
	return Calendar{Rules: rules}
}

// IsHoliday reports whether date falls on (or observes) any rule in c.
func (c Calendar) IsHoliday(date time.Time) bool {
	for _, r := range c.Rules {
		if c.ruleMatches(r, date) {
			return true
		}
	}

	return false
}

func (c Calendar) ruleMatches(r Rule, date time.Time) bool {
	if !r.isFixedDate() {
		return r.matches(date)
	}

	switch date.Weekday() {
	case time.Friday:
		if r.matches(date.AddDate(0, 0, 1)) {
			return true
		}
	case time.Monday:
		if r.matches(date.AddDate(0, 0, -1)) {
			return true
		}
	}

	return r.matches(date)
}
