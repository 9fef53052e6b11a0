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

// Settings is one SLA policy: a timeout and warning window, both in hours,
// matching saq.GLOBAL_SLA_SETTINGS / saq.OTHER_SLA_SETTINGS. A disabled
// policy always yields false from IsApproaching/IsOver.
type Settings struct {
	Name    string
	Enabled bool

	// Property/Value select this policy for alerts whose named attribute
	// (e.g. "alert_type" or "company") equals Value, generalizing the
	// original's per-setting `_property`/`_value` match. An empty Property
	// marks the global fallback policy.
	Property string
	Value    string

	TimeoutHours int
	WarningHours int
}

// Resolver picks the Settings that apply to a given alert attribute,
// matching the Alert.sla property's "scan OTHER_SLA_SETTINGS, else fall
// back to GLOBAL_SLA_SETTINGS" search.
type Resolver struct {
	Global Settings
	Other  []Settings
}

// Resolve returns the first Other entry whose Property/Value matches attrs,
// or Global if none match.
func (r Resolver) Resolve(attrs map[string]string) Settings {
	for _, s := range r.Other {
		if s.Property == "" {
			continue
		}

		if v, ok := attrs[s.Property]; ok && v == s.Value {
			return s
		}
	}

	return r.Global
}

// Judgement is the input to IsApproaching/IsOver: the alert facts the
// original reads off self (disposition, alert_type) plus the business-time
// age already computed via Calculator.Delta.
type Judgement struct {
	Dispositioned      bool
	AlertType          string
	ExcludedAlertTypes []string
	BusinessSeconds    int64
}

func (j Judgement) excluded() bool {
	for _, t := range j.ExcludedAlertTypes {
		if t == j.AlertType {
			return true
		}
	}

	return false
}

// eligible reproduces the shared guard in is_approaching_sla/is_over_sla:
// not yet dispositioned, SLA enabled, and not an excluded alert type.
func eligible(s Settings, j Judgement) bool {
	return !j.Dispositioned && s.Enabled && !j.excluded()
}

// IsApproachingSLA matches Alert.is_approaching_sla.
func IsApproachingSLA(s Settings, j Judgement) bool {
	if !eligible(s, j) {
		return false
	}

	threshold := int64(s.TimeoutHours-s.WarningHours) * 3600

	return j.BusinessSeconds >= threshold
}

// IsOverSLA matches Alert.is_over_sla.
func IsOverSLA(s Settings, j Judgement) bool {
	if !eligible(s, j) {
		return false
	}

	threshold := int64(s.TimeoutHours) * 3600

	return j.BusinessSeconds >= threshold
}
