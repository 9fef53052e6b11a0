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

// Package alertconst holds the shared vocabulary (disposition values,
// observable directives, observable types) referenced across the alert
// correlation packages.
package alertconst

// Disposition is the analyst-assigned classification of an alert.
type Disposition string

const (
	DispositionFalsePositive     Disposition = "FALSE_POSITIVE"
	DispositionIgnore            Disposition = "IGNORE"
	DispositionUnknown           Disposition = "UNKNOWN"
	DispositionReviewed          Disposition = "REVIEWED"
	DispositionGrayware          Disposition = "GRAYWARE"
	DispositionPolicyViolation   Disposition = "POLICY_VIOLATION"
	DispositionReconnaissance    Disposition = "RECONNAISSANCE"
	DispositionWeaponization     Disposition = "WEAPONIZATION"
	DispositionDelivery          Disposition = "DELIVERY"
	DispositionExploitation      Disposition = "EXPLOITATION"
	DispositionInstallation      Disposition = "INSTALLATION"
	DispositionCommandAndControl Disposition = "COMMAND_AND_CONTROL"
	DispositionExfil             Disposition = "EXFIL"
	DispositionDamage            Disposition = "DAMAGE"
)

// DispositionRank is the total order over dispositions used to roll up
// events: an event's disposition is the argmax over its contributing
// alerts' dispositions.
var DispositionRank = map[Disposition]int{
	DispositionIgnore:            -1,
	DispositionFalsePositive:     0,
	DispositionUnknown:           1,
	DispositionReviewed:          2,
	DispositionGrayware:          3,
	DispositionPolicyViolation:   3,
	DispositionReconnaissance:    4,
	DispositionWeaponization:     5,
	DispositionDelivery:          6,
	DispositionExploitation:      7,
	DispositionInstallation:      8,
	DispositionCommandAndControl: 9,
	DispositionExfil:             10,
	DispositionDamage:            11,
}

// Rank returns the disposition's rank, defaulting to DispositionUnknown's
// rank for an empty or unrecognized value.
func (d Disposition) Rank() int {
	if r, ok := DispositionRank[d]; ok {
		return r
	}

	return DispositionRank[DispositionUnknown]
}

// Status is the derived lifecycle state of an alert.
type Status string

const (
	StatusNew               Status = "New"
	StatusAssigned          Status = "Assigned"
	StatusAnalyzing         Status = "Analyzing"
	StatusAnalyzingExpired  Status = "Analyzing (expired)"
	StatusDelayed           Status = "Delayed"
	StatusCompleted         Status = "Completed"
	removedSuffix                  = " (Removed)"
)

// Removed appends the "(Removed)" suffix spec.md §4.4 describes for an
// alert whose removal_time is set.
func (s Status) Removed() Status {
	return s + removedSuffix
}

// Observable directive names, attached to a file observable to steer
// downstream analysis and archival behavior.
const (
	DirectiveOriginalEmail = "ORIGINAL_EMAIL"
	DirectiveNoScan        = "NO_SCAN"
	DirectiveArchive       = "ARCHIVE"
)

// Observable type constants.
const (
	ObservableTypeFile      = "F_FILE"
	ObservableTypeMessageID = "F_MESSAGE_ID"
	ObservableTypeIPv4      = "F_IPV4"
	ObservableTypeIPv4Conv  = "F_IPV4_CONVERSATION"
)

// Tag names used by the mailbox pipeline to suppress alerting.
const (
	TagOriginalEmail = "original_email"
	TagWhitelisted   = "whitelisted"
)

// AlertType values used to dispatch AnalysisPipeline hooks.
const (
	AlertTypeMailbox = "mailbox"
	AlertTypeBrotex  = "brotex"
	AlertTypeO365    = "o365"
)

// InstanceType is the deployment environment, per spec.md §6.
type InstanceType string

const (
	InstanceProduction InstanceType = "PRODUCTION"
	InstanceQA         InstanceType = "QA"
	InstanceDev        InstanceType = "DEV"
)

// V2 legacy detail keys back-filled from canonical email analysis keys in
// the brotex pipeline hook (spec.md §4.8).
const (
	V2DetailsKeyEnvelopeFrom = "envelope_from"
	V2DetailsKeyEnvelopeTo   = "envelope_to"
	V2DetailsKeySubject      = "email_subject"
	V2DetailsKeyFrom         = "email_from"
	V2DetailsKeyTo           = "email_to"
)

// Canonical email analysis keys, mirrored by the V2 back-fill above.
const (
	KeyEnvelopeFrom = "mail_from"
	KeyEnvelopeTo   = "rcpt_to"
	KeySubject      = "subject"
	KeyFrom         = "from"
	KeyTo           = "to"
)
