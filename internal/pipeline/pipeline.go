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

// Package pipeline implements the post-analysis hooks described in
// spec.md §4.8: dispatch by alert type, the mailbox path's Office365
// re-targeting and whitelist/should-alert gates, the brotex path's legacy
// v2 detail back-fill, and storage cleanup. Grounded on
// EmailScanningEngine.post_analysis/post_mailbox_analysis/
// post_brotex_analysis/cleanup/get_tracking_information in
// original_source/lib/saq/engine/email.py.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/alertstore"
)

// EmailAnalysis is the seam concrete (out-of-scope) analysis modules
// implement to hand parsed email details to the pipeline, mirroring
// saq.modules.email.EmailAnalysis's fields the original hooks read.
type EmailAnalysis interface {
	// Parsed reports whether the underlying email could be parsed at all.
	Parsed() bool
	DecodedSubject() string
	Subject() string
	EnvMailFrom() string
	MailFrom() string
	EnvRcptTo() []string
	MailTo() []string
	// Details returns the analysis-module-owned detail tree to merge into
	// the alert's Analysis, matching analysis.details.
	Details() map[string]interface{}
}

// Office365BlockAnalysis is the seam an Office365-report-decryption
// analysis module implements, mirroring the chain
// Office365BlockAnalysis -> MessageIDAnalysis -> EncryptedArchiveAnalysis
// the original walks to find a decrypted report file.
type Office365BlockAnalysis interface {
	// DecryptedReportPath returns the relative path (within storage_dir) of
	// the decrypted Office365 block report, if one was found.
	DecryptedReportPath() (string, bool)
}

// Pipeline runs the post-analysis hooks against an already-analyzed Alert.
type Pipeline struct {
	fs    afero.Fs
	store *alertstore.Store

	// shouldAlert gates both pipeline paths. The original's should_alert is
	// engine-level policy not present in the retrieved source; this is a
	// pluggable decision point rather than a guessed implementation. See
	// DESIGN.md's Open Question decisions.
	shouldAlert func(*alertdb.Alert) bool
	keepWorkDir bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithShouldAlert overrides the alert-worthiness gate (default: always true).
func WithShouldAlert(fn func(*alertdb.Alert) bool) Option {
	return func(p *Pipeline) { p.shouldAlert = fn }
}

// WithKeepWorkDir disables Cleanup's directory deletion, matching the
// engine's keep_work_dir debugging flag.
func WithKeepWorkDir(keep bool) Option {
	return func(p *Pipeline) { p.keepWorkDir = keep }
}

// New creates a Pipeline.
func New(fs afero.Fs, store *alertstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		fs:          fs,
		store:       store,
		shouldAlert: func(*alertdb.Alert) bool { return true },
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PostAnalysis dispatches by alert type, matching post_analysis: "mailbox"
// takes the mailbox path, anything else takes the brotex path.
func (p *Pipeline) PostAnalysis(ctx context.Context, a *alertdb.Alert, email EmailAnalysis, o365 Office365BlockAnalysis) error {
	var err error

	if a.AlertType == alertconst.AlertTypeMailbox {
		err = p.postMailboxAnalysis(ctx, a, email, o365)
	} else {
		err = p.postBrotexAnalysis(ctx, a, email)
	}

	if err != nil {
		log.Error().Err(err).Str("alert", a.UUID).Msg("unable to execute post analysis")
		return fmt.Errorf("post analysis for %s: %w", a.UUID, err)
	}

	return nil
}

// findObservable returns the index of the first observable matching
// observableType carrying directive, or -1.
func findObservable(a *alertdb.Alert, observableType, directive string) int {
	raw, ok := a.Analysis[alertstore.AnalysisKeyObservables].([]interface{})
	if !ok {
		return -1
	}

	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		if t, _ := m["type"].(string); t != observableType {
			continue
		}

		if hasDirective(m, directive) {
			return i
		}
	}

	return -1
}

// hasDirective checks both the in-memory ingestion shape ([]string) and the
// shape a data.json snapshot decodes to ([]interface{} of string), since
// PostAnalysis may run against either.
func hasDirective(observable map[string]interface{}, directive string) bool {
	switch directives := observable["directives"].(type) {
	case []string:
		for _, d := range directives {
			if d == directive {
				return true
			}
		}
	case []interface{}:
		for _, d := range directives {
			if s, ok := d.(string); ok && s == directive {
				return true
			}
		}
	}

	return false
}

func observableValue(a *alertdb.Alert, index int) string {
	raw := a.Analysis[alertstore.AnalysisKeyObservables].([]interface{})
	m := raw[index].(map[string]interface{})
	v, _ := m["value"].(string)

	return v
}

func hasTag(a *alertdb.Alert, tag string) bool {
	raw, ok := a.Analysis[alertstore.AnalysisKeyTags].([]interface{})
	if !ok {
		return false
	}

	for _, item := range raw {
		if s, _ := item.(string); s == tag {
			return true
		}
	}

	return false
}

// postMailboxAnalysis matches post_mailbox_analysis: locate the original
// email file observable (or an Office365 decrypted report, re-targeting
// the alert to "o365"), drop on whitelist or a negative should_alert,
// build a human description, merge in the email analysis details, and
// persist.
func (p *Pipeline) postMailboxAnalysis(ctx context.Context, a *alertdb.Alert, email EmailAnalysis, o365 Office365BlockAnalysis) error {
	emailFileIndex := findObservable(a, alertconst.ObservableTypeFile, alertconst.DirectiveOriginalEmail)

	if o365 != nil {
		if reportPath, ok := o365.DecryptedReportPath(); ok {
			a.AlertType = alertconst.AlertTypeO365
			a.Description = "Office365 Blocked Email Report - "
			log.Info().Str("report", reportPath).Msg("found office365 block report")

			emailFileIndex = -2 // sentinel: a report was found but isn't tracked as an indexed observable
		}
	}

	if emailFileIndex == -1 {
		log.Error().Str("alert", a.UUID).Msg("cannot find original email file")
		return nil
	}

	if emailFileIndex >= 0 {
		log.Debug().Str("alert", a.UUID).Str("file", observableValue(a, emailFileIndex)).Msg("found original email file")
	}

	if emailFileIndex >= 0 && hasTag(a, alertconst.TagWhitelisted) {
		log.Info().Str("alert", a.UUID).Msg("email was whitelisted")
		return nil
	}

	if !p.shouldAlert(a) {
		return nil
	}

	if email == nil || !email.Parsed() {
		log.Warn().Str("alert", a.UUID).Msg("email analysis does not have email details")
		a.Description = "Unparsable Email"
	} else {
		a.Description += describeEmail(email)
	}

	if email != nil {
		mergeDetails(a, email.Details())
	}

	if err := p.store.Sync(ctx, a, nil); err != nil {
		return fmt.Errorf("submitting alert: %w", err)
	}

	return nil
}

// describeEmail builds the subject/from/to description suffix matching
// post_mailbox_analysis's description-building chain.
func describeEmail(email EmailAnalysis) string {
	if email.DecodedSubject() != "" {
		return email.DecodedSubject() + " "
	}

	if email.Subject() != "" {
		return email.Subject() + " "
	}

	desc := "(no subject) "

	switch {
	case email.EnvMailFrom() != "":
		desc += fmt.Sprintf("From %s ", email.EnvMailFrom())
	case email.MailFrom() != "":
		desc += fmt.Sprintf("From %s ", email.MailFrom())
	}

	switch {
	case len(email.EnvRcptTo()) == 1:
		desc += fmt.Sprintf("To %s ", email.EnvRcptTo()[0])
	case len(email.EnvRcptTo()) > 1:
		desc += fmt.Sprintf("To (%d recipients) ", len(email.EnvRcptTo()))
	case len(email.MailTo()) == 1:
		desc += fmt.Sprintf("To %s ", email.MailTo()[0])
	case len(email.MailTo()) > 1:
		desc += fmt.Sprintf("To (%d recipients) ", len(email.MailTo()))
	}

	return desc
}

func mergeDetails(a *alertdb.Alert, details map[string]interface{}) {
	if a.Analysis == nil {
		a.Analysis = map[string]interface{}{}
	}

	for k, v := range details {
		a.Analysis[k] = v
	}
}

// postBrotexAnalysis matches post_brotex_analysis: gate on should_alert,
// merge in any upstream email analysis details, back-fill the legacy v2
// detail keys from the canonical ones so older consumers of the alert's
// JSON keep working, then persist.
func (p *Pipeline) postBrotexAnalysis(ctx context.Context, a *alertdb.Alert, email EmailAnalysis) error {
	if !p.shouldAlert(a) {
		return nil
	}

	if email != nil {
		mergeDetails(a, email.Details())
	}

	backfillV2Keys(a)

	if err := p.store.Sync(ctx, a, nil); err != nil {
		return fmt.Errorf("submitting alert: %w", err)
	}

	return nil
}

// backfillV2Keys copies the canonical email analysis keys already present
// in a.Analysis into the legacy v2 key names, matching
// post_brotex_analysis's explicit KEY_* -> V2_DETAILS_KEY_* copies.
func backfillV2Keys(a *alertdb.Alert) {
	copyKey := func(from, to string) {
		if v, ok := a.Analysis[from]; ok {
			a.Analysis[to] = v
		}
	}

	copyKey(alertconst.KeyEnvelopeFrom, alertconst.V2DetailsKeyEnvelopeFrom)
	copyKey(alertconst.KeyEnvelopeTo, alertconst.V2DetailsKeyEnvelopeTo)
	copyKey(alertconst.KeyFrom, alertconst.V2DetailsKeyFrom)
	copyKey(alertconst.KeyTo, alertconst.V2DetailsKeyTo)
	copyKey(alertconst.KeySubject, alertconst.V2DetailsKeySubject)
}

// Cleanup removes the alert's storage directory once analysis is complete,
// matching EmailScanningEngine.cleanup: nothing is deleted while delayed
// analysis remains outstanding, or when the caller asked to retain the
// work directory (e.g. for debugging a specific run).
func (p *Pipeline) Cleanup(a *alertdb.Alert, delayed bool) error {
	if delayed || p.keepWorkDir {
		return nil
	}

	if err := p.fs.RemoveAll(a.StorageDir); err != nil {
		return fmt.Errorf("deleting %s: %w", a.StorageDir, err)
	}

	return nil
}

// TrackingInformation returns the email analysis details to use as the
// alert's tracking information, matching get_tracking_information: the
// analysis details verbatim, minus the embedded raw header block.
func TrackingInformation(email EmailAnalysis) map[string]interface{} {
	if email == nil {
		return map[string]interface{}{}
	}

	details := email.Details()
	if details == nil {
		return map[string]interface{}{}
	}

	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		out[k] = v
	}

	if emailSection, ok := out["email"].(map[string]interface{}); ok {
		stripped := make(map[string]interface{}, len(emailSection))
		for k, v := range emailSection {
			if k == "headers" {
				continue
			}

			stripped[k] = v
		}

		out["email"] = stripped
	}

	return out
}
