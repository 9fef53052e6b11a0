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

package curation_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/ace-correlate/alertcore/internal/alertconst"
	"github.com/ace-correlate/alertcore/internal/alertdb"
	"github.com/ace-correlate/alertcore/internal/curation"
	testdb "github.com/ace-correlate/alertcore/internal/testing/db"
)

func newRepos(t *testing.T) (*curation.Repository, *alertdb.Repository) {
	t.Helper()

	database, err := testdb.WithTestDatabase(t)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return curation.NewRepository(database), alertdb.NewRepository(database)
}

func insertDispositionedAlert(t *testing.T, repo *alertdb.Repository, uuid string, disposition alertconst.Disposition) int64 {
	t.Helper()

	a := &alertdb.Alert{
		UUID:       uuid,
		StorageDir: "/alerts/" + uuid,
		AlertType:  "mailbox",
		InsertDate: time.Now(),
	}
	require.NoError(t, repo.InsertAlert(context.Background(), a))

	a.Disposition = disposition
	require.NoError(t, repo.UpdateAlert(context.Background(), a))

	return a.ID
}

func TestEventDispositionRollsUpHighestRank(t *testing.T) {
	ctx := context.Background()
	curationRepo, alertRepo := newRepos(t)

	event := &curation.Event{Name: "phishing wave", Status: "OPEN"}
	require.NoError(t, curationRepo.InsertEvent(ctx, event))

	lowID := insertDispositionedAlert(t, alertRepo, "evt-low", alertconst.DispositionFalsePositive)
	highID := insertDispositionedAlert(t, alertRepo, "evt-high", alertconst.DispositionExfil)

	require.NoError(t, curationRepo.MapEventToAlert(ctx, event.ID, lowID))
	require.NoError(t, curationRepo.MapEventToAlert(ctx, event.ID, highID))

	disposition, ok, err := curationRepo.EventDisposition(ctx, event.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alertconst.DispositionExfil, disposition)

	rank, err := curationRepo.EventDispositionRank(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, alertconst.DispositionExfil.Rank(), rank)
}

func TestEventDispositionRankIsNegativeTwoWhenUndispositioned(t *testing.T) {
	ctx := context.Background()
	curationRepo, _ := newRepos(t)

	event := &curation.Event{Name: "quiet event", Status: "OPEN"}
	require.NoError(t, curationRepo.InsertEvent(ctx, event))

	rank, err := curationRepo.EventDispositionRank(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, -2, rank)
}

func TestEventWikiLink(t *testing.T) {
	ctx := context.Background()
	curationRepo, _ := newRepos(t)

	event := &curation.Event{
		Name:         "Q3 Phishing Wave",
		Status:       "OPEN",
		CreationDate: time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, curationRepo.InsertEvent(ctx, event))

	link := event.Wiki("https://wiki.example.com/")
	require.Equal(t, "https://wiki.example.com/display/integral/20260305+Q3+Phishing+Wave", link)
}

func TestEventCompanyAndMalwareAttribution(t *testing.T) {
	ctx := context.Background()
	curationRepo, _ := newRepos(t)

	event := &curation.Event{Name: "malware outbreak", Status: "OPEN"}
	require.NoError(t, curationRepo.InsertEvent(ctx, event))

	companyID, err := curationRepo.InsertCompany(ctx, "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, curationRepo.MapEventToCompany(ctx, event.ID, companyID))

	malwareID, err := curationRepo.InsertMalware(ctx, "Emotet")
	require.NoError(t, err)
	require.NoError(t, curationRepo.MapEventToMalware(ctx, event.ID, malwareID))

	_, err = curationRepo.InsertThreat(ctx, malwareID, "BOTNET")
	require.NoError(t, err)

	companies, err := curationRepo.CompanyNamesForEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"Acme Corp"}, companies)

	malwares, err := curationRepo.MalwareNamesForEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"Emotet"}, malwares)

	threats, err := curationRepo.ThreatsForMalware(ctx, malwareID)
	require.NoError(t, err)
	require.Equal(t, []string{"BOTNET"}, threats)
}

func TestRemediationAndCommentLifecycle(t *testing.T) {
	ctx := context.Background()
	curationRepo, alertRepo := newRepos(t)

	alertID := insertDispositionedAlert(t, alertRepo, "rem-1", alertconst.DispositionDelivery)

	user := &curation.User{Username: "analyst1", Email: "analyst1@example.com"}
	require.NoError(t, curationRepo.InsertUser(ctx, user))

	rem := &curation.Remediation{
		AlertID:    alertID,
		UserID:     sql.NullInt64{Int64: user.ID, Valid: true},
		Type:       "email",
		Status:     "remove",
		InsertDate: time.Now(),
	}
	require.NoError(t, curationRepo.InsertRemediation(ctx, rem))

	remediations, err := curationRepo.ListRemediationsForAlert(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, remediations, 1)
	require.Equal(t, "remove", remediations[0].Status)

	comment := &curation.Comment{
		AlertID:    alertID,
		UserID:     sql.NullInt64{Int64: user.ID, Valid: true},
		Comment:    "confirmed delivery to 3 mailboxes",
		InsertDate: time.Now(),
	}
	require.NoError(t, curationRepo.InsertComment(ctx, comment))

	comments, err := curationRepo.ListCommentsForAlert(ctx, alertID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	require.Contains(t, comments[0].Comment, "confirmed delivery")
}
