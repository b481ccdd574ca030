package ingest

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oskimark/snifer-mac/internal/adapters/csvfile"
	"github.com/Oskimark/snifer-mac/internal/adapters/postgres"
	"github.com/Oskimark/snifer-mac/internal/ports/portstest"
)

func TestIngestAgainstPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	router := NewStoreRouter(postgres.NewDetectionStore(db), csvfile.NewFallbackStore(t.TempDir(), ""), TriggerNoSuccess, portstest.NewObs())
	svc := NewService(router, portstest.NewObs(), WithClock(func() time.Time { return now }))

	mock.MatchExpectationsInOrder(true)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS vendors").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS detections").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS nodes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS detections_created_at_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS detections_mac_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS detections_nodo_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT oui, vendor_name FROM vendors WHERE oui = ANY($1)")).
		WithArgs(`{"012233","AABBCC"}`).
		WillReturnRows(sqlmock.NewRows([]string{"oui", "vendor_name"}).AddRow("AABBCC", "Acme"))

	for i, mac := range []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"} {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO detections").
			WithArgs("Node1", mac, -40, "fp", "Acme", "", now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(i + 1)))
		mock.ExpectExec("INSERT INTO nodes").
			WithArgs("Node1", sqlmock.AnyArg(), sqlmock.AnyArg(), "mesh", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	res, err := svc.Ingest(context.Background(), []byte(`[
		{"nodo":"Node1","mac":"AA:BB:CC:DD:EE:01","rssi":-40,"fingerprint":"fp"},
		{"nodo":"Node1","mac":"01:22:33:44:55:66","rssi":-40,"fingerprint":"fp"},
		{"nodo":"Node1","mac":"AA:BB:CC:DD:EE:02","rssi":-40,"fingerprint":"fp"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, int64(2), res.Outcomes[2].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
