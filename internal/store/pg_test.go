package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

var workflowCols = []string{
	"id", "finding_id", "resource_type", "resource_id", "workflow_type", "status",
	"decision", "scheduled_for", "approval", "canary", "health_report",
	"execution_result", "error", "created_at", "updated_at",
}

func workflowRow(t *testing.T, w models.Workflow) []driverValueSlice {
	t.Helper()
	decision, err := json.Marshal(w.Decision)
	require.NoError(t, err)
	var approval []byte
	if w.Approval != nil {
		approval, err = json.Marshal(w.Approval)
		require.NoError(t, err)
	}
	return []driverValueSlice{{
		w.ID.String(), w.FindingID, w.ResourceType, w.ResourceID,
		string(w.WorkflowType), string(w.Status),
		decision, nil, approval, nil, nil, nil, w.Error, w.CreatedAt, w.UpdatedAt,
	}}
}

type driverValueSlice []interface{}

func addRows(rows *sqlmock.Rows, data []driverValueSlice) *sqlmock.Rows {
	for _, r := range data {
		vals := make([]driver.Value, len(r))
		for i, v := range r {
			vals[i] = v
		}
		rows = rows.AddRow(vals...)
	}
	return rows
}

func TestPGStoreCreateAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPGStore(db)
	w := sampleWorkflow()
	w.Approval.WorkflowID = w.ID

	mock.ExpectExec("INSERT INTO workflows").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := s.Create(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, w.ID, created.ID)

	rows := addRows(sqlmock.NewRows(workflowCols), workflowRow(t, created))
	mock.ExpectQuery("FROM workflows WHERE id").
		WithArgs(created.ID).
		WillReturnRows(rows)

	got, err := s.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.FindingID, got.FindingID)
	assert.Equal(t, created.Status, got.Status)
	require.NotNil(t, got.Approval)
	assert.Equal(t, models.ApprovalPending, got.Approval.Status)
	assert.Equal(t, created.Decision.Reasons, got.Decision.Reasons)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM workflows WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(workflowCols))

	_, err = NewPGStore(db).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreUpdateMissingWorkflow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE workflows SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = NewPGStore(db).Update(context.Background(), sampleWorkflow())
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := sampleWorkflow()
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt

	rows := addRows(sqlmock.NewRows(workflowCols), workflowRow(t, w))
	mock.ExpectQuery("WHERE status NOT IN").
		WillReturnRows(rows)

	active, err := NewPGStore(db).ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, w.ID, active[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreListPendingApprovals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := sampleWorkflow()
	approval, err := json.Marshal(w.Approval)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT approval FROM workflows").
		WillReturnRows(sqlmock.NewRows([]string{"approval"}).AddRow(approval))

	pending, err := NewPGStore(db).ListPendingApprovals(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, w.Approval.ID, pending[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
