package privacy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPropagationObligation(t *testing.T) {
	requestID := uuid.New()
	future := time.Now().Add(72 * time.Hour)

	tests := []struct {
		name      string
		requestID uuid.UUID
		subjectID string
		target    ObligationTarget
		deadline  time.Time
		wantErr   bool
		errCode   string
	}{
		{name: "backups", requestID: requestID, subjectID: "subj-7001", target: TargetBackups, deadline: future},
		{name: "replicas", requestID: requestID, subjectID: "subj-7001", target: TargetReplicas, deadline: future},
		{name: "downstream processor", requestID: requestID, subjectID: "subj-7001", target: TargetProcessor, deadline: future},
		{name: "nil request", requestID: uuid.Nil, subjectID: "subj-7001", target: TargetBackups, deadline: future, wantErr: true, errCode: "INVALID_REQUEST"},
		{name: "empty subject", requestID: requestID, subjectID: " ", target: TargetBackups, deadline: future, wantErr: true, errCode: "INVALID_SUBJECT"},
		{name: "unknown target", requestID: requestID, subjectID: "subj-7001", target: ObligationTarget("cloud"), deadline: future, wantErr: true, errCode: "INVALID_TARGET"},
		{name: "past deadline", requestID: requestID, subjectID: "subj-7001", target: TargetBackups, deadline: time.Now().Add(-time.Hour), wantErr: true, errCode: "INVALID_DEADLINE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obligation, err := NewPropagationObligation(tt.requestID, tt.subjectID, tt.target, tt.deadline)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ObligationPending, obligation.Status)
			assert.True(t, obligation.IsOpen())
		})
	}
}

func TestObligationVerify(t *testing.T) {
	deadline := time.Now().Add(72 * time.Hour)

	t.Run("verify pending", func(t *testing.T) {
		obligation, err := NewPropagationObligation(uuid.New(), "subj-7002", TargetBackups, deadline)
		require.NoError(t, err)

		now := time.Now()
		require.NoError(t, obligation.Verify("backup-operator", now))
		assert.Equal(t, ObligationVerified, obligation.Status)
		assert.Equal(t, "backup-operator", obligation.VerifiedBy)
		require.NotNil(t, obligation.VerifiedAt)
		assert.False(t, obligation.IsOpen())
	})

	t.Run("verify after overdue", func(t *testing.T) {
		obligation, err := NewPropagationObligation(uuid.New(), "subj-7003", TargetReplicas, deadline)
		require.NoError(t, err)

		afterDeadline := deadline.Add(time.Hour)
		require.NoError(t, obligation.MarkOverdue(afterDeadline))
		assert.Equal(t, ObligationOverdue, obligation.Status)
		assert.True(t, obligation.IsOpen())

		require.NoError(t, obligation.Verify("replica-operator", afterDeadline.Add(time.Hour)))
		assert.Equal(t, ObligationVerified, obligation.Status)
		// Lateness stays visible.
		assert.True(t, obligation.VerifiedAt.After(obligation.Deadline))
	})

	t.Run("cannot verify twice", func(t *testing.T) {
		obligation, err := NewPropagationObligation(uuid.New(), "subj-7004", TargetBackups, deadline)
		require.NoError(t, err)
		require.NoError(t, obligation.Verify("op", time.Now()))

		err = obligation.Verify("op", time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ALREADY_VERIFIED")
	})

	t.Run("requires an actor", func(t *testing.T) {
		obligation, err := NewPropagationObligation(uuid.New(), "subj-7005", TargetBackups, deadline)
		require.NoError(t, err)

		err = obligation.Verify("", time.Now())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "INVALID_ACTOR")
		assert.Equal(t, ObligationPending, obligation.Status)
	})
}

func TestObligationMarkOverdue(t *testing.T) {
	deadline := time.Now().Add(24 * time.Hour)
	obligation, err := NewPropagationObligation(uuid.New(), "subj-7006", TargetProcessor, deadline)
	require.NoError(t, err)

	t.Run("before deadline", func(t *testing.T) {
		err := obligation.MarkOverdue(deadline.Add(-time.Minute))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DEADLINE_NOT_PASSED")
	})

	t.Run("after deadline", func(t *testing.T) {
		require.NoError(t, obligation.MarkOverdue(deadline.Add(time.Minute)))
		assert.Equal(t, ObligationOverdue, obligation.Status)
	})

	t.Run("only pending can become overdue", func(t *testing.T) {
		err := obligation.MarkOverdue(deadline.Add(time.Hour))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NOT_PENDING")
	})
}
