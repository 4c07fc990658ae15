package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kindred-org/kindred/pkg/models"
	"github.com/kindred-org/kindred/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("not found errors share the model root", func(t *testing.T) {
		assert.ErrorIs(t, persistence.ErrAutomationNotFound, models.ErrNotFound)
		assert.ErrorIs(t, persistence.ErrOnboardingNotFound, models.ErrNotFound)
	})

	t.Run("automation error unwraps", func(t *testing.T) {
		err := persistence.NewAutomationError("GetByID", "automation-123", persistence.ErrAutomationNotFound)

		assert.True(t, persistence.IsAutomationNotFound(err))
		assert.True(t, errors.Is(err, models.ErrNotFound))
		assert.Contains(t, err.Error(), "GetByID")
		assert.Contains(t, err.Error(), "automation-123")
		assert.Contains(t, err.Error(), "automation not found")
	})

	t.Run("claim rejections", func(t *testing.T) {
		assert.True(t, persistence.IsClaimRejected(persistence.ErrRunInProgress))
		assert.True(t, persistence.IsClaimRejected(fmt.Errorf("claim: %w", persistence.ErrClaimConflict)))
		assert.False(t, persistence.IsClaimRejected(persistence.ErrAutomationNotFound))
	})
}

func TestLogFilter_NormalizeLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, persistence.DefaultLogLimit, persistence.LogFilter{}.NormalizeLimit())
	assert.Equal(t, 5, persistence.LogFilter{Limit: 5}.NormalizeLimit())
	assert.Equal(t, persistence.DefaultLogLimit, persistence.LogFilter{Limit: 5000}.NormalizeLimit())
}
