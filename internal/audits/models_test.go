package audits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditoria/internal/calendar"
	dErrors "auditoria/pkg/domain-errors"
)

func TestParsePeriod(t *testing.T) {
	t.Run("canonical form", func(t *testing.T) {
		p, err := ParsePeriod("2025-06")
		require.NoError(t, err)
		assert.Equal(t, 2025, p.Year)
		assert.Equal(t, time.June, p.Month)
		assert.Equal(t, "2025-06", p.String())
	})

	t.Run("malformed period is a validation error", func(t *testing.T) {
		for _, raw := range []string{"", "2025", "06-2025", "2025-13", "2025/06"} {
			_, err := ParsePeriod(raw)
			require.Error(t, err, raw)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), raw)
		}
	})
}

func TestStateOrdering(t *testing.T) {
	ordered := []State{StateProgramada, StateEnCarga, StatePendienteEvaluacion, StateEvaluada, StateCerrada}
	for i, s := range ordered {
		assert.Equal(t, i, s.Order())
		assert.True(t, s.Valid())
	}
	assert.Equal(t, -1, State("borrador").Order())
	assert.False(t, State("borrador").Valid())
	assert.True(t, StateCerrada.IsTerminal())
	assert.False(t, StateEvaluada.IsTerminal())
}

func TestParseState(t *testing.T) {
	s, err := ParseState("en_carga")
	require.NoError(t, err)
	assert.Equal(t, StateEnCarga, s)

	_, err = ParseState("unknown")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestDeadlinePassed(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	audit := &Audit{
		State:          StateEnCarga,
		UploadDeadline: calendar.MustParseDay("2025-06-10"),
	}

	// The whole deadline day still accepts uploads.
	onDeadline := time.Date(2025, time.June, 10, 23, 0, 0, 0, bogota)
	assert.False(t, audit.DeadlinePassed(onDeadline, bogota))
	assert.True(t, audit.InUploadWindow(onDeadline, bogota))

	dayAfter := time.Date(2025, time.June, 11, 0, 0, 1, 0, bogota)
	assert.True(t, audit.DeadlinePassed(dayAfter, bogota))
	assert.False(t, audit.InUploadWindow(dayAfter, bogota))
}

func TestValidateScore(t *testing.T) {
	assert.NoError(t, ValidateScore(nil))
	for _, ok := range []int{0, 50, 100} {
		score := ok
		assert.NoError(t, ValidateScore(&score))
	}
	for _, bad := range []int{-1, 101, 1000} {
		score := bad
		err := ValidateScore(&score)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	}
}
