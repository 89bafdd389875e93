package services

import (
	"testing"

	"github.com/dukex/journey/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionRun(t *testing.T) {
	tests := []struct {
		name     string
		from     models.RunStatus
		trigger  runTrigger
		expected models.RunStatus
		wantErr  bool
	}{
		{"complete running run", models.RunStatusRunning, triggerComplete, models.RunStatusCompleted, false},
		{"fail running run", models.RunStatusRunning, triggerFail, models.RunStatusFailed, false},
		{"abandon running run", models.RunStatusRunning, triggerAbandon, models.RunStatusAbandoned, false},
		{"completed never reopens", models.RunStatusCompleted, triggerFail, models.RunStatusCompleted, true},
		{"failed cannot complete", models.RunStatusFailed, triggerComplete, models.RunStatusFailed, true},
		{"abandoned cannot be abandoned again", models.RunStatusAbandoned, triggerAbandon, models.RunStatusAbandoned, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &models.Run{Status: tt.from}

			err := transitionRun(run, tt.trigger)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRunNotRunning)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.expected, run.Status)
		})
	}
}
