package services

import (
	"fmt"

	"github.com/dukex/journey/pkg/models"
	"github.com/qmuntal/stateless"
)

type runTrigger string

const (
	triggerComplete runTrigger = "complete"
	triggerFail     runTrigger = "fail"
	triggerAbandon  runTrigger = "abandon"
)

// newRunStateMachine encodes the only legal run transitions: running to one of the
// terminal statuses. Terminal statuses permit nothing.
func newRunStateMachine(status models.RunStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)

	sm.Configure(models.RunStatusRunning).
		Permit(triggerComplete, models.RunStatusCompleted).
		Permit(triggerFail, models.RunStatusFailed).
		Permit(triggerAbandon, models.RunStatusAbandoned)

	sm.Configure(models.RunStatusCompleted)
	sm.Configure(models.RunStatusFailed)
	sm.Configure(models.RunStatusAbandoned)

	return sm
}

// transitionRun fires trigger against the run's status and stores the resulting status.
func transitionRun(run *models.Run, trigger runTrigger) error {
	sm := newRunStateMachine(run.Status)

	if err := sm.Fire(trigger); err != nil {
		return fmt.Errorf("%w: cannot %s a %s run", ErrRunNotRunning, trigger, run.Status)
	}

	status, ok := sm.MustState().(models.RunStatus)
	if !ok {
		return fmt.Errorf("%w: unexpected state %v", ErrRunNotRunning, sm.MustState())
	}

	run.Status = status

	return nil
}
