package runtime

import (
	"fmt"

	"github.com/quarrio/quarry/types"
)

// Exit codes the bundled executor promises to use; see executor/bundle.
const (
	ExitCodeCompleted    = 0
	ExitCodeError        = 1
	ExitCodeCrash        = 2
	ExitCodeInvalidInput = 3
)

// exitStatusTable maps an executor exit code to the outcome category it
// implies on its own, before any run_result/terminal-event corroboration.
// Codes outside this table fall back to a crash classification.
var exitStatusTable = map[int]types.OutcomeStatus{
	ExitCodeCompleted:    types.OutcomeSuccess,
	ExitCodeError:        types.OutcomeScriptError,
	ExitCodeCrash:        types.OutcomeExecutorCrash,
	ExitCodeInvalidInput: types.OutcomeExecutorCrash,
}

// outcomeFromExitCode returns the outcome category an exit code implies
// in isolation. Exit codes are authoritative over whatever a run_result
// frame or terminal event claims; see RunOrchestrator.Execute.
func outcomeFromExitCode(exitCode int) types.OutcomeStatus {
	if status, ok := exitStatusTable[exitCode]; ok {
		return status
	}
	return types.OutcomeExecutorCrash
}

// DetermineOutcome classifies a run when no run_result control frame
// arrived, falling back to the exit code corroborated by whichever
// terminal event (run_complete/run_error) was actually observed.
func DetermineOutcome(exitCode int, hasTerminal bool, terminal *types.EventEnvelope) *types.RunOutcome {
	switch exitCode {
	case ExitCodeCompleted:
		if hasTerminal && terminal.Type == types.EventTypeRunComplete {
			return &types.RunOutcome{Status: types.OutcomeSuccess, Message: "run completed successfully"}
		}
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: "executor exited cleanly without terminal event"}

	case ExitCodeError:
		if hasTerminal && terminal.Type == types.EventTypeRunError {
			return scriptErrorOutcome(terminal)
		}
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: "executor exited with error without terminal event"}

	case ExitCodeCrash:
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: "executor crashed"}

	case ExitCodeInvalidInput:
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: "executor rejected invalid input"}

	default:
		return &types.RunOutcome{Status: types.OutcomeExecutorCrash, Message: fmt.Sprintf("executor exited with unexpected code %d", exitCode)}
	}
}

// scriptErrorOutcome lifts the message/error_type/stack fields a
// run_error event carries in its payload into a RunOutcome.
func scriptErrorOutcome(event *types.EventEnvelope) *types.RunOutcome {
	outcome := &types.RunOutcome{Status: types.OutcomeScriptError, Message: "script error"}
	if event.Payload == nil {
		return outcome
	}
	if msg, ok := event.Payload["message"].(string); ok {
		outcome.Message = msg
	}
	if errType, ok := event.Payload["error_type"].(string); ok {
		outcome.ErrorType = &errType
	}
	if stack, ok := event.Payload["stack"].(string); ok {
		outcome.Stack = &stack
	}
	return outcome
}
