package orchestrator

import (
	"errors"

	"github.com/xkilldash9x/otp-board/internal/board/client"
	"github.com/xkilldash9x/otp-board/internal/browser/session"
)

var (
	// ErrChallengeBlocked means the anti-bot interstitial never cleared, even
	// in a visible browser. Fatal to the job.
	ErrChallengeBlocked = errors.New("anti-bot challenge did not clear")
	// ErrElementNotFound is wrapped with the name of the missing control.
	// Fatal to the job.
	ErrElementNotFound = errors.New("element not found")

	// ErrOtpTimeout means no code was relayed in time. Fatal to the job.
	ErrOtpTimeout = client.ErrOtpTimeout
	// ErrTransientCollaborator is a job fetch that timed out twice. Fatal to
	// the loop.
	ErrTransientCollaborator = client.ErrTransientCollaborator
	// ErrDriverFatal is a browser that failed to start or died. It ends the
	// loop.
	ErrDriverFatal = session.ErrDriverFatal
)
