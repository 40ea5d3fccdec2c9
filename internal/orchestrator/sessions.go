package orchestrator

import (
	"context"
	"time"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/session"
)

// Browser is one live browser session the orchestrator drives.
type Browser interface {
	dom.Page
	ID() string
	Headless() bool
	Alive() bool
	Snapshot(ctx context.Context, tag string)
}

// Sessions creates and disposes of browser sessions.
type Sessions interface {
	Create(ctx context.Context, headless bool) (Browser, error)
	Destroy(b Browser)
}

// Board is the collaborator that queues jobs and relays codes.
type Board interface {
	NextJob(ctx context.Context) (*schemas.LoginJob, error)
	WaitForOTP(ctx context.Context, phone string, interval, timeout time.Duration) (schemas.OtpCode, error)
	MarkOtpUsed(ctx context.Context, id int64)
	ReportStatus(ctx context.Context, jobID int64, status schemas.JobStatus)
}

type managerSessions struct {
	m *session.Manager
}

// FromManager adapts a chromedp session manager.
func FromManager(m *session.Manager) Sessions {
	return managerSessions{m: m}
}

func (s managerSessions) Create(ctx context.Context, headless bool) (Browser, error) {
	sess, err := s.m.Create(ctx, headless)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s managerSessions) Destroy(b Browser) {
	if sess, ok := b.(*session.Session); ok {
		s.m.Destroy(sess)
	}
}
