package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/dom/domtest"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
	"github.com/xkilldash9x/otp-board/internal/browser/login"
	"github.com/xkilldash9x/otp-board/internal/board/client"
	"github.com/xkilldash9x/otp-board/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- portal fixtures --

const (
	infoPage = `<html><head><title>זימון תור</title></head><body>
		<button id="continue_1870_29">המשך</button></body></html>`
	blockedPage = `<html><head><title>Radware Bot Manager</title></head><body>
		<p>Verifying your browser</p></body></html>`
	phonePage = `<html><body><form>
		<input id="tel" type="tel"><button id="get">קבלת קוד</button></form></body></html>`
	otpPage = `<html><body><form id="f">
		<input id="otp" autocomplete="one-time-code"><button id="login">התחברות</button></form></body></html>`
	segmentedOtpPage = `<html><body>
		<input id="d1" type="tel" maxlength="1"><input id="d2" type="tel" maxlength="1">
		<input id="d3" type="tel" maxlength="1"><input id="d4" type="tel" maxlength="1">
		<input id="d5" type="tel" maxlength="1"><input id="d6" type="tel" maxlength="1">
		</body></html>`
	calendarPage = `<html><body><h2>בחירת תאריך</h2>
		<button id="day-2" aria-label="2 בספטמבר" aria-pressed="true">2</button>
		<ul><li>09:00</li><li>09:30</li></ul></body></html>`
)

// fakeBrowser walks through the portal pages as controls are clicked.
type fakeBrowser struct {
	*domtest.Page
	id       string
	headless bool
	blocked  bool
	info     string

	mu        sync.Mutex
	dead      bool
	snapshots []string
}

func newFakeBrowser(id string, headless, blocked bool) *fakeBrowser {
	b := &fakeBrowser{Page: domtest.New(infoPage), id: id, headless: headless, blocked: blocked, info: infoPage}
	b.OnClick("continue_1870_29", func(p *domtest.Page) { p.SetHTML(dom.MainFrame, phonePage) })
	b.OnClick("get", func(p *domtest.Page) {
		p.SetURL("https://portal.test/he/auth/verify")
		p.SetHTML(dom.MainFrame, otpPage)
	})
	b.OnClick("login", func(p *domtest.Page) {
		p.SetURL("https://portal.test/he/app/appointment")
		p.SetHTML(dom.MainFrame, calendarPage)
	})
	return b
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	if err := b.Page.Navigate(ctx, url); err != nil {
		return err
	}
	if b.blocked {
		b.SetHTML(dom.MainFrame, blockedPage)
	} else {
		b.SetHTML(dom.MainFrame, b.info)
	}
	return nil
}

func (b *fakeBrowser) ID() string     { return b.id }
func (b *fakeBrowser) Headless() bool { return b.headless }

func (b *fakeBrowser) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.dead
}

func (b *fakeBrowser) kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead = true
}

func (b *fakeBrowser) Snapshot(_ context.Context, tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, tag)
}

func (b *fakeBrowser) Snapshots() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.snapshots...)
}

// fakeSessions hands out fake browsers and records their lifecycle.
type fakeSessions struct {
	blockedHeadless bool
	blockedVisible  bool
	failVisible     bool
	onCreate        func(*fakeBrowser)

	mu        sync.Mutex
	creates   []bool
	destroyed []string
	browsers  []*fakeBrowser
}

func (s *fakeSessions) Create(_ context.Context, headless bool) (Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, headless)
	if !headless && s.failVisible {
		return nil, fmt.Errorf("launch: %w", ErrDriverFatal)
	}
	blocked := s.blockedVisible
	if headless {
		blocked = s.blockedHeadless
	}
	b := newFakeBrowser(fmt.Sprintf("b%d", len(s.creates)), headless, blocked)
	if s.onCreate != nil {
		s.onCreate(b)
	}
	s.browsers = append(s.browsers, b)
	return b, nil
}

func (s *fakeSessions) Destroy(b Browser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append(s.destroyed, b.ID())
}

var errDrained = errors.New("queue drained")

type report struct {
	id     int64
	status schemas.JobStatus
}

// fakeBoard serves a fixed queue and fails the fetch once it is empty.
type fakeBoard struct {
	otpErr  map[string]error
	blockOn string
	waiting chan struct{}

	mu      sync.Mutex
	queue   []*schemas.LoginJob
	reports []report
	used    []int64
}

func (b *fakeBoard) NextJob(ctx context.Context) (*schemas.LoginJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, errDrained
	}
	job := b.queue[0]
	b.queue = b.queue[1:]
	return job, nil
}

func (b *fakeBoard) WaitForOTP(ctx context.Context, phone string, _, _ time.Duration) (schemas.OtpCode, error) {
	if phone == b.blockOn {
		close(b.waiting)
		<-ctx.Done()
		return schemas.OtpCode{}, ctx.Err()
	}
	if err := b.otpErr[phone]; err != nil {
		return schemas.OtpCode{}, err
	}
	return schemas.OtpCode{ID: 100, Phone: phone, Code: "482913"}, nil
}

func (b *fakeBoard) MarkOtpUsed(_ context.Context, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = append(b.used, id)
}

func (b *fakeBoard) ReportStatus(ctx context.Context, jobID int64, status schemas.JobStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, report{jobID, status})
}

func (b *fakeBoard) Reports() []report {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]report(nil), b.reports...)
}

// -- helpers --

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Browser.Headless = true
	cfg.Challenge.HeadlessTimeout = 50 * time.Millisecond
	cfg.Challenge.VisibleTimeout = 50 * time.Millisecond
	cfg.Challenge.PollInterval = 10 * time.Millisecond
	cfg.OTP.EntryTimeout = 200 * time.Millisecond
	cfg.Board.IdlePoll = 10 * time.Millisecond
	cfg.Slots.Scan = true
	cfg.Slots.Deep = false
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, sessions Sessions, board Board) *Orchestrator {
	t.Helper()
	o, err := New(cfg, zaptest.NewLogger(t), sessions, board,
		WithLoginTimeouts(login.Timeouts{
			Continue: 200 * time.Millisecond,
			Phone:    200 * time.Millisecond,
			Trigger:  200 * time.Millisecond,
			Interval: 10 * time.Millisecond,
		}),
		WithLocatorOptions(locator.WithTypeDelay(0)),
		WithConfirmSettle(50*time.Millisecond),
	)
	require.NoError(t, err)
	return o
}

func job(id int64, phone string) *schemas.LoginJob {
	return &schemas.LoginJob{ID: id, Phone: phone, Status: schemas.JobProcessing}
}

// -- tests --

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(nil, zaptest.NewLogger(t), &fakeSessions{}, &fakeBoard{})
	assert.Error(t, err)
	_, err = New(testConfig(), zaptest.NewLogger(t), nil, &fakeBoard{})
	assert.Error(t, err)
}

func TestRun_HappyPath(t *testing.T) {
	sessions := &fakeSessions{}
	board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567")}}
	o := newTestOrchestrator(t, testConfig(), sessions, board)

	err := o.Run(context.Background())

	require.ErrorIs(t, err, errDrained, "fetch failure ends the worker")
	assert.Equal(t, []report{{1, schemas.JobDone}}, board.Reports())
	assert.Equal(t, []int64{100}, board.used)
	assert.Equal(t, []bool{true}, sessions.creates)
	assert.Equal(t, []string{"b1"}, sessions.destroyed, "browser is torn down on exit")

	b := sessions.browsers[0]
	typed := map[string]string{}
	for _, a := range b.Actions() {
		if a.Kind == "type" {
			typed[a.Target] += a.Value
		}
	}
	assert.Equal(t, map[string]string{"tel": "0501234567", "otp": "482913"}, typed)
	clicks := b.ActionsOf("click")
	require.GreaterOrEqual(t, len(clicks), 3)
	assert.Equal(t, []string{"continue_1870_29", "get"}, clicks[:2])
	assert.Equal(t, "login", clicks[len(clicks)-1])
	assert.Equal(t, []string{"after_open", "done"}, b.Snapshots())
}

func TestRun_OtpTimeoutDoesNotStopTheLoop(t *testing.T) {
	sessions := &fakeSessions{}
	board := &fakeBoard{
		queue:  []*schemas.LoginJob{job(1, "0500000001"), job(2, "0500000002")},
		otpErr: map[string]error{"0500000001": fmt.Errorf("%w after 240s", client.ErrOtpTimeout)},
	}
	o := newTestOrchestrator(t, testConfig(), sessions, board)

	err := o.Run(context.Background())

	require.ErrorIs(t, err, errDrained)
	assert.Equal(t, []report{{1, schemas.JobFailed}, {2, schemas.JobDone}}, board.Reports())
	assert.Equal(t, []int64{100}, board.used, "only the successful job consumes a code")
	assert.Len(t, sessions.creates, 1, "the browser is reused across jobs")
}

func TestRun_TypedCodeIsAlwaysMarkedUsed(t *testing.T) {
	t.Run("confirmation never happens", func(t *testing.T) {
		sessions := &fakeSessions{onCreate: func(b *fakeBrowser) {
			b.OnClick("get", func(p *domtest.Page) {
				p.SetURL("https://portal.test/he/auth/verify")
				p.SetHTML(dom.MainFrame, segmentedOtpPage)
			})
		}}
		board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567")}}
		o := newTestOrchestrator(t, testConfig(), sessions, board)

		err := o.Run(context.Background())

		require.ErrorIs(t, err, errDrained)
		assert.Equal(t, []report{{1, schemas.JobFailed}}, board.Reports())
		assert.Equal(t, []int64{100}, board.used, "the portal saw the code")
		assert.Contains(t, sessions.browsers[0].Snapshots(), "no_login_button")
	})

	t.Run("portal submits on the last digit", func(t *testing.T) {
		sessions := &fakeSessions{onCreate: func(b *fakeBrowser) {
			// The widget has already redirected by the time confirmation runs.
			b.OnClick("get", func(p *domtest.Page) {
				p.SetURL("https://portal.test/he/app/appointment")
				p.SetHTML(dom.MainFrame, segmentedOtpPage)
			})
		}}
		board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567")}}
		o := newTestOrchestrator(t, testConfig(), sessions, board)

		err := o.Run(context.Background())

		require.ErrorIs(t, err, errDrained)
		assert.Equal(t, []report{{1, schemas.JobDone}}, board.Reports())
		assert.Equal(t, []int64{100}, board.used)
		assert.Equal(t, []string{"continue_1870_29", "get"}, sessions.browsers[0].ActionsOf("click"))
	})
}

func TestRun_EscalatesToVisibleExactlyOnce(t *testing.T) {
	sessions := &fakeSessions{blockedHeadless: true}
	board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567"), job(2, "0507654321")}}
	o := newTestOrchestrator(t, testConfig(), sessions, board)

	err := o.Run(context.Background())

	require.ErrorIs(t, err, errDrained)
	assert.Equal(t, []bool{true, false}, sessions.creates, "second job keeps the visible browser")
	assert.Equal(t, []string{"b1", "b2"}, sessions.destroyed)
	assert.Equal(t, []report{{1, schemas.JobDone}, {2, schemas.JobDone}}, board.Reports())
	assert.Equal(t, []string{"after_open"}, sessions.browsers[0].Snapshots())
	assert.Contains(t, sessions.browsers[1].Snapshots(), "after_open_visible")
}

func TestRun_ChallengeStillBlockedWhenVisible(t *testing.T) {
	t.Run("after escalation", func(t *testing.T) {
		sessions := &fakeSessions{blockedHeadless: true, blockedVisible: true}
		board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567")}}
		o := newTestOrchestrator(t, testConfig(), sessions, board)

		err := o.Run(context.Background())

		require.ErrorIs(t, err, errDrained)
		assert.Equal(t, []bool{true, false}, sessions.creates)
		assert.Equal(t, []report{{1, schemas.JobFailed}}, board.Reports())
		assert.Contains(t, sessions.browsers[1].Snapshots(), "radware_stuck")
	})

	t.Run("already visible", func(t *testing.T) {
		cfg := testConfig()
		cfg.Browser.Headless = false
		sessions := &fakeSessions{blockedVisible: true}
		board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567")}}
		o := newTestOrchestrator(t, cfg, sessions, board)

		err := o.Run(context.Background())

		require.ErrorIs(t, err, errDrained)
		assert.Equal(t, []bool{false}, sessions.creates, "no rebuild for a visible browser")
		assert.Equal(t, []report{{1, schemas.JobFailed}}, board.Reports())
	})
}

func TestOpenWithBypass(t *testing.T) {
	ctx := context.Background()

	t.Run("clear page keeps the session", func(t *testing.T) {
		sessions := &fakeSessions{}
		o := newTestOrchestrator(t, testConfig(), sessions, &fakeBoard{})
		b := newFakeBrowser("mine", true, false)

		got, err := o.openWithBypass(ctx, b, o.logger)
		require.NoError(t, err)
		assert.Same(t, b, got)
		assert.Empty(t, sessions.creates)
	})

	t.Run("blocked visible session fails without rebuild", func(t *testing.T) {
		sessions := &fakeSessions{}
		o := newTestOrchestrator(t, testConfig(), sessions, &fakeBoard{})
		b := newFakeBrowser("mine", false, true)

		got, err := o.openWithBypass(ctx, b, o.logger)
		require.ErrorIs(t, err, ErrChallengeBlocked)
		assert.Same(t, b, got)
		assert.Empty(t, sessions.creates)
	})

	t.Run("replacement launch failure", func(t *testing.T) {
		sessions := &fakeSessions{failVisible: true}
		o := newTestOrchestrator(t, testConfig(), sessions, &fakeBoard{})
		b := newFakeBrowser("mine", true, true)

		got, err := o.openWithBypass(ctx, b, o.logger)
		require.ErrorIs(t, err, ErrDriverFatal)
		assert.Nil(t, got)
		assert.Equal(t, []string{"mine"}, sessions.destroyed)
	})
}

func TestRun_DriverFatalPropagates(t *testing.T) {
	sessions := &fakeSessions{onCreate: func(b *fakeBrowser) {
		b.kill()
		b.info = `<html><body></body></html>`
	}}
	board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567"), job(2, "0507654321")}}
	o := newTestOrchestrator(t, testConfig(), sessions, board)

	err := o.Run(context.Background())

	require.ErrorIs(t, err, ErrDriverFatal)
	assert.NotErrorIs(t, err, errDrained)
	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.Equal(t, []report{{1, schemas.JobFailed}}, board.Reports(), "second job is never claimed")
	assert.Equal(t, []string{"b1"}, sessions.destroyed)
}

func TestRun_MissingControlFailsOnlyTheJob(t *testing.T) {
	sessions := &fakeSessions{onCreate: func(b *fakeBrowser) {
		b.info = `<html><body><button id="other">המשך</button></body></html>`
	}}
	board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567"), job(2, "0507654321")}}
	o := newTestOrchestrator(t, testConfig(), sessions, board)

	err := o.Run(context.Background())

	require.ErrorIs(t, err, errDrained)
	assert.Equal(t, []report{{1, schemas.JobFailed}, {2, schemas.JobFailed}}, board.Reports())
	assert.Empty(t, board.used)
	assert.Contains(t, sessions.browsers[0].Snapshots(), "no_continue_button")
	assert.Len(t, sessions.creates, 1)
}

func TestRun_CreateFails(t *testing.T) {
	cfg := testConfig()
	cfg.Browser.Headless = false
	sessions := &fakeSessions{failVisible: true}
	board := &fakeBoard{queue: []*schemas.LoginJob{job(1, "0501234567")}}
	o := newTestOrchestrator(t, cfg, sessions, board)

	err := o.Run(context.Background())

	require.ErrorIs(t, err, ErrDriverFatal)
	assert.Empty(t, board.Reports())
	assert.Empty(t, sessions.destroyed)
}

func TestRun_CancelDuringJob(t *testing.T) {
	sessions := &fakeSessions{}
	board := &fakeBoard{
		queue:   []*schemas.LoginJob{job(1, "0501234567")},
		blockOn: "0501234567",
		waiting: make(chan struct{}),
	}
	o := newTestOrchestrator(t, testConfig(), sessions, board)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case <-board.waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the OTP wait")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean stop")
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	assert.Equal(t, []report{{1, schemas.JobFailed}}, board.Reports())
	assert.Equal(t, []string{"b1"}, sessions.destroyed)
}

func TestRun_IdleQueuePollsUntilCancelled(t *testing.T) {
	board := &idleBoard{fakeBoard: &fakeBoard{}}
	o := newTestOrchestrator(t, testConfig(), &fakeSessions{}, board)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	require.NoError(t, o.Run(ctx))
	assert.Greater(t, board.calls, 1)
}

// idleBoard always reports an empty queue.
type idleBoard struct {
	*fakeBoard
	calls int
}

func (b *idleBoard) NextJob(ctx context.Context) (*schemas.LoginJob, error) {
	b.calls++
	return nil, nil
}
