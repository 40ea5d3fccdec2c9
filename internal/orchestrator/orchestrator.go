// File: internal/orchestrator/orchestrator.go
// Description: Runs login jobs one at a time through the portal: open past the
// anti-bot challenge, request an SMS code, enter the relayed code, fill the
// booking filters and log the offered slots.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/challenge"
	"github.com/xkilldash9x/otp-board/internal/browser/dom"
	"github.com/xkilldash9x/otp-board/internal/browser/form"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
	"github.com/xkilldash9x/otp-board/internal/browser/login"
	"github.com/xkilldash9x/otp-board/internal/browser/otpentry"
	"github.com/xkilldash9x/otp-board/internal/browser/session"
	"github.com/xkilldash9x/otp-board/internal/browser/slots"
	"github.com/xkilldash9x/otp-board/internal/config"
	"github.com/xkilldash9x/otp-board/internal/observability"
	"github.com/xkilldash9x/otp-board/internal/poll"
)

const defaultConfirmSettle = 10 * time.Second

// Orchestrator owns the browser session and processes jobs strictly in
// sequence.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	sessions Sessions
	board    Board
	detector *challenge.Detector
	metrics  *observability.Metrics

	loginTimeouts login.Timeouts
	confirmSettle time.Duration
	locatorOpts   []locator.Option
	now           func() time.Time

	// session is the only reference to the live browser. It changes when
	// openWithBypass escalates.
	session Browser
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records job and step counters.
func WithMetrics(m *observability.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithLoginTimeouts overrides the bounds of the login entry steps.
func WithLoginTimeouts(t login.Timeouts) Option { return func(o *Orchestrator) { o.loginTimeouts = t } }

// WithConfirmSettle sets how long to wait for the page to leave the
// verification URL after the code is submitted.
func WithConfirmSettle(d time.Duration) Option { return func(o *Orchestrator) { o.confirmSettle = d } }

// WithLocatorOptions configures the locator engine built for each job.
func WithLocatorOptions(opts ...locator.Option) Option {
	return func(o *Orchestrator) { o.locatorOpts = append(o.locatorOpts, opts...) }
}

// New creates an orchestrator. It does not start a browser until Run.
func New(cfg *config.Config, logger *zap.Logger, sessions Sessions, board Board, opts ...Option) (*Orchestrator, error) {
	if cfg == nil || logger == nil || sessions == nil || board == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:           cfg,
		logger:        logger.Named("orchestrator"),
		sessions:      sessions,
		board:         board,
		detector:      challenge.NewDetector(logger, cfg.Challenge.PollInterval),
		loginTimeouts: login.DefaultTimeouts(),
		confirmSettle: defaultConfirmSettle,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics(nil)
	}
	return o, nil
}

// Run starts a browser and processes jobs until ctx is cancelled, the job
// fetch fails, or the browser dies. Cancellation returns nil. The browser is
// always torn down before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Starting worker",
		zap.String("portal", o.cfg.Portal.URL),
		zap.Bool("headless", o.cfg.Browser.Headless),
	)

	sess, err := o.sessions.Create(ctx, o.cfg.Browser.Headless)
	if err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	o.session = sess
	defer func() {
		if o.session != nil {
			o.sessions.Destroy(o.session)
			o.session = nil
		}
	}()

	for {
		if ctx.Err() != nil {
			o.logger.Info("Worker stopping")
			return nil
		}

		job, err := o.board.NextJob(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching next job: %w", err)
		}
		if job == nil {
			if poll.Sleep(ctx, o.cfg.Board.IdlePoll) != nil {
				return nil
			}
			continue
		}

		if err := o.processJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// processJob runs one job and reports its outcome. Job failures are
// contained; only a dead browser or cancellation is returned.
func (o *Orchestrator) processJob(ctx context.Context, job *schemas.LoginJob) error {
	start := o.now()
	log := o.logger.With(zap.Int64("job_id", job.ID), zap.String("phone", job.Phone))
	log.Info("Job claimed")
	o.metrics.RecordClaim()

	err := o.pipeline(ctx, job, log)

	status := schemas.JobDone
	if err != nil {
		status = schemas.JobFailed
		log.Error("[FAIL] Job failed", zap.Error(err))
	} else {
		log.Info("[OK] Job done")
	}
	// Reports go out even when ctx was cancelled mid-job.
	o.board.ReportStatus(session.Detach(ctx), job.ID, status)
	o.metrics.RecordFinished(string(status), o.now().Sub(start).Seconds())

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDriverFatal):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return nil
	}
}

// step runs one named pipeline step. A failure while the browser is gone is
// promoted to ErrDriverFatal.
func (o *Orchestrator) step(ctx context.Context, log *zap.Logger, name string, fn func(context.Context) error) error {
	err := observability.Step(ctx, log, name, fn)
	if err == nil {
		return nil
	}
	o.metrics.RecordStepFailure(name)
	if !errors.Is(err, ErrDriverFatal) && o.session != nil && !o.session.Alive() {
		return fmt.Errorf("%s: %w (%w)", name, err, ErrDriverFatal)
	}
	return err
}

// missing snapshots the page and returns ErrElementNotFound for what.
func (o *Orchestrator) missing(ctx context.Context, tag, what string) error {
	o.session.Snapshot(ctx, tag)
	return fmt.Errorf("%s: %w", what, ErrElementNotFound)
}

func (o *Orchestrator) pipeline(ctx context.Context, job *schemas.LoginJob, log *zap.Logger) error {
	err := o.step(ctx, log, "open portal", func(ctx context.Context) error {
		sess, err := o.openWithBypass(ctx, o.session, log)
		o.session = sess
		return err
	})
	if err != nil {
		return err
	}

	page := o.session
	loc := locator.New(page, log, o.locatorOpts...)
	flow := login.New(loc, log, o.cfg.Portal.ContinueID, o.loginTimeouts)
	entry := otpentry.New(loc, log)
	filler := form.New(loc, log)

	if err := o.step(ctx, log, "click continue", func(ctx context.Context) error {
		if !flow.ClickContinue(ctx) {
			return o.missing(ctx, "no_continue_button", "continue control")
		}
		return nil
	}); err != nil {
		return err
	}

	var phoneField dom.Element
	if err := o.step(ctx, log, "find phone field", func(ctx context.Context) error {
		el, ok := flow.WaitPhoneField(ctx)
		if !ok {
			return o.missing(ctx, "no_phone_field", "phone field")
		}
		phoneField = el
		return nil
	}); err != nil {
		return err
	}

	if err := o.step(ctx, log, "send sms", func(ctx context.Context) error {
		if !flow.SendSms(ctx, phoneField, job.Phone) {
			return o.missing(ctx, "no_sms_button", "SMS trigger")
		}
		return nil
	}); err != nil {
		return err
	}

	var otp schemas.OtpCode
	if err := o.step(ctx, log, "wait otp", func(ctx context.Context) error {
		code, err := o.board.WaitForOTP(ctx, job.Phone, o.cfg.OTP.PollInterval, o.cfg.OTP.WaitTimeout)
		if err != nil {
			return err
		}
		otp = code
		log.Info("OTP received", zap.Int64("otp_id", otp.ID))
		return nil
	}); err != nil {
		return err
	}

	if err := o.step(ctx, log, "enter otp", func(ctx context.Context) error {
		if !entry.Enter(ctx, otp.Code, o.cfg.OTP.EntryTimeout) {
			return o.missing(ctx, "no_otp_fields", "OTP fields")
		}
		return nil
	}); err != nil {
		return err
	}
	// The portal has the code now; it must not be served to another job even
	// if confirmation fails.
	o.board.MarkOtpUsed(ctx, otp.ID)

	if err := o.step(ctx, log, "confirm login", func(ctx context.Context) error {
		if !entry.ConfirmLogin(ctx, o.confirmSettle) {
			return o.missing(ctx, "no_login_button", "login confirmation")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.step(ctx, log, "fill identity", func(ctx context.Context) error {
		if !filler.FillIdentity(ctx, job.Preferences.IDNumber) {
			return o.missing(ctx, "no_id_field", "identity number field")
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.step(ctx, log, "fill filters", func(ctx context.Context) error {
		filler.FillFilters(ctx, job.Preferences)
		return nil
	}); err != nil {
		return err
	}

	if o.cfg.Slots.Scan {
		scanner := slots.New(loc, log)
		if err := o.step(ctx, log, "scan slots", func(ctx context.Context) error {
			for report := range scanner.Scan(ctx, o.cfg.Slots.Deep, o.cfg.Slots.MaxDays) {
				log.Info(slots.Format(report))
				o.metrics.RecordSlots(len(report.Times))
			}
			return ctx.Err()
		}); err != nil {
			return err
		}
	}

	o.session.Snapshot(ctx, "done")
	return nil
}

// openWithBypass loads the portal in sess and waits for the anti-bot
// challenge to clear. A headless session that stays blocked is destroyed and
// replaced once by a visible one. The returned session is the one now in
// use, or nil when its replacement could not be started; callers must adopt
// it in place of sess.
func (o *Orchestrator) openWithBypass(ctx context.Context, sess Browser, log *zap.Logger) (Browser, error) {
	o.open(ctx, sess, log, "after_open")
	if o.detector.WaitUntilClear(ctx, sess, o.cfg.Challenge.HeadlessTimeout) {
		return sess, nil
	}
	if err := ctx.Err(); err != nil {
		return sess, err
	}
	if !sess.Headless() {
		sess.Snapshot(ctx, "radware_stuck")
		o.metrics.RecordChallengeBlocked()
		return sess, ErrChallengeBlocked
	}

	log.Warn("Challenge blocked the headless browser, relaunching visible")
	o.metrics.RecordEscalation()
	o.sessions.Destroy(sess)
	visible, err := o.sessions.Create(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("relaunching visible browser: %w", err)
	}

	o.open(ctx, visible, log, "after_open_visible")
	if !o.detector.WaitUntilClear(ctx, visible, o.cfg.Challenge.VisibleTimeout) {
		visible.Snapshot(ctx, "radware_stuck")
		o.metrics.RecordChallengeBlocked()
		if err := ctx.Err(); err != nil {
			return visible, err
		}
		return visible, ErrChallengeBlocked
	}
	return visible, nil
}

// open navigates to the portal. A slow or failed load is logged and left
// for the challenge wait to judge.
func (o *Orchestrator) open(ctx context.Context, sess Browser, log *zap.Logger, tag string) {
	if err := sess.Navigate(ctx, o.cfg.Portal.URL); err != nil {
		log.Warn("Portal load did not complete", zap.Error(err))
	}
	sess.Snapshot(ctx, tag)
}
