package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/normalize"
)

// ErrNotFound is returned when an update names a row that does not exist.
var ErrNotFound = errors.New("not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store keeps the login queue and relayed OTP codes in PostgreSQL.
type Store struct {
	pool DBPool
	ttl  time.Duration
	now  func() time.Time
	log  *zap.Logger
}

// Connect opens a pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// New creates a new store instance and verifies the connection. Codes older
// than ttl are invisible to LatestOTP.
func New(ctx context.Context, pool DBPool, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newStore(pool, ttl, logger), nil
}

func newStore(pool DBPool, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		pool: pool,
		ttl:  ttl,
		now:  time.Now,
		log:  logger.Named("store"),
	}
}

const sqlEnqueue = `
    INSERT INTO login_queue (phone, payload, status, created_at, updated_at)
    VALUES ($1, $2, 'queued', $3, $3)
    RETURNING id;
`

// Enqueue queues a login job for phone and returns its id.
func (s *Store) Enqueue(ctx context.Context, phone string, prefs schemas.Preferences) (int64, error) {
	payload, err := json.Marshal(prefs)
	if err != nil {
		return 0, fmt.Errorf("failed to encode preferences: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, sqlEnqueue, normalize.Phone(phone), payload, s.now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue login job: %w", err)
	}
	s.log.Info("Login job queued", zap.Int64("job_id", id))
	return id, nil
}

const (
	sqlSelectQueued = `
        SELECT id, phone, payload, created_at
        FROM login_queue
        WHERE status = 'queued'
        ORDER BY created_at ASC, id ASC
        LIMIT 1
        FOR UPDATE SKIP LOCKED;
    `
	sqlMarkProcessing = `
        UPDATE login_queue SET status = 'processing', updated_at = $2 WHERE id = $1;
    `
)

// ClaimNext moves the oldest queued job to processing and returns it, or nil
// when nothing is queued. Concurrent callers never receive the same job.
func (s *Store) ClaimNext(ctx context.Context) (*schemas.LoginJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	rollback := func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
	}

	var (
		job     schemas.LoginJob
		payload []byte
	)
	err = tx.QueryRow(ctx, sqlSelectQueued).Scan(&job.ID, &job.Phone, &payload, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		rollback()
		return nil, nil
	}
	if err != nil {
		rollback()
		return nil, fmt.Errorf("failed to select queued job: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Preferences); err != nil {
			s.log.Warn("Ignoring malformed job payload", zap.Int64("job_id", job.ID), zap.Error(err))
			job.Preferences = schemas.Preferences{}
		}
	}

	if _, err := tx.Exec(ctx, sqlMarkProcessing, job.ID, s.now().UTC()); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to claim job %d: %w", job.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	job.Status = schemas.JobProcessing
	s.log.Info("Login job claimed", zap.Int64("job_id", job.ID))
	return &job, nil
}

const sqlSetStatus = `
    UPDATE login_queue SET status = $2, updated_at = $3 WHERE id = $1;
`

// SetStatus records a job's new status. Unknown ids yield ErrNotFound.
func (s *Store) SetStatus(ctx context.Context, id int64, status schemas.JobStatus) error {
	tag, err := s.pool.Exec(ctx, sqlSetStatus, id, string(status), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

const sqlInsertOTP = `
    INSERT INTO otps (phone, code, created_at, used)
    VALUES ($1, $2, $3, false)
    RETURNING id;
`

// SubmitOTP stores a relayed code. Phone and code are digit-normalized.
func (s *Store) SubmitOTP(ctx context.Context, phone, code string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, sqlInsertOTP, normalize.Phone(phone), normalize.Code(code), s.now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to store OTP: %w", err)
	}
	return id, nil
}

const sqlLatestOTP = `
    SELECT id, phone, code, created_at, used
    FROM otps
    WHERE phone = $1 AND used = false AND created_at > $2
    ORDER BY created_at DESC, id DESC
    LIMIT 1;
`

// LatestOTP returns the most recent unused code for phone that is younger
// than the store's TTL, or nil.
func (s *Store) LatestOTP(ctx context.Context, phone string) (*schemas.OtpCode, error) {
	cutoff := s.now().UTC().Add(-s.ttl)
	var otp schemas.OtpCode
	err := s.pool.QueryRow(ctx, sqlLatestOTP, normalize.Phone(phone), cutoff).
		Scan(&otp.ID, &otp.Phone, &otp.Code, &otp.CreatedAt, &otp.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest OTP: %w", err)
	}
	return &otp, nil
}

const sqlMarkOTPUsed = `
    UPDATE otps SET used = true WHERE id = $1;
`

// MarkOTPUsed consumes a code. Marking an unknown or already used id is not
// an error.
func (s *Store) MarkOTPUsed(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, sqlMarkOTPUsed, id); err != nil {
		return fmt.Errorf("failed to mark OTP %d used: %w", id, err)
	}
	return nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
