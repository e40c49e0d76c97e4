// Package store provides the persistence layer for runs, their event
// logs, and per-case results. The event log is append-only; readers
// always receive events in insertion order with UTC-normalized
// timestamps.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/testplatform/runtrackr/pkg/config"
	"github.com/testplatform/runtrackr/pkg/lifecycle"
)

// Store provides persistence for runs, events and case results.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Run CRUD.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uint) (*Run, error)
	GetRunByToken(ctx context.Context, token string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	DeleteRun(ctx context.Context, id uint) error

	// Event log. Append is the only write; reads return insertion
	// order with UTC timestamps.
	AppendEvent(
		ctx context.Context,
		runID uint,
		stage lifecycle.Stage,
		message string,
		timestamp time.Time,
	) error
	ListEvents(ctx context.Context, runID uint) ([]lifecycle.Event, error)
	LastEvent(ctx context.Context, runID uint) (*lifecycle.Event, error)

	// Case results and output comparisons.
	CreateCaseResult(ctx context.Context, result *CaseResult) error
	ListCaseResults(ctx context.Context, runID uint) ([]CaseResult, error)
	CreateOutputComparison(ctx context.Context, cmp *CaseOutputComparison) error
	ListOutputComparisons(
		ctx context.Context, runID uint,
	) ([]CaseOutputComparison, error)
	GetOutputComparison(
		ctx context.Context, runID, caseID, outputID uint,
	) (*CaseOutputComparison, error)

	// Users seeded from config.
	SeedUsers(ctx context.Context, users []config.AuthUser) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&RunEvent{},
		&CaseResult{},
		&CaseOutputComparison{},
		&User{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Run CRUD ---

// CreateRun inserts a new run, generating a unique token when none is
// supplied.
func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if run.Token == "" {
		token, err := generateRunToken()
		if err != nil {
			return err
		}

		run.Token = token
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

func (s *store) GetRun(ctx context.Context, id uint) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, fmt.Errorf("getting run by id: %w", err)
	}

	return &run, nil
}

func (s *store) GetRunByToken(
	ctx context.Context, token string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run by token: %w", err)
	}

	return &run, nil
}

func (s *store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes a run and everything it owns.
func (s *store) DeleteRun(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).
			Delete(&RunEvent{}).Error; err != nil {
			return err
		}

		if err := tx.Where("run_id = ?", id).
			Delete(&CaseResult{}).Error; err != nil {
			return err
		}

		if err := tx.Where("run_id = ?", id).
			Delete(&CaseOutputComparison{}).Error; err != nil {
			return err
		}

		return tx.Delete(&Run{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	return nil
}

// --- Event log ---

// AppendEvent records a run entering a stage. Timestamps are stored as
// UTC instants; a zero timestamp means now.
func (s *store) AppendEvent(
	ctx context.Context,
	runID uint,
	stage lifecycle.Stage,
	message string,
	timestamp time.Time,
) error {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	event := RunEvent{
		RunID:     runID,
		Stage:     stage.String(),
		Timestamp: timestamp.UTC(),
		Message:   message,
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("appending event: %w", err)
	}

	return nil
}

// ListEvents returns a run's events in insertion order. Timestamps are
// normalized to UTC on every read; database drivers differ in the
// location they hydrate time values with.
func (s *store) ListEvents(
	ctx context.Context, runID uint,
) ([]lifecycle.Event, error) {
	var records []RunEvent
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	events := make([]lifecycle.Event, 0, len(records))
	for _, rec := range records {
		events = append(events, toLifecycleEvent(rec))
	}

	return events, nil
}

// LastEvent returns the most recent event of a run, or nil when the
// run has no events yet.
func (s *store) LastEvent(
	ctx context.Context, runID uint,
) (*lifecycle.Event, error) {
	var records []RunEvent
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id DESC").
		Limit(1).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting last event: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	event := toLifecycleEvent(records[0])

	return &event, nil
}

func toLifecycleEvent(rec RunEvent) lifecycle.Event {
	return lifecycle.Event{
		RunID:     rec.RunID,
		Stage:     lifecycle.Stage(rec.Stage),
		Timestamp: rec.Timestamp.UTC(),
		Message:   rec.Message,
	}
}

// --- Case results ---

func (s *store) CreateCaseResult(
	ctx context.Context, result *CaseResult,
) error {
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("creating case result: %w", err)
	}

	return nil
}

func (s *store) ListCaseResults(
	ctx context.Context, runID uint,
) ([]CaseResult, error) {
	var results []CaseResult
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("case_id ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing case results: %w", err)
	}

	return results, nil
}

func (s *store) CreateOutputComparison(
	ctx context.Context, cmp *CaseOutputComparison,
) error {
	if err := s.db.WithContext(ctx).Create(cmp).Error; err != nil {
		return fmt.Errorf("creating output comparison: %w", err)
	}

	return nil
}

func (s *store) ListOutputComparisons(
	ctx context.Context, runID uint,
) ([]CaseOutputComparison, error) {
	var cmps []CaseOutputComparison
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("case_id ASC, output_id ASC").
		Find(&cmps).Error; err != nil {
		return nil, fmt.Errorf("listing output comparisons: %w", err)
	}

	return cmps, nil
}

func (s *store) GetOutputComparison(
	ctx context.Context, runID, caseID, outputID uint,
) (*CaseOutputComparison, error) {
	var cmp CaseOutputComparison
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND case_id = ? AND output_id = ?",
			runID, caseID, outputID).
		First(&cmp).Error; err != nil {
		return nil, fmt.Errorf("getting output comparison: %w", err)
	}

	return &cmp, nil
}

// --- Users ---

// SeedUsers upserts config-sourced users on startup.
func (s *store) SeedUsers(
	ctx context.Context, users []config.AuthUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		user := User{
			Username:     u.Username,
			PasswordHash: string(hash),
			Role:         u.Role,
		}

		result := s.db.WithContext(ctx).
			Where("username = ?", u.Username).
			Assign(User{PasswordHash: user.PasswordHash, Role: user.Role}).
			FirstOrCreate(&user)
		if result.Error != nil {
			return fmt.Errorf("seeding user %q: %w", u.Username, result.Error)
		}
	}

	s.log.WithField("count", len(users)).Info("Seeded users from config")

	return nil
}

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}

	return &user, nil
}
