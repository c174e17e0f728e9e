// Modul: store.go
// Beschreibung: Persistenz abgeschlossener Evaluierungen (Runs) in SQLite.
// Enthaelt Store mit verzoegerter Initialisierung, Run und die oeffentlichen
// Operationen SaveRun, Run, Runs und DeleteRun.

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
	"github.com/genevo/fiteval/program"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Run is a stored evaluation.
type Run struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Key        string             `json:"key"`
	Config     program.Config     `json:"config"`
	Device     ml.DeviceInfo      `json:"device"`
	NumGenomes int                `json:"num_genomes"`
	NumWeights int                `json:"num_weights"`
	Duration   time.Duration      `json:"duration"`
	Fitness    []float32          `json:"fitness"`
	Summary    population.Summary `json:"summary"`
}

type Store struct {
	// DBPath allows overriding the default database path (mainly for testing)
	DBPath string

	// dbMu protects database initialization only
	dbMu sync.Mutex
	db   *database
}

func (s *Store) ensureDB() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db != nil {
		return nil
	}

	dbPath := s.DBPath
	if dbPath == "" {
		dbPath = envconfig.DB()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	database, err := newDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	s.db = database
	return nil
}

// SaveRun stores r. A missing id is generated and a zero CreatedAt is set to
// the current time; the summary is always recomputed from the fitness.
func (s *Store) SaveRun(r *Run) error {
	if err := s.ensureDB(); err != nil {
		return err
	}

	if r.ID == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		r.ID = u.String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Summary = population.Summarize(r.Fitness)

	return s.db.insertRun(r)
}

func (s *Store) Run(id string) (*Run, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	return s.db.getRun(id)
}

// Runs returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(limit int) ([]*Run, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}

	return s.db.listRuns(limit)
}

func (s *Store) DeleteRun(id string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}

	return s.db.deleteRun(id)
}

func (s *Store) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
