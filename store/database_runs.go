// database_runs.go - CRUD fuer gespeicherte Evaluierungen
// Enthaelt: insertRun, getRun, listRuns, deleteRun, Fitness-Kodierung

package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/genevo/fiteval/ml"
	"github.com/genevo/fiteval/population"
)

const runColumns = `id, created_at, program_key, config, backend, device, device_type,
	num_genomes, num_weights, duration_ns, fitness, best_index, best_fitness, mean_fitness`

func (db *database) insertRun(r *Run) error {
	config, err := json.Marshal(r.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.CreatedAt.UTC(),
		r.Key,
		string(config),
		r.Device.Backend,
		r.Device.Name,
		r.Device.Type.String(),
		r.NumGenomes,
		r.NumWeights,
		r.Duration.Nanoseconds(),
		encodeFitness(r.Fitness),
		r.Summary.Best,
		r.Summary.Max,
		r.Summary.Mean,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		config     string
		deviceType string
		durationNS int64
		fitness    []byte
		best       int
		bestValue  float64
		meanValue  float64
	)
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Key, &config, &r.Device.Backend, &r.Device.Name, &deviceType,
		&r.NumGenomes, &r.NumWeights, &durationNS, &fitness, &best, &bestValue, &meanValue)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(config), &r.Config); err != nil {
		return nil, fmt.Errorf("run %s: decode config: %w", r.ID, err)
	}
	if err := r.Device.Type.UnmarshalText([]byte(deviceType)); err != nil {
		r.Device.Type = ml.DeviceTypeAll
	}
	r.Duration = time.Duration(durationNS)
	r.Fitness = decodeFitness(fitness)
	r.Summary = population.Summarize(r.Fitness)
	return &r, nil
}

func (db *database) getRun(id string) (*Run, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// listRuns returns the newest runs first. limit <= 0 returns all.
func (db *database) listRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (db *database) deleteRun(id string) error {
	res, err := db.conn.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// fitness is stored as little-endian float32, the layout of the device buffer
func encodeFitness(fitness []float32) []byte {
	b := make([]byte, 0, len(fitness)*4)
	for _, f := range fitness {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	return b
}

func decodeFitness(b []byte) []float32 {
	fitness := make([]float32, len(b)/4)
	for i := range fitness {
		fitness[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return fitness
}
