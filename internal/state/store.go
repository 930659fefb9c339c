package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nikhilvedi/esrigeo/internal/storage"
)

// Store persists a dump job's state to Postgres, the optional checkpoint backend alongside
// plain JSON-file persistence. A job saved here can be decoded back into a live State and
// resumed after a restart.
type Store struct {
	db *storage.DB
}

// NewStore wraps an already-open storage.DB.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Save upserts a job's current state, yielded count, and status.
func (s *Store) Save(jobID, layerURL string, st State, yielded int64, status string, loadErr error) error {
	params, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("state store: marshal params: %w", err)
	}

	var errMsg sql.NullString
	if loadErr != nil {
		errMsg = sql.NullString{String: loadErr.Error(), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO dump_jobs (job_id, layer_url, mode, state, yielded, status, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (job_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			state = EXCLUDED.state,
			yielded = EXCLUDED.yielded,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			updated_at = now()`,
		jobID, layerURL, string(st.Mode()), string(params), yielded, status, errMsg)
	if err != nil {
		return fmt.Errorf("state store: save job %s: %w", jobID, err)
	}
	return nil
}

// JobRecord is one persisted dump job row.
type JobRecord struct {
	JobID    string         `db:"job_id"`
	LayerURL string         `db:"layer_url"`
	Mode     string         `db:"mode"`
	State    string         `db:"state"`
	Yielded  int64          `db:"yielded"`
	Status   string         `db:"status"`
	Error    sql.NullString `db:"error"`
}

// Load fetches a job's persisted envelope and decodes it back into a State.
func (s *Store) Load(jobID string) (*JobRecord, State, error) {
	var rec JobRecord
	row := s.db.QueryRowx(`SELECT job_id, layer_url, mode, state::text AS state, yielded, status, error FROM dump_jobs WHERE job_id = $1`, jobID)
	if err := row.StructScan(&rec); err != nil {
		return nil, nil, fmt.Errorf("state store: load job %s: %w", jobID, err)
	}

	envelope, err := json.Marshal(Envelope{Mode: Mode(rec.Mode), Params: json.RawMessage(rec.State)})
	if err != nil {
		return nil, nil, fmt.Errorf("state store: re-marshal envelope: %w", err)
	}

	st, _, err := Decode(envelope)
	if err != nil {
		return nil, nil, err
	}
	return &rec, st, nil
}
