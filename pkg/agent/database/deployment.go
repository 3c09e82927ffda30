package database

import (
	"context"
	"database/sql"
	"time"
)

// Deployment states as stored in the history table.
const (
	StateInProgress = "in_progress"
	StateSuccess    = "success"
	StateFailed     = "failed"
)

type Deployment struct {
	ID         string     `json:"id"`
	Repository string     `json:"repository"`
	RunID      string     `json:"runID"`
	State      string     `json:"state"`
	Message    string     `json:"message,omitempty"`
	Created    time.Time  `json:"created"`
	Finished   *time.Time `json:"finished,omitempty"`
}

type DeploymentStore interface {
	Deployments(ctx context.Context, repository string, limit int) ([]*Deployment, error)
	Deployment(ctx context.Context, id string) (*Deployment, error)
	WriteDeployment(ctx context.Context, deployment Deployment) error
	FinishDeployment(ctx context.Context, id, state, message string) error
}

var _ DeploymentStore = &Database{}

const selectDeploymentFields = `id, repository, run_id, state, message, created, finished`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeployment(row scanner) (*Deployment, error) {
	deployment := &Deployment{}

	var created string
	var finished sql.NullString

	err := row.Scan(
		&deployment.ID,
		&deployment.Repository,
		&deployment.RunID,
		&deployment.State,
		&deployment.Message,
		&created,
		&finished,
	)
	if err != nil {
		return nil, err
	}

	deployment.Created, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		ts, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, err
		}
		deployment.Finished = &ts
	}

	return deployment, nil
}

func (db *Database) Deployments(ctx context.Context, repository string, limit int) ([]*Deployment, error) {
	query := `
SELECT ` + selectDeploymentFields + `
FROM deployment
WHERE (? = '' OR repository = ?)
ORDER BY created DESC
LIMIT ?;
`
	rows, err := db.conn.QueryContext(ctx, query, repository, repository, limit)
	if err != nil {
		return nil, err
	}

	deployments := make([]*Deployment, 0)
	defer rows.Close()
	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}

		deployments = append(deployments, deployment)
	}

	return deployments, rows.Err()
}

func (db *Database) Deployment(ctx context.Context, id string) (*Deployment, error) {
	query := `SELECT ` + selectDeploymentFields + ` FROM deployment WHERE id = ?;`
	row := db.conn.QueryRowContext(ctx, query, id)

	deployment, err := scanDeployment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return deployment, nil
}

func (db *Database) WriteDeployment(ctx context.Context, deployment Deployment) error {
	query := `
INSERT INTO deployment (id, repository, run_id, state, message, created)
VALUES (?, ?, ?, ?, ?, ?);
`
	_, err := db.conn.ExecContext(ctx, query,
		deployment.ID,
		deployment.Repository,
		deployment.RunID,
		deployment.State,
		deployment.Message,
		deployment.Created.UTC().Format(time.RFC3339Nano),
	)

	return err
}

func (db *Database) FinishDeployment(ctx context.Context, id, state, message string) error {
	query := `
UPDATE deployment
SET state = ?, message = ?, finished = ?
WHERE id = ?;
`
	result, err := db.conn.ExecContext(ctx, query,
		state,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
