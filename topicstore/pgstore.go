package topicstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"unsbroker/hierarchy"

	"github.com/jmoiron/sqlx"
	// As per pq documentation, imported for its driver registration only.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PGStore is a Postgres-backed Store, modeled on the upsert-by-conflict
// pattern used for configuration records elsewhere in this codebase: a
// single `INSERT ... ON CONFLICT (topic) DO UPDATE` resolves the race
// between two writers discovering the same topic at once, so callers never
// see a unique-constraint violation.
type PGStore struct {
	db  *sqlx.DB
	cfg *hierarchy.Configuration
}

// Connect opens a PGStore against dataSource. cfg is the active hierarchy
// configuration used to parse HierarchicalPath columns back into Path
// values on read.
func Connect(dataSource string, cfg *hierarchy.Configuration) (*PGStore, error) {
	db, err := sqlx.Open("postgres", dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "topicstore: failed to open database")
	}
	// Mirrors the connection-count cap used for the appliance database:
	// an unbounded pool can overrun what the proxy/broker in front of
	// Postgres can handle.
	db.SetMaxOpenConns(16)
	return &PGStore{db: db, cfg: cfg}, nil
}

// Ping verifies connectivity.
func (p *PGStore) Ping() error { return p.db.Ping() }

// Close releases the underlying connection pool.
func (p *PGStore) Close() error { return p.db.Close() }

type topicRow struct {
	Topic            string         `db:"topic"`
	SourceType       string         `db:"source_type"`
	HierarchicalPath sql.NullString `db:"hierarchical_path"`
	UNSName          string         `db:"uns_name"`
	NSPath           sql.NullString `db:"ns_path"`
	IsVerified       bool           `db:"is_verified"`
	IsActive         bool           `db:"is_active"`
	CreatedAt        time.Time      `db:"created_at"`
	ModifiedAt       time.Time      `db:"modified_at"`
	CreatedBy        string         `db:"created_by"`
	Metadata         []byte         `db:"metadata"`
}

func (p *PGStore) fromRow(r topicRow) (*TopicConfiguration, error) {
	meta := map[string]string{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, errors.Wrap(err, "topicstore: decoding metadata")
		}
	}
	return &TopicConfiguration{
		Topic:            r.Topic,
		SourceType:       r.SourceType,
		HierarchicalPath: hierarchy.FromPath(p.cfg, r.HierarchicalPath.String),
		UNSName:          r.UNSName,
		NSPath:           r.NSPath.String,
		IsVerified:       r.IsVerified,
		IsActive:         r.IsActive,
		CreatedAt:        r.CreatedAt,
		ModifiedAt:       r.ModifiedAt,
		CreatedBy:        r.CreatedBy,
		Metadata:         meta,
	}, nil
}

// Get implements Store.
func (p *PGStore) Get(ctx context.Context, topic string) (*TopicConfiguration, error) {
	var r topicRow
	err := p.db.GetContext(ctx, &r,
		`SELECT topic, source_type, hierarchical_path, uns_name, ns_path,
		        is_verified, is_active, created_at, modified_at, created_by, metadata
		   FROM topic_configuration WHERE topic = $1 AND is_active`, topic)
	if err == sql.ErrNoRows {
		return nil, NotFoundError{Topic: topic}
	}
	if err != nil {
		return nil, errors.Wrap(err, "topicstore: get")
	}
	return p.fromRow(r)
}

// Save implements Store's upsert contract: one statement, conflict
// resolved server-side, no retry loop needed on the Go side.
func (p *PGStore) Save(ctx context.Context, cfg *TopicConfiguration) error {
	meta, err := json.Marshal(cfg.Metadata)
	if err != nil {
		return errors.Wrap(err, "topicstore: encoding metadata")
	}
	var path string
	if cfg.HierarchicalPath != nil {
		path = cfg.HierarchicalPath.FullPath()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO topic_configuration
			(topic, source_type, hierarchical_path, uns_name, ns_path,
			 is_verified, is_active, created_at, modified_at, created_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, true, now(), now(), $7, $8)
		ON CONFLICT (topic) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			hierarchical_path = EXCLUDED.hierarchical_path,
			uns_name = EXCLUDED.uns_name,
			ns_path = EXCLUDED.ns_path,
			is_verified = EXCLUDED.is_verified,
			is_active = true,
			modified_at = now(),
			metadata = EXCLUDED.metadata`,
		cfg.Topic, cfg.SourceType, path, cfg.UNSName, cfg.NSPath,
		cfg.IsVerified, cfg.CreatedBy, meta)
	if err != nil {
		return errors.Wrapf(err, "topicstore: save %s", cfg.Topic)
	}
	return nil
}

// Delete implements Store.
func (p *PGStore) Delete(ctx context.Context, topic string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM topic_configuration WHERE topic = $1`, topic)
	if err != nil {
		return errors.Wrapf(err, "topicstore: delete %s", topic)
	}
	return nil
}

// GetAll implements Store.
func (p *PGStore) GetAll(ctx context.Context, verifiedOnly bool) ([]*TopicConfiguration, error) {
	q := `SELECT topic, source_type, hierarchical_path, uns_name, ns_path,
	             is_verified, is_active, created_at, modified_at, created_by, metadata
	        FROM topic_configuration WHERE is_active`
	if verifiedOnly {
		q += ` AND is_verified`
	}
	var rows []topicRow
	if err := p.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "topicstore: get all")
	}
	out := make([]*TopicConfiguration, 0, len(rows))
	for _, r := range rows {
		cfg, err := p.fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// GetUnverified implements Store.
func (p *PGStore) GetUnverified(ctx context.Context) ([]*TopicConfiguration, error) {
	var rows []topicRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT topic, source_type, hierarchical_path, uns_name, ns_path,
		       is_verified, is_active, created_at, modified_at, created_by, metadata
		  FROM topic_configuration WHERE is_active AND NOT is_verified`)
	if err != nil {
		return nil, errors.Wrap(err, "topicstore: get unverified")
	}
	out := make([]*TopicConfiguration, 0, len(rows))
	for _, r := range rows {
		cfg, err := p.fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Verify implements Store.
func (p *PGStore) Verify(ctx context.Context, topic, by string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE topic_configuration
		   SET is_verified = true, created_by = $2, modified_at = now()
		 WHERE topic = $1 AND is_active`, topic, by)
	if err != nil {
		return errors.Wrapf(err, "topicstore: verify %s", topic)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return NotFoundError{Topic: topic}
	}
	return nil
}

// ClearNamespacePath implements Store.
func (p *PGStore) ClearNamespacePath(ctx context.Context, prefix string) ([]string, error) {
	var topics []string
	err := p.db.SelectContext(ctx, &topics, `
		SELECT topic FROM topic_configuration
		 WHERE is_active AND (ns_path = $1 OR ns_path LIKE $2)`,
		prefix, strings.TrimSuffix(prefix, "/")+"/%")
	if err != nil {
		return nil, errors.Wrap(err, "topicstore: select for namespace clear")
	}
	if len(topics) == 0 {
		return nil, nil
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE topic_configuration SET ns_path = '', modified_at = now()
		 WHERE is_active AND (ns_path = $1 OR ns_path LIKE $2)`,
		prefix, strings.TrimSuffix(prefix, "/")+"/%")
	if err != nil {
		return nil, errors.Wrap(err, "topicstore: clear namespace path")
	}
	return topics, nil
}
