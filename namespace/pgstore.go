package namespace

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PGStore is a Postgres-backed Store for the instance and namespace trees.
type PGStore struct {
	db *sqlx.DB
}

// Connect opens a PGStore against dataSource.
func Connect(dataSource string) (*PGStore, error) {
	db, err := sqlx.Open("postgres", dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "namespace: failed to open database")
	}
	db.SetMaxOpenConns(16)
	return &PGStore{db: db}, nil
}

// Ping verifies connectivity.
func (p *PGStore) Ping() error { return p.db.Ping() }

// Close releases the underlying connection pool.
func (p *PGStore) Close() error { return p.db.Close() }

type instanceRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	HierarchyNode string         `db:"hierarchy_node"`
	ParentID      sql.NullString `db:"parent_id"`
	Description   string         `db:"description"`
}

func (r instanceRow) toInstance() *NSTreeInstance {
	return &NSTreeInstance{
		ID:            r.ID,
		Name:          r.Name,
		HierarchyNode: r.HierarchyNode,
		ParentID:      r.ParentID.String,
		Description:   r.Description,
	}
}

// GetInstance implements Store.
func (p *PGStore) GetInstance(ctx context.Context, id string) (*NSTreeInstance, error) {
	var r instanceRow
	err := p.db.GetContext(ctx, &r,
		`SELECT id, name, hierarchy_node, parent_id, description FROM ns_tree_instance WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, NotFoundError{ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "namespace: get instance")
	}
	return r.toInstance(), nil
}

// SaveInstance implements Store.
func (p *PGStore) SaveInstance(ctx context.Context, inst *NSTreeInstance) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ns_tree_instance (id, name, hierarchy_node, parent_id, description, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			hierarchy_node = EXCLUDED.hierarchy_node,
			parent_id = EXCLUDED.parent_id,
			description = EXCLUDED.description`,
		inst.ID, inst.Name, inst.HierarchyNode, inst.ParentID, inst.Description)
	if err != nil {
		return errors.Wrapf(err, "namespace: save instance %s", inst.ID)
	}
	return nil
}

// DeleteInstance implements Store.
func (p *PGStore) DeleteInstance(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM ns_tree_instance WHERE id = $1`, id)
	return errors.Wrapf(err, "namespace: delete instance %s", id)
}

// ListInstances implements Store.
func (p *PGStore) ListInstances(ctx context.Context) ([]*NSTreeInstance, error) {
	var rows []instanceRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT id, name, hierarchy_node, parent_id, description FROM ns_tree_instance`); err != nil {
		return nil, errors.Wrap(err, "namespace: list instances")
	}
	out := make([]*NSTreeInstance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstance())
	}
	return out, nil
}

// ChildInstances implements Store.
func (p *PGStore) ChildInstances(ctx context.Context, parentID string) ([]*NSTreeInstance, error) {
	var rows []instanceRow
	var err error
	if parentID == "" {
		err = p.db.SelectContext(ctx, &rows,
			`SELECT id, name, hierarchy_node, parent_id, description FROM ns_tree_instance WHERE parent_id IS NULL`)
	} else {
		err = p.db.SelectContext(ctx, &rows,
			`SELECT id, name, hierarchy_node, parent_id, description FROM ns_tree_instance WHERE parent_id = $1`, parentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "namespace: child instances")
	}
	out := make([]*NSTreeInstance, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInstance())
	}
	return out, nil
}

type namespaceRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	ParentID   sql.NullString `db:"parent_id"`
	InstanceID sql.NullString `db:"instance_id"`
	IsActive   bool           `db:"is_active"`
}

func (r namespaceRow) toNamespace() *NamespaceConfiguration {
	return &NamespaceConfiguration{
		ID:         r.ID,
		Name:       r.Name,
		ParentID:   r.ParentID.String,
		InstanceID: r.InstanceID.String,
		IsActive:   r.IsActive,
	}
}

// GetNamespace implements Store.
func (p *PGStore) GetNamespace(ctx context.Context, id string) (*NamespaceConfiguration, error) {
	var r namespaceRow
	err := p.db.GetContext(ctx, &r,
		`SELECT id, name, parent_id, instance_id, is_active FROM namespace_configuration WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, NotFoundError{ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "namespace: get namespace")
	}
	return r.toNamespace(), nil
}

// SaveNamespace implements Store.
func (p *PGStore) SaveNamespace(ctx context.Context, ns *NamespaceConfiguration) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO namespace_configuration (id, name, parent_id, instance_id, is_active, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			parent_id = EXCLUDED.parent_id,
			instance_id = EXCLUDED.instance_id,
			is_active = EXCLUDED.is_active`,
		ns.ID, ns.Name, ns.ParentID, ns.InstanceID, ns.IsActive)
	if err != nil {
		return errors.Wrapf(err, "namespace: save namespace %s", ns.ID)
	}
	return nil
}

// DeleteNamespace implements Store.
func (p *PGStore) DeleteNamespace(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM namespace_configuration WHERE id = $1`, id)
	return errors.Wrapf(err, "namespace: delete namespace %s", id)
}

// ListNamespaces implements Store.
func (p *PGStore) ListNamespaces(ctx context.Context) ([]*NamespaceConfiguration, error) {
	var rows []namespaceRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT id, name, parent_id, instance_id, is_active FROM namespace_configuration`); err != nil {
		return nil, errors.Wrap(err, "namespace: list namespaces")
	}
	out := make([]*NamespaceConfiguration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toNamespace())
	}
	return out, nil
}

// ChildNamespaces implements Store.
func (p *PGStore) ChildNamespaces(ctx context.Context, parentID string) ([]*NamespaceConfiguration, error) {
	var rows []namespaceRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT id, name, parent_id, instance_id, is_active FROM namespace_configuration WHERE parent_id = $1`, parentID); err != nil {
		return nil, errors.Wrap(err, "namespace: child namespaces")
	}
	out := make([]*NamespaceConfiguration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toNamespace())
	}
	return out, nil
}

// RootNamespaces implements Store.
func (p *PGStore) RootNamespaces(ctx context.Context, instanceID string) ([]*NamespaceConfiguration, error) {
	var rows []namespaceRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT id, name, parent_id, instance_id, is_active FROM namespace_configuration
		  WHERE parent_id IS NULL AND instance_id = $1`, instanceID); err != nil {
		return nil, errors.Wrap(err, "namespace: root namespaces")
	}
	out := make([]*NamespaceConfiguration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toNamespace())
	}
	return out, nil
}
