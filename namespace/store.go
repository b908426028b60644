package namespace

import "context"

// Store is the durable contract for instances and namespace configurations.
// Implementations need not be transactional across the two record kinds;
// Service sequences the calls it needs and tolerates partial application by
// re-running CanDelete-style checks before mutating.
type Store interface {
	GetInstance(ctx context.Context, id string) (*NSTreeInstance, error)
	SaveInstance(ctx context.Context, inst *NSTreeInstance) error
	DeleteInstance(ctx context.Context, id string) error
	ListInstances(ctx context.Context) ([]*NSTreeInstance, error)
	// ChildInstances returns the direct children of parentID ("" for roots).
	ChildInstances(ctx context.Context, parentID string) ([]*NSTreeInstance, error)

	GetNamespace(ctx context.Context, id string) (*NamespaceConfiguration, error)
	SaveNamespace(ctx context.Context, ns *NamespaceConfiguration) error
	DeleteNamespace(ctx context.Context, id string) error
	ListNamespaces(ctx context.Context) ([]*NamespaceConfiguration, error)
	// ChildNamespaces returns namespaces nested directly under parentID.
	ChildNamespaces(ctx context.Context, parentID string) ([]*NamespaceConfiguration, error)
	// RootNamespaces returns namespaces anchored directly on instanceID.
	RootNamespaces(ctx context.Context, instanceID string) ([]*NamespaceConfiguration, error)
}
