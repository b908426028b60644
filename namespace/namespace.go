// Package namespace implements the Namespace Structure Service (C2): the
// hierarchy-node instance tree plus the namespaces attached to it, with
// uniqueness enforcement and cascading deletion.
package namespace

import (
	"strings"
	"time"
)

// NSTreeInstance is a user-created concrete node realizing a level of the
// active HierarchyConfiguration (e.g. "Dallas" realizing "Site").
type NSTreeInstance struct {
	ID             string
	Name           string
	HierarchyNode  string // the abstract level this instance realizes, e.g. "Site"
	ParentID       string // empty for a root instance
	Description    string
	CreatedAt      time.Time
}

// NamespaceConfiguration is a user-named leaf category anchored at an
// instance path, or nested under another NamespaceConfiguration.
type NamespaceConfiguration struct {
	ID         string
	Name       string
	ParentID   string // parent NamespaceConfiguration, if nested
	InstanceID string // anchoring NSTreeInstance, if this is a root namespace
	IsActive   bool
	CreatedAt  time.Time
}

// NSTreeNode is one node of the merged tree GetStructure returns: an
// NSTreeInstance with its child instances and any namespaces anchored
// directly beneath it.
type NSTreeNode struct {
	Instance   *NSTreeInstance
	Children   []*NSTreeNode
	Namespaces []*NamespaceNode
}

// NamespaceNode is one node of the namespace portion of the merged tree.
type NamespaceNode struct {
	Namespace *NamespaceConfiguration
	Children  []*NamespaceNode
}

// PreconditionViolatedError is returned when an operation would break an
// invariant (uniqueness, allowed-children, non-empty-on-delete).
type PreconditionViolatedError struct {
	Reason string
}

func (e PreconditionViolatedError) Error() string {
	return "namespace: precondition violated: " + e.Reason
}

// NotFoundError is returned when an id does not resolve to a live record.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return "namespace: not found: " + e.ID
}

// CanonicalKey returns the case-insensitive comparison key used for
// uniqueness checks scoped to a hierarchical context.
func CanonicalKey(parts ...string) string {
	return strings.ToLower(strings.Join(parts, "/"))
}
