package namespace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"unsbroker/eventbus"
	"unsbroker/hierarchy"
	"unsbroker/topicstore"

	"github.com/pkg/errors"
	"github.com/satori/uuid"
)

// Service is the Namespace Structure Service (C2): it owns the instance
// tree and the namespaces attached to it, enforces uniqueness among
// siblings, and fans cascading deletes out to the topic store.
type Service struct {
	store   Store
	topics  topicstore.Store
	hier    *hierarchy.Registry
	bus     *eventbus.Bus
}

// NewService wires a Service. topics may be nil, in which case deletes
// skip the NSPath-clearing cascade -- useful for tests that only exercise
// the tree itself.
func NewService(store Store, topics topicstore.Store, hier *hierarchy.Registry, bus *eventbus.Bus) *Service {
	return &Service{store: store, topics: topics, hier: hier, bus: bus}
}

func newID() string { return uuid.NewV4().String() }

// AddHierarchyInstance creates a concrete node realizing hierarchyNode under
// parentID ("" for a root). It rejects a name that collides case-
// insensitively with an existing sibling, and rejects a hierarchyNode that
// the active hierarchy configuration does not allow as a child of the
// parent's level.
func (s *Service) AddHierarchyInstance(ctx context.Context, name, hierarchyNode, parentID, description string) (*NSTreeInstance, error) {
	if err := s.checkAllowedChild(ctx, hierarchyNode, parentID); err != nil {
		return nil, err
	}
	siblings, err := s.store.ChildInstances(ctx, parentID)
	if err != nil {
		return nil, errors.Wrap(err, "namespace: listing siblings")
	}
	key := CanonicalKey(name)
	for _, sib := range siblings {
		if CanonicalKey(sib.Name) == key {
			return nil, PreconditionViolatedError{Reason: "an instance named " + name + " already exists under this parent"}
		}
	}

	inst := &NSTreeInstance{
		ID:            newID(),
		Name:          name,
		HierarchyNode: hierarchyNode,
		ParentID:      parentID,
		Description:   description,
		CreatedAt:     time.Now(),
	}
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return nil, errors.Wrap(err, "namespace: saving instance")
	}
	s.publish(ctx, eventbus.NewNamespaceStructureChanged(eventbus.NamespaceAdded, inst.ID))
	return inst, nil
}

func (s *Service) checkAllowedChild(ctx context.Context, hierarchyNode, parentID string) error {
	if s.hier == nil {
		return nil
	}
	cfg := s.hier.Active()
	if cfg == nil {
		return nil
	}
	if parentID == "" {
		return nil
	}
	parent, err := s.store.GetInstance(ctx, parentID)
	if err != nil {
		return err
	}
	for _, lvl := range cfg.Levels {
		if lvl.Name == parent.HierarchyNode {
			if len(lvl.AllowedChildren) == 0 {
				return nil
			}
			for _, allowed := range lvl.AllowedChildren {
				if allowed == hierarchyNode {
					return nil
				}
			}
			return PreconditionViolatedError{Reason: hierarchyNode + " is not an allowed child of " + parent.HierarchyNode}
		}
	}
	return nil
}

// UpdateInstance renames/redescribes an existing instance in place.
func (s *Service) UpdateInstance(ctx context.Context, id, name, description string) error {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if name != "" {
		siblings, err := s.store.ChildInstances(ctx, inst.ParentID)
		if err != nil {
			return errors.Wrap(err, "namespace: listing siblings")
		}
		key := CanonicalKey(name)
		for _, sib := range siblings {
			if sib.ID != id && CanonicalKey(sib.Name) == key {
				return PreconditionViolatedError{Reason: "an instance named " + name + " already exists under this parent"}
			}
		}
		inst.Name = name
	}
	inst.Description = description
	if err := s.store.SaveInstance(ctx, inst); err != nil {
		return errors.Wrap(err, "namespace: saving instance")
	}
	s.publish(ctx, eventbus.NewNamespaceStructureChanged(eventbus.NamespaceUpdated, id))
	return nil
}

// AddNamespace creates a namespace anchored directly on instanceID (when
// parentID is "") or nested under parentID (an existing namespace).
func (s *Service) AddNamespace(ctx context.Context, name, parentID, instanceID string) (*NamespaceConfiguration, error) {
	var siblings []*NamespaceConfiguration
	var err error
	if parentID != "" {
		siblings, err = s.store.ChildNamespaces(ctx, parentID)
	} else {
		siblings, err = s.store.RootNamespaces(ctx, instanceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "namespace: listing siblings")
	}
	key := CanonicalKey(name)
	for _, sib := range siblings {
		if CanonicalKey(sib.Name) == key {
			return nil, PreconditionViolatedError{Reason: "a namespace named " + name + " already exists under this parent"}
		}
	}

	ns := &NamespaceConfiguration{
		ID:         newID(),
		Name:       name,
		ParentID:   parentID,
		InstanceID: instanceID,
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	if err := s.store.SaveNamespace(ctx, ns); err != nil {
		return nil, errors.Wrap(err, "namespace: saving namespace")
	}
	s.publish(ctx, eventbus.NewNamespaceStructureChanged(eventbus.NamespaceAdded, ns.ID))
	return ns, nil
}

// CanDelete reports whether id (an instance or namespace) can be deleted.
// A namespace can always be deleted (deletion cascades). An instance can
// be deleted only if it is a leaf: no child instance, no namespace, and no
// topic referencing it. When false, reason enumerates why.
func (s *Service) CanDelete(ctx context.Context, id string) (bool, string, error) {
	if inst, err := s.store.GetInstance(ctx, id); err == nil {
		reason, err := s.instanceDeleteBlockers(ctx, inst)
		if err != nil {
			return false, "", err
		}
		return reason == "", reason, nil
	}
	if _, err := s.store.GetNamespace(ctx, id); err == nil {
		return true, "", nil
	}
	return false, "", NotFoundError{ID: id}
}

// instanceDeleteBlockers returns a non-empty, comma-joined reason listing
// every child instance, namespace, and referencing topic that refuses
// inst's deletion, or "" if inst is a deletable leaf.
func (s *Service) instanceDeleteBlockers(ctx context.Context, inst *NSTreeInstance) (string, error) {
	var blockers []string

	children, err := s.store.ChildInstances(ctx, inst.ID)
	if err != nil {
		return "", errors.Wrap(err, "namespace: listing child instances")
	}
	if n := len(children); n > 0 {
		blockers = append(blockers, fmt.Sprintf("%d child instance(s)", n))
	}

	namespaces, err := s.store.RootNamespaces(ctx, inst.ID)
	if err != nil {
		return "", errors.Wrap(err, "namespace: listing namespaces")
	}
	if n := len(namespaces); n > 0 {
		blockers = append(blockers, fmt.Sprintf("%d namespace(s)", n))
	}

	if s.topics != nil {
		path, err := s.Path(ctx, inst.ID)
		if err != nil {
			return "", err
		}
		topics, err := s.topicsUnderPath(ctx, path)
		if err != nil {
			return "", err
		}
		if n := len(topics); n > 0 {
			blockers = append(blockers, fmt.Sprintf("%d referencing topic(s)", n))
		}
	}

	return strings.Join(blockers, ", "), nil
}

// topicsUnderPath lists every active topic whose NSPath is exactly path or
// nested under it, using the same segment-aligned prefix rule as
// topicstore.Store.ClearNamespacePath.
func (s *Service) topicsUnderPath(ctx context.Context, path string) ([]string, error) {
	all, err := s.topics.GetAll(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "namespace: listing topics")
	}
	var matched []string
	for _, tc := range all {
		if tc.NSPath == path || strings.HasPrefix(tc.NSPath, path+"/") {
			matched = append(matched, tc.Topic)
		}
	}
	return matched, nil
}

// DeleteInstance removes id. Per the NSTreeInstance lifecycle, deletion is
// refused -- not cascaded -- while any child instance, namespace, or
// referencing topic exists; the caller must remove those first.
func (s *Service) DeleteInstance(ctx context.Context, id string) error {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	reason, err := s.instanceDeleteBlockers(ctx, inst)
	if err != nil {
		return err
	}
	if reason != "" {
		return PreconditionViolatedError{Reason: "instance " + inst.Name + " has " + reason}
	}

	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return errors.Wrap(err, "namespace: deleting instance")
	}
	s.publish(ctx, eventbus.NewNamespaceStructureChanged(eventbus.NamespaceDeleted, id))
	return nil
}

func (s *Service) deleteNamespaceSubtree(ctx context.Context, id string) error {
	children, err := s.store.ChildNamespaces(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := s.deleteNamespaceSubtree(ctx, c.ID); err != nil {
			return err
		}
	}
	return s.store.DeleteNamespace(ctx, id)
}

// DeleteNamespace removes id and every nested namespace beneath it,
// clearing NSPath on every topic in the deleted subtree.
func (s *Service) DeleteNamespace(ctx context.Context, id string) error {
	if _, err := s.store.GetNamespace(ctx, id); err != nil {
		return err
	}
	path, err := s.Path(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deleteNamespaceSubtree(ctx, id); err != nil {
		return errors.Wrap(err, "namespace: cascading namespace delete")
	}
	if s.topics != nil {
		if _, err := s.topics.ClearNamespacePath(ctx, path); err != nil {
			return errors.Wrap(err, "namespace: clearing topic paths")
		}
	}
	s.publish(ctx, eventbus.NewNamespaceStructureChanged(eventbus.NamespaceDeleted, id))
	return nil
}

// Path returns the slash-joined name path from the root down to id, for
// either an instance or a namespace id.
func (s *Service) Path(ctx context.Context, id string) (string, error) {
	if inst, err := s.store.GetInstance(ctx, id); err == nil {
		return s.instancePath(ctx, inst)
	}
	if ns, err := s.store.GetNamespace(ctx, id); err == nil {
		return s.namespacePath(ctx, ns)
	}
	return "", NotFoundError{ID: id}
}

func (s *Service) instancePath(ctx context.Context, inst *NSTreeInstance) (string, error) {
	if inst.ParentID == "" {
		return inst.Name, nil
	}
	parent, err := s.store.GetInstance(ctx, inst.ParentID)
	if err != nil {
		return "", err
	}
	parentPath, err := s.instancePath(ctx, parent)
	if err != nil {
		return "", err
	}
	return parentPath + "/" + inst.Name, nil
}

func (s *Service) namespacePath(ctx context.Context, ns *NamespaceConfiguration) (string, error) {
	if ns.ParentID == "" {
		inst, err := s.store.GetInstance(ctx, ns.InstanceID)
		if err != nil {
			return "", err
		}
		instPath, err := s.instancePath(ctx, inst)
		if err != nil {
			return "", err
		}
		return instPath + "/" + ns.Name, nil
	}
	parent, err := s.store.GetNamespace(ctx, ns.ParentID)
	if err != nil {
		return "", err
	}
	parentPath, err := s.namespacePath(ctx, parent)
	if err != nil {
		return "", err
	}
	return parentPath + "/" + ns.Name, nil
}

// GetStructure builds the merged instance/namespace tree rooted at every
// instance with no parent.
func (s *Service) GetStructure(ctx context.Context) ([]*NSTreeNode, error) {
	roots, err := s.store.ChildInstances(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*NSTreeNode, 0, len(roots))
	for _, r := range roots {
		node, err := s.buildInstanceNode(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func (s *Service) buildInstanceNode(ctx context.Context, inst *NSTreeInstance) (*NSTreeNode, error) {
	node := &NSTreeNode{Instance: inst}
	children, err := s.store.ChildInstances(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		child, err := s.buildInstanceNode(ctx, c)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	roots, err := s.store.RootNamespaces(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	for _, ns := range roots {
		nsNode, err := s.buildNamespaceNode(ctx, ns)
		if err != nil {
			return nil, err
		}
		node.Namespaces = append(node.Namespaces, nsNode)
	}
	return node, nil
}

func (s *Service) buildNamespaceNode(ctx context.Context, ns *NamespaceConfiguration) (*NamespaceNode, error) {
	node := &NamespaceNode{Namespace: ns}
	children, err := s.store.ChildNamespaces(ctx, ns.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		child, err := s.buildNamespaceNode(ctx, c)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

func (s *Service) publish(ctx context.Context, ev eventbus.Event) {
	if s.bus == nil {
		return
	}
	eventbus.Publish(ctx, s.bus, ev)
}
