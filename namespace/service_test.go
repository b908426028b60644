package namespace

import (
	"context"
	"testing"

	"unsbroker/topicstore"
)

func newTestService(topics topicstore.Store) (*Service, *MemStore) {
	store := NewMemStore()
	return NewService(store, topics, nil, nil), store
}

func TestAddHierarchyInstanceRejectsCaseInsensitiveDuplicateSibling(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)

	if _, err := svc.AddHierarchyInstance(ctx, "Dallas", "Site", "", ""); err != nil {
		t.Fatalf("AddHierarchyInstance: %v", err)
	}
	_, err := svc.AddHierarchyInstance(ctx, "dallas", "Site", "", "")
	if _, ok := err.(PreconditionViolatedError); !ok {
		t.Fatalf("AddHierarchyInstance duplicate = %v, want PreconditionViolatedError", err)
	}
}

func TestAddNamespaceRejectsDuplicateSiblingUnderSameAnchor(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	site, err := svc.AddHierarchyInstance(ctx, "Dallas", "Site", "", "")
	if err != nil {
		t.Fatalf("AddHierarchyInstance: %v", err)
	}

	if _, err := svc.AddNamespace(ctx, "Production", "", site.ID); err != nil {
		t.Fatalf("AddNamespace: %v", err)
	}
	_, err = svc.AddNamespace(ctx, "production", "", site.ID)
	if _, ok := err.(PreconditionViolatedError); !ok {
		t.Fatalf("AddNamespace duplicate = %v, want PreconditionViolatedError", err)
	}
}

func TestDeleteInstanceRefusedWhileNonLeaf(t *testing.T) {
	ctx := context.Background()
	topics := topicstore.NewMemStore()
	svc, _ := newTestService(topics)

	dallas, err := svc.AddHierarchyInstance(ctx, "Dallas", "Site", "", "")
	if err != nil {
		t.Fatalf("AddHierarchyInstance(Dallas): %v", err)
	}
	austin, err := svc.AddHierarchyInstance(ctx, "Austin", "Site", "", "")
	if err != nil {
		t.Fatalf("AddHierarchyInstance(Austin): %v", err)
	}
	n1, err := svc.AddHierarchyInstance(ctx, "N1", "Area", dallas.ID, "")
	if err != nil {
		t.Fatalf("AddHierarchyInstance(N1): %v", err)
	}

	// Dallas has a child instance (N1): deletion must be refused, and N1
	// and its descendants must survive untouched.
	err = svc.DeleteInstance(ctx, dallas.ID)
	if _, ok := err.(PreconditionViolatedError); !ok {
		t.Fatalf("DeleteInstance(Dallas) = %v, want PreconditionViolatedError", err)
	}
	if _, err := svc.store.GetInstance(ctx, dallas.ID); err != nil {
		t.Fatalf("Dallas was removed despite refused delete: %v", err)
	}
	if _, err := svc.store.GetInstance(ctx, n1.ID); err != nil {
		t.Fatalf("N1 was removed despite refused delete: %v", err)
	}

	ok, reason, err := svc.CanDelete(ctx, dallas.ID)
	if err != nil {
		t.Fatalf("CanDelete(Dallas): %v", err)
	}
	if ok || reason == "" {
		t.Fatalf("CanDelete(Dallas) = (%v, %q), want (false, non-empty reason)", ok, reason)
	}

	// N1 has a namespace attached: still refused.
	ns, err := svc.AddNamespace(ctx, "Production", "", n1.ID)
	if err != nil {
		t.Fatalf("AddNamespace: %v", err)
	}
	if err := svc.DeleteInstance(ctx, n1.ID); err == nil {
		t.Fatalf("DeleteInstance(N1) with a namespace attached succeeded, want refusal")
	}

	// Removing the namespace but leaving a referencing topic still blocks.
	path, err := svc.Path(ctx, ns.ID)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if err := svc.DeleteNamespace(ctx, ns.ID); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	topics.Save(ctx, &topicstore.TopicConfiguration{Topic: "t1", NSPath: path})
	if err := svc.DeleteInstance(ctx, n1.ID); err == nil {
		t.Fatalf("DeleteInstance(N1) with a referencing topic succeeded, want refusal")
	}

	// Deleting the referencing topic makes N1 a genuine leaf: delete succeeds,
	// and the untouched sibling Austin is unaffected.
	topics.Delete(ctx, "t1")
	if err := svc.DeleteInstance(ctx, n1.ID); err != nil {
		t.Fatalf("DeleteInstance(N1) as leaf: %v", err)
	}
	if _, err := svc.store.GetInstance(ctx, austin.ID); err != nil {
		t.Errorf("sibling instance Austin was affected: %v", err)
	}
	if err := svc.DeleteInstance(ctx, dallas.ID); err != nil {
		t.Fatalf("DeleteInstance(Dallas) once leaf: %v", err)
	}
}

func TestGetStructureBuildsMergedTree(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)

	dallas, _ := svc.AddHierarchyInstance(ctx, "Dallas", "Site", "", "")
	svc.AddHierarchyInstance(ctx, "N1", "Area", dallas.ID, "")
	svc.AddNamespace(ctx, "Production", "", dallas.ID)

	tree, err := svc.GetStructure(ctx)
	if err != nil {
		t.Fatalf("GetStructure: %v", err)
	}
	if len(tree) != 1 {
		t.Fatalf("got %d root nodes, want 1", len(tree))
	}
	root := tree[0]
	if root.Instance.Name != "Dallas" {
		t.Errorf("root = %q, want Dallas", root.Instance.Name)
	}
	if len(root.Children) != 1 || root.Children[0].Instance.Name != "N1" {
		t.Errorf("Dallas children = %v, want [N1]", root.Children)
	}
	if len(root.Namespaces) != 1 || root.Namespaces[0].Namespace.Name != "Production" {
		t.Errorf("Dallas namespaces = %v, want [Production]", root.Namespaces)
	}
}
