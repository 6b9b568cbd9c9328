package storage

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"nodegraph/core"
	"nodegraph/internal/audit"
)

func openTestDriver(t *testing.T) *Driver {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "nodes.db") + "?_pragma=busy_timeout(5000)"
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	d, err := Open(KindSQLite, dsn, log, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testDataNode(t *testing.T, parentID []byte, data string) (*core.Node, ed25519.PublicKey) {
	t.Helper()
	owner, priv, err := core.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	n, err := core.NewSignedDataNode(owner, parentID, 1000, 0, priv, 0, []byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return n, owner
}

// signedPrivateNode builds an unsigned Data node, lets configure mutate it,
// then signs with a fresh keypair — used whenever a test needs config bits
// set before signing (Sign must run last, since id1 depends on them).
func signedPrivateNode(t *testing.T, owner ed25519.PublicKey, parentID []byte, configure func(*core.Node)) *core.Node {
	t.Helper()
	n := core.NewDataNode()
	_ = n.SetOwner(owner)
	_ = n.SetParentID(parentID)
	_ = n.SetCreationTime(1000)
	if configure != nil {
		configure(n)
	}
	_, priv, err := core.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Sign(0, priv); err != nil {
		t.Fatal(err)
	}
	return n
}

func mustStore(t *testing.T, ctx context.Context, d *Driver, now uint64, nodes ...*core.Node) *StoreResult {
	t.Helper()
	res, err := d.Store(ctx, nodes, now, false)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	return res
}

func TestStoreAndGetNodeById1(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	n, _ := testDataNode(t, make([]byte, 32), "hello")
	mustStore(t, ctx, d, 1000, n)

	id1, _ := n.ID1()
	got, err := d.GetNodeById1(ctx, id1, 1000)
	if err != nil {
		t.Fatalf("GetNodeById1: %v", err)
	}
	data, _ := got.Data()
	if string(data) != "hello" {
		t.Errorf("data = %q, want hello", data)
	}
}

func TestGetNodeByIdNotFound(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	if _, err := d.GetNodeById1(ctx, make([]byte, 32), 1000); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteNodes(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	n, _ := testDataNode(t, make([]byte, 32), "x")
	mustStore(t, ctx, d, 1000, n)

	id1, _ := n.ID1()
	if err := d.DeleteNodes(ctx, [][]byte{id1}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GetNodeById1(ctx, id1, 1000); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoreSkipsAlreadyStoredNode(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	n, _ := testDataNode(t, make([]byte, 32), "x")
	res1 := mustStore(t, ctx, d, 1000, n)
	if len(res1.InsertedID1s) != 1 {
		t.Fatalf("first store: got %d inserted, want 1", len(res1.InsertedID1s))
	}
	res2 := mustStore(t, ctx, d, 2000, n)
	if len(res2.InsertedID1s) != 0 {
		t.Errorf("second store of the same id1: got %d inserted, want 0", len(res2.InsertedID1s))
	}
}

// TestStoreUniqueConflictDropsDuplicate mirrors scenario 3: two distinct
// IS_UNIQUE nodes sharing a sharedHash collapse to one stored row, and
// re-storing a second conflicting node afterward inserts nothing.
func TestStoreUniqueConflictDropsDuplicate(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	owner, priv, _ := core.GenerateKeypair()
	parentID := make([]byte, 32)

	_, priv2, _ := core.GenerateKeypair()

	build := func(creation uint64, signer ed25519.PrivateKey) *core.Node {
		n := core.NewDataNode()
		_ = n.SetOwner(owner)
		_ = n.SetParentID(parentID)
		_ = n.SetCreationTime(creation)
		_ = n.SetContentType("text/plain")
		n.SetConfigBit(core.IsUnique, true)
		n.SetConfigBit(core.IsLeaf, true)
		if err := n.Sign(0, signer); err != nil {
			t.Fatal(err)
		}
		return n
	}
	n1 := build(1000, priv)
	// identical hashable fields: same sharedHash; the (unhashed) signature
	// differs, so n2 has its own id1 and only the unique rule can drop it
	n2 := build(1000, priv2)

	res1 := mustStore(t, ctx, d, 1000, n1)
	if len(res1.InsertedID1s) != 1 {
		t.Fatalf("first store: got %d inserted, want 1", len(res1.InsertedID1s))
	}
	res2 := mustStore(t, ctx, d, 1000, n2)
	if len(res2.InsertedID1s) != 0 {
		t.Errorf("conflicting unique node: got %d inserted, want 0", len(res2.InsertedID1s))
	}
}

// TestDestructionAppliesAtReadTimeEvenWhenDestroyerArrivesLater mirrors
// scenario 4: the destroyer is stored strictly after its target, so only a
// read-time check (not filterDestroyed at insert time) can hide the target.
func TestDestructionAppliesAtReadTimeEvenWhenDestroyerArrivesLater(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	target, targetOwner := testDataNode(t, make([]byte, 32), "doomed")
	mustStore(t, ctx, d, 1000, target)
	targetID1, _ := target.ID1()

	if _, err := d.GetNodeById1(ctx, targetID1, 1000); err != nil {
		t.Fatalf("target should be visible before destruction: %v", err)
	}

	destroyer := core.NewDataNode()
	_ = destroyer.SetOwner(targetOwner)
	_ = destroyer.SetParentID(make([]byte, 32))
	_ = destroyer.SetCreationTime(2000)
	_ = destroyer.Model().SetBytes("destroyTargetId1", targetID1)
	_, destroyerPriv, _ := core.GenerateKeypair()
	if err := destroyer.Sign(0, destroyerPriv); err != nil {
		t.Fatal(err)
	}
	mustStore(t, ctx, d, 2000, destroyer)

	if _, err := d.GetNodeById1(ctx, targetID1, 2000); err != ErrNotFound {
		t.Errorf("destroyed target should read back ErrNotFound, got %v", err)
	}
}

func TestBumpNodesPropagatesTrailUpdateTimeMonotonically(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()

	grandparent, _ := testDataNode(t, make([]byte, 32), "gp")
	mustStore(t, ctx, d, 100, grandparent)
	gpID1, _ := grandparent.ID1()

	parent, _ := testDataNode(t, gpID1, "p")
	mustStore(t, ctx, d, 100, parent)
	parentID1, _ := parent.ID1()

	child, _ := testDataNode(t, parentID1, "c")
	mustStore(t, ctx, d, 100, child)
	childID1, _ := child.ID1()

	bumpHash := core.BumpHashForID1(childID1)
	affected, err := d.BumpNodes(ctx, [][32]byte{bumpHash}, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(affected) != 1 || string(affected[0]) != string(parentID1) {
		t.Fatalf("BumpNodes affected parents = %x, want [%x]", affected, parentID1)
	}

	var trailUpdateTime uint64
	row := d.queryRow(ctx, `SELECT trail_update_time FROM nodes WHERE id1 = ?`, parentID1)
	if err := row.Scan(&trailUpdateTime); err != nil {
		t.Fatal(err)
	}
	if trailUpdateTime != 5000 {
		t.Errorf("parent trail_update_time = %d, want 5000", trailUpdateTime)
	}

	row = d.queryRow(ctx, `SELECT trail_update_time FROM nodes WHERE id1 = ?`, gpID1)
	if err := row.Scan(&trailUpdateTime); err != nil {
		t.Fatal(err)
	}
	if trailUpdateTime != 5000 {
		t.Errorf("grandparent trail_update_time = %d, want 5000 (propagated up the trail)", trailUpdateTime)
	}

	// an earlier bump must never move trailUpdateTime backwards (invariant 9).
	if _, err := d.BumpNodes(ctx, [][32]byte{bumpHash}, 1); err != nil {
		t.Fatal(err)
	}
	row = d.queryRow(ctx, `SELECT trail_update_time FROM nodes WHERE id1 = ?`, parentID1)
	if err := row.Scan(&trailUpdateTime); err != nil {
		t.Fatal(err)
	}
	if trailUpdateTime != 5000 {
		t.Errorf("trail_update_time regressed to %d after an earlier bump, want 5000", trailUpdateTime)
	}
}

func TestGetRootNodeReasons(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	sourcePk, _, _ := core.GenerateKeypair()

	if _, reason := d.GetRootNode(ctx, RootQuery{ID1: make([]byte, 32), SourcePK: sourcePk, TargetPK: sourcePk}, 1000); reason != ReasonRootNotFound {
		t.Errorf("reason = %q, want %q", reason, ReasonRootNotFound)
	}

	store := func(owner ed25519.PublicKey, configure func(*core.Node)) []byte {
		n := signedPrivateNode(t, owner, make([]byte, 32), configure)
		mustStore(t, ctx, d, 1000, n)
		id1, _ := n.ID1()
		return id1
	}

	licensedID := store(sourcePk, func(n *core.Node) { n.SetConfigBit(core.IsLicensed, true) })
	if _, reason := d.GetRootNode(ctx, RootQuery{ID1: licensedID, SourcePK: sourcePk, TargetPK: sourcePk}, 1000); reason != ReasonRootLicensed {
		t.Errorf("reason = %q, want %q", reason, ReasonRootLicensed)
	}

	restrictiveID := store(sourcePk, func(n *core.Node) { n.SetConfigBit(core.IsBeginRestrictiveWriteMode, true) })
	if _, reason := d.GetRootNode(ctx, RootQuery{ID1: restrictiveID, SourcePK: sourcePk, TargetPK: sourcePk}, 1000); reason != ReasonRootRestrictiveWriter {
		t.Errorf("reason = %q, want %q", reason, ReasonRootRestrictiveWriter)
	}

	otherPk, _, _ := core.GenerateKeypair()
	privateID := store(otherPk, nil)
	if _, reason := d.GetRootNode(ctx, RootQuery{ID1: privateID, SourcePK: sourcePk, TargetPK: sourcePk}, 1000); reason != ReasonRootAccessDenied {
		t.Errorf("reason = %q, want %q", reason, ReasonRootAccessDenied)
	}

	publicID := store(otherPk, func(n *core.Node) { n.SetConfigBit(core.IsPublic, true) })
	if node, reason := d.GetRootNode(ctx, RootQuery{ID1: publicID, SourcePK: sourcePk, TargetPK: sourcePk}, 1000); reason != "" || node == nil {
		t.Errorf("expected public node to be a valid root, got node=%v reason=%q", node, reason)
	}
}

func TestFetchSingleNodePermissionMatrix(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	licensee, _, _ := core.GenerateKeypair()
	stranger, _, _ := core.GenerateKeypair()
	targetOwner, _, _ := core.GenerateKeypair()

	target := signedPrivateNode(t, targetOwner, make([]byte, 32), func(n *core.Node) {
		n.SetConfigBit(core.IsLicensed, true)
	})
	mustStore(t, ctx, d, 1000, target)
	targetID1, _ := target.ID1()

	if _, err := d.FetchSingleNode(ctx, targetID1, stranger, stranger, 1000); err != ErrPermissionDenied {
		t.Errorf("stranger fetch: err = %v, want ErrPermissionDenied", err)
	}
	if n, err := d.FetchSingleNode(ctx, targetID1, targetOwner, targetOwner, 1000); err != nil || n == nil {
		t.Errorf("owner-self fetch failed: %v", err)
	}

	parentID, _ := target.ParentID()
	owner, _ := target.Owner()
	lic := core.NewLicenseNode()
	_ = lic.SetOwner(owner)
	_ = lic.SetParentID(parentID)
	_ = lic.SetCreationTime(900)
	_ = lic.SetExpireTime(5000)
	_ = lic.SetRefID(targetID1)
	_ = lic.SetTargetPublicKey(licensee)
	_ = lic.SetTerms(`{"scope":"read"}`)
	_ = lic.SetMaxDistance(2)
	_ = lic.SetExtensions(2)
	lic.SetConfigBit(core.IsLeaf, true)
	lic.SetConfigBit(core.IsUnique, true)
	_, licPriv, _ := core.GenerateKeypair()
	if err := lic.Sign(0, licPriv); err != nil {
		t.Fatal(err)
	}
	mustStore(t, ctx, d, 1000, lic)

	if n, err := d.FetchSingleNode(ctx, targetID1, stranger, licensee, 1000); err != nil || n == nil {
		t.Errorf("licensee fetch should succeed: %v", err)
	}
	if _, err := d.FetchSingleNode(ctx, targetID1, stranger, stranger, 1000); err != ErrPermissionDenied {
		t.Errorf("non-licensee fetch: err = %v, want ErrPermissionDenied", err)
	}
}

func TestFetchSingleNodeHasRightsByAssociation(t *testing.T) {
	d := openTestDriver(t)
	ctx := context.Background()
	owner, _, _ := core.GenerateKeypair()
	requester, _, _ := core.GenerateKeypair()

	base := signedPrivateNode(t, owner, make([]byte, 32), func(n *core.Node) {
		n.SetConfigBit(core.IsPublic, true)
	})
	mustStore(t, ctx, d, 1000, base)
	baseID1, _ := base.ID1()

	assoc := signedPrivateNode(t, owner, make([]byte, 32), func(n *core.Node) {
		n.SetConfigBit(core.HasRightsByAssociation, true)
		_ = n.SetRefID(baseID1)
	})
	mustStore(t, ctx, d, 1000, assoc)
	assocID1, _ := assoc.ID1()

	if n, err := d.FetchSingleNode(ctx, assocID1, requester, requester, 1000); err != nil || n == nil {
		t.Errorf("expected association fetch to succeed via a public refId target: %v", err)
	}
}

func TestDriverEmitsAuditEvents(t *testing.T) {
	d := openTestDriver(t)
	trail, err := audit.Open(filepath.Join(t.TempDir(), "audit.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer trail.Close()
	d.SetAuditTrail(trail)

	ctx := context.Background()
	n, _ := testDataNode(t, make([]byte, 32), "x")
	mustStore(t, ctx, d, 1000, n)
	id1, _ := n.ID1()
	if _, err := d.BumpNodes(ctx, [][32]byte{core.BumpHashForID1(id1)}, 2000); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteNodes(ctx, [][]byte{id1}); err != nil {
		t.Fatal(err)
	}

	events, err := trail.Report()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d audit events, want 3", len(events))
	}
	wantActions := []string{"node.store", "node.bump", "node.delete"}
	for i, want := range wantActions {
		if events[i].Action != want {
			t.Errorf("event[%d].Action = %q, want %q", i, events[i].Action, want)
		}
	}
}

func TestCheckWritePermissionOnlyOwnChildren(t *testing.T) {
	parent, _ := testDataNode(t, make([]byte, 32), "parent")
	parent.SetConfigBit(core.OnlyOwnChildren, true)
	child, _ := testDataNode(t, make([]byte, 32), "child")
	if err := CheckWritePermission(parent, child); err != ErrPermissionDenied {
		t.Errorf("expected permission denied for a different owner, got %v", err)
	}
}
