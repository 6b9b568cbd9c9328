package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"nodegraph/core"
)

// StoreResult is the outcome of a batched Store call (§4.4): the id1s
// actually persisted (inserted or updated in place) and the deduplicated
// parent ids whose subtree needs freshening.
type StoreResult struct {
	InsertedID1s      [][]byte
	AffectedParentIDs [][]byte
}

// Store runs the §4.4.1 insertion pipeline as a single transaction:
// filterExisting, filterDestroyed, filterUnique, insertNodes, the auxiliary
// index inserts, and finally bumping newly-licensed targets and freshening
// every touched parent trail. A UNIQUE violation racing against a concurrent
// session is retried exactly once.
func (d *Driver) Store(ctx context.Context, nodes []*core.Node, now uint64, preserveTransient bool) (*StoreResult, error) {
	return d.storeAttempt(ctx, nodes, now, preserveTransient, true)
}

func (d *Driver) storeAttempt(ctx context.Context, nodes []*core.Node, now uint64, preserveTransient bool, allowRetry bool) (*StoreResult, error) {
	tx, err := d.beginTx(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := d.filterExisting(ctx, tx, nodes, preserveTransient)
	if err != nil {
		tx.rollback()
		return nil, err
	}
	candidates, err = d.filterDestroyed(ctx, tx, candidates)
	if err != nil {
		tx.rollback()
		return nil, err
	}
	candidates, err = d.filterUnique(ctx, tx, candidates)
	if err != nil {
		tx.rollback()
		return nil, err
	}

	result := &StoreResult{}
	parentSet := map[string][]byte{}
	var licenseBumpHashes [][32]byte

	for _, n := range candidates {
		id1, ok := n.ID1()
		if !ok {
			continue // unsigned candidate: nothing to persist
		}
		image, err := n.Export(preserveTransient)
		if err != nil {
			tx.rollback()
			return nil, err
		}
		if err := d.insertNode(ctx, tx, n, id1, image, now); err != nil {
			classified := d.client.classify(err)
			if classified == ErrUniqueViolation && allowRetry {
				tx.rollback()
				return d.storeAttempt(ctx, nodes, now, preserveTransient, false)
			}
			tx.rollback()
			return nil, classified
		}
		if err := d.insertAchillesHashes(ctx, tx, n, id1); err != nil {
			tx.rollback()
			return nil, err
		}
		if err := d.insertDestroyHashes(ctx, tx, n, id1); err != nil {
			tx.rollback()
			return nil, err
		}
		targets, err := d.insertLicensingHashes(ctx, tx, n, id1)
		if err != nil {
			tx.rollback()
			return nil, err
		}
		for _, t := range targets {
			licenseBumpHashes = append(licenseBumpHashes, core.BumpHashForID1(t))
		}
		if err := d.insertFriendCert(ctx, tx, n, id1); err != nil {
			tx.rollback()
			return nil, err
		}

		result.InsertedID1s = append(result.InsertedID1s, id1)
		if parentID, ok := n.ParentID(); ok && len(parentID) > 0 {
			parentSet[string(parentID)] = parentID
		}
	}

	if len(licenseBumpHashes) > 0 {
		bumpedParents, err := d.bumpNodesTx(ctx, tx, licenseBumpHashes, now)
		if err != nil {
			tx.rollback()
			return nil, err
		}
		for _, p := range bumpedParents {
			parentSet[string(p)] = p
		}
	}

	for _, p := range parentSet {
		result.AffectedParentIDs = append(result.AffectedParentIDs, p)
	}
	if err := freshenParentTrailTx(ctx, tx, result.AffectedParentIDs, now); err != nil {
		tx.rollback()
		return nil, err
	}

	if err := tx.commit(); err != nil {
		return nil, err
	}
	for _, id1 := range result.InsertedID1s {
		d.logAudit("node.store", map[string]string{"id1": core.CID(toArray32(id1))})
	}
	return result, nil
}

// filterExisting drops candidates whose id1 is already stored, unless
// preserveTransient is set and the stored transientHash differs — in which
// case the candidate is kept so insertNode can update the row in place.
func (d *Driver) filterExisting(ctx context.Context, tx *dbTx, nodes []*core.Node, preserveTransient bool) ([]*core.Node, error) {
	out := make([]*core.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, ok := n.ID1(); !ok {
			continue
		}
		id1, _ := n.ID1()
		var storedHash []byte
		row := tx.queryRow(ctx, `SELECT transient_hash FROM nodes WHERE id1 = ?`, id1)
		switch err := row.Scan(&storedHash); {
		case err == sql.ErrNoRows:
			out = append(out, n)
		case err != nil:
			return nil, err
		case !preserveTransient:
			// already stored and caller didn't ask for a transient refresh
		default:
			th := n.TransientHash()
			if !bytes.Equal(storedHash, th[:]) {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// filterDestroyed drops candidates whose achilles hashes already intersect
// destroy_hashes (§4.4.5): a valid destroyer beat them to storage.
func (d *Driver) filterDestroyed(ctx context.Context, tx *dbTx, nodes []*core.Node) ([]*core.Node, error) {
	out := make([]*core.Node, 0, len(nodes))
	for _, n := range nodes {
		destroyed := false
		for _, h := range n.GetAchillesHashes() {
			var exists int
			row := tx.queryRow(ctx, `SELECT 1 FROM destroy_hashes WHERE hash = ? LIMIT 1`, h[:])
			switch err := row.Scan(&exists); {
			case err == nil:
				destroyed = true
			case err == sql.ErrNoRows:
			default:
				return nil, err
			}
			if destroyed {
				break
			}
		}
		if !destroyed {
			out = append(out, n)
		}
	}
	return out, nil
}

// filterUnique collapses IS_UNIQUE candidates sharing a sharedHash within
// the batch (earliest creationTime wins, ties broken by lexicographic id1),
// then drops any whose sharedHash already has a conflicting row stored
// (letting insertNode's own UNIQUE constraint catch only the race case).
func (d *Driver) filterUnique(ctx context.Context, tx *dbTx, nodes []*core.Node) ([]*core.Node, error) {
	collapsed := collapseUniqueInBatch(nodes)
	out := make([]*core.Node, 0, len(collapsed))
	for _, n := range collapsed {
		if !n.ConfigBit(core.IsUnique) {
			out = append(out, n)
			continue
		}
		h := n.SharedHash()
		var existing []byte
		row := tx.queryRow(ctx, `SELECT id1 FROM nodes WHERE shared_hash = ? LIMIT 1`, h[:])
		switch err := row.Scan(&existing); {
		case err == nil:
			// a conflicting row already exists: drop the candidate
		case err == sql.ErrNoRows:
			out = append(out, n)
		default:
			return nil, err
		}
	}
	return out, nil
}

func collapseUniqueInBatch(nodes []*core.Node) []*core.Node {
	type best struct {
		n   *core.Node
		ct  uint64
		id1 []byte
	}
	winners := map[[32]byte]best{}
	var order [][32]byte
	nonUnique := make([]*core.Node, 0, len(nodes))
	for _, n := range nodes {
		if !n.ConfigBit(core.IsUnique) {
			nonUnique = append(nonUnique, n)
			continue
		}
		h := n.SharedHash()
		ct, _ := n.CreationTime()
		id1, _ := n.ID1()
		cur, ok := winners[h]
		if !ok {
			winners[h] = best{n, ct, id1}
			order = append(order, h)
			continue
		}
		if ct < cur.ct || (ct == cur.ct && bytes.Compare(id1, cur.id1) < 0) {
			winners[h] = best{n, ct, id1}
		}
	}
	out := make([]*core.Node, 0, len(nonUnique)+len(order))
	out = append(out, nonUnique...)
	for _, h := range order {
		out = append(out, winners[h].n)
	}
	return out
}

// insertNode upserts the node's row: a fresh id1 is inserted; an id1 already
// present (kept by filterExisting because its transientHash changed) has its
// mutable columns refreshed in place.
func (d *Driver) insertNode(ctx context.Context, tx *dbTx, n *core.Node, id1, image []byte, now uint64) error {
	id2, _ := n.ID2()
	parentID, _ := n.ParentID()
	owner, _ := n.Owner()
	ct, _ := n.CreationTime()
	et, _ := n.ExpireTime()
	hdr := n.Model().Header()
	sharedHash := n.SharedHash()
	transientHash := n.TransientHash()
	bumpHash := n.BumpHash()

	_, err := tx.exec(ctx, `
		INSERT INTO nodes (id1, id2, parent_id, owner, shared_hash, transient_hash, bump_hash,
			primary_iface, secondary_iface, config, transient_config,
			creation_time, expire_time, storage_time, update_time, trail_update_time, image)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id1) DO UPDATE SET
			transient_config = excluded.transient_config,
			transient_hash   = excluded.transient_hash,
			update_time      = excluded.update_time,
			image            = excluded.image`,
		id1, nullable(id2), parentID, owner, sharedHash[:], transientHash[:], bumpHash[:],
		hdr.PrimaryInterface, hdr.SecondaryInterface, configOf(n), transientConfigOf(n),
		ct, et, now, now, now, image,
	)
	return err
}

// achillesHashKinds names the destroy-hash variants a destroyer node (one
// carrying destroyTargetId1) stakes against, covering whichever achilles
// variant its target actually emits.
var achillesHashKinds = []string{"id", "owner-total", "license-group"}

func (d *Driver) insertAchillesHashes(ctx context.Context, tx *dbTx, n *core.Node, id1 []byte) error {
	for _, h := range n.GetAchillesHashes() {
		if _, err := tx.exec(ctx, `
			INSERT INTO achilles_hashes (id1, hash) VALUES (?, ?)
			ON CONFLICT (id1, hash) DO NOTHING`, id1, h[:]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) insertDestroyHashes(ctx context.Context, tx *dbTx, n *core.Node, id1 []byte) error {
	target, ok := n.Model().GetBytes("destroyTargetId1")
	if !ok || len(target) == 0 {
		return nil
	}
	for _, kind := range achillesHashKinds {
		h := core.Blake2b256([]byte(kind), target)
		if _, err := tx.exec(ctx, `
			INSERT INTO destroy_hashes (id1, hash) VALUES (?, ?)
			ON CONFLICT (id1, hash) DO NOTHING`, id1, h[:]); err != nil {
			return err
		}
	}
	return nil
}

// insertLicensingHashes populates the matcher index for a License node,
// returning the target id1 it licenses so the caller can bump that node's
// freshness. Non-License candidates are a no-op.
func (d *Driver) insertLicensingHashes(ctx context.Context, tx *dbTx, n *core.Node, id1 []byte) ([][]byte, error) {
	targetKey, hasTarget := n.TargetPublicKey()
	targetID1, hasRef := n.RefID()
	if !hasTarget || !hasRef {
		return nil, nil
	}
	parentID, _ := n.ParentID()
	owner, _ := n.Owner()
	hashes := core.GetLicenseeHashes(targetID1, parentID, owner, targetKey)

	disallowRetro := n.ConfigBit(core.DisallowParentLicensing)
	restrictiveWriter := n.ConfigBit(core.IsBeginRestrictiveWriteMode)
	restrictiveManager := n.ConfigBit(core.IsEndRestrictiveWriteMode)
	pathHash, _ := n.Model().GetBytes("parentPathHash")

	for kind, h := range hashes {
		// the key-independent wildcard rows are inserted only when the
		// License allows that wildcard; otherwise any requester would match
		if (kind == core.LicenseeByNodeWildcard && !n.LicenseConfigBit(core.LicenseAllowTargetWildcard)) ||
			(kind == core.LicenseeByParentWildcard && !n.LicenseConfigBit(core.LicenseAllowParentWildcard)) ||
			(kind == core.LicenseeByOwnerWildcard && !n.LicenseConfigBit(core.LicenseAllowOwnerWildcard)) {
			continue
		}
		if _, err := tx.exec(ctx, `
			INSERT INTO licensing_hashes
				(id1, hash, disallow_retro_licensing, parent_path_hash, restrictive_mode_writer, restrictive_mode_manager)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id1, hash) DO NOTHING`,
			id1, h[:], disallowRetro, nullable(pathHash), restrictiveWriter, restrictiveManager,
		); err != nil {
			return nil, err
		}
	}
	return [][]byte{targetID1}, nil
}

func (d *Driver) insertFriendCert(ctx context.Context, tx *dbTx, n *core.Node, id1 []byte) error {
	a, hasA := n.Model().GetBytes("friendCertA")
	if !hasA || len(a) == 0 {
		return nil
	}
	owner, _ := n.Owner()
	_, err := tx.exec(ctx, `
		INSERT INTO friend_certs (id1, issuer, constraints, image)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id1) DO UPDATE SET issuer = excluded.issuer, image = excluded.image`,
		id1, owner, nil, a,
	)
	return err
}

// DeleteNodes removes every node named by ids, and every auxiliary row
// keyed on those ids, as one transaction (§4.4).
func (d *Driver) DeleteNodes(ctx context.Context, ids [][]byte) error {
	tx, err := d.beginTx(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		for _, stmt := range []string{
			`DELETE FROM nodes WHERE id1 = ?`,
			`DELETE FROM achilles_hashes WHERE id1 = ?`,
			`DELETE FROM destroy_hashes WHERE id1 = ?`,
			`DELETE FROM licensing_hashes WHERE id1 = ?`,
			`DELETE FROM friend_certs WHERE id1 = ?`,
		} {
			if _, err := tx.exec(ctx, stmt, id); err != nil {
				tx.rollback()
				return err
			}
		}
	}
	if err := tx.commit(); err != nil {
		return err
	}
	for _, id := range ids {
		d.logAudit("node.delete", map[string]string{"id1": core.CID(toArray32(id))})
	}
	return nil
}

// isDestroyed reports whether id1 has a destroy hash on record for any of
// its own achilles hashes — the read-time half of §4.4.5 destruction
// (filterDestroyed at insert time only catches destroyers that arrived
// first; a destroyer stored afterward needs this check on every read).
func (d *Driver) isDestroyed(ctx context.Context, id1 []byte) (bool, error) {
	var exists int
	row := d.queryRow(ctx, `
		SELECT 1 FROM achilles_hashes a
		JOIN destroy_hashes d ON a.hash = d.hash
		WHERE a.id1 = ? LIMIT 1`, id1)
	switch err := row.Scan(&exists); {
	case err == nil:
		return true, nil
	case err == sql.ErrNoRows:
		return false, nil
	default:
		return false, err
	}
}

// GetNodeById1 fetches and decodes a single node by its primary id1,
// excluding destroyed nodes from visibility.
func (d *Driver) GetNodeById1(ctx context.Context, id1 []byte, now uint64) (*core.Node, error) {
	var image []byte
	row := d.queryRow(ctx, `SELECT image FROM nodes WHERE id1 = ?`, id1)
	if err := row.Scan(&image); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	destroyed, err := d.isDestroyed(ctx, id1)
	if err != nil {
		return nil, err
	}
	if destroyed {
		return nil, ErrNotFound
	}
	return core.DecodeNode(image, d.options.PreserveTransient)
}

// GetNodesById1 fetches many nodes by id1, one GetNodeById1 query per id,
// keyed by string(id1); missing or destroyed ids are left out of the map.
func (d *Driver) GetNodesById1(ctx context.Context, ids [][]byte, now uint64) (map[string]*core.Node, error) {
	out := make(map[string]*core.Node, len(ids))
	for _, id := range ids {
		n, err := d.GetNodeById1(ctx, id, now)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[string(id)] = n
	}
	return out, nil
}

// FetchFilter narrows FindNode to the indexed columns the nodes table
// maintains; anything finer-grained is applied in Go over the decoded Model
// via core.Model.Cmp. Unlike FetchSingleNode this performs no permission
// check — it's an internal lookup helper.
type FetchFilter struct {
	ParentID []byte
	Owner    []byte
}

// FindNode returns the first node matching filter, with no permission
// check applied, or ErrNotFound.
func (d *Driver) FindNode(ctx context.Context, filter FetchFilter, now uint64) (*core.Node, error) {
	query := `SELECT id1, image FROM nodes WHERE 1=1`
	var args []interface{}
	if filter.ParentID != nil {
		query += ` AND parent_id = ?`
		args = append(args, filter.ParentID)
	}
	if filter.Owner != nil {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	query += ` LIMIT 1`
	var id1, image []byte
	row := d.queryRow(ctx, query, args...)
	if err := row.Scan(&id1, &image); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	destroyed, err := d.isDestroyed(ctx, id1)
	if err != nil {
		return nil, err
	}
	if destroyed {
		return nil, ErrNotFound
	}
	return core.DecodeNode(image, d.options.PreserveTransient)
}

// FetchSingleNode is the permission-aware single-node read (§4.4.3):
// sourcePk is the requester's own key (checked for owner-self), targetPk is
// the licensee identity the request is evaluated under (checked against
// licensing_hashes).
func (d *Driver) FetchSingleNode(ctx context.Context, id1, sourcePk, targetPk []byte, now uint64) (*core.Node, error) {
	n, err := d.GetNodeById1(ctx, id1, now)
	if err != nil {
		return nil, err
	}
	allowed, err := d.checkReadPermission(ctx, n, sourcePk, targetPk, now, 0)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrPermissionDenied
	}
	return n, nil
}

// RootQuery names the node a traversal wants to root at and the requester's
// identity pair, as consumed by GetRootNode.
type RootQuery struct {
	ID1      []byte
	SourcePK []byte
	TargetPK []byte
}

// GetRootNode resolves a traversal root, enforcing §4.4.2's root-eligibility
// rules and surfacing the exact reason a rejected root was refused.
func (d *Driver) GetRootNode(ctx context.Context, q RootQuery, now uint64) (*core.Node, string) {
	n, err := d.GetNodeById1(ctx, q.ID1, now)
	if err != nil {
		return nil, ReasonRootNotFound
	}
	allowed, err := d.checkReadPermission(ctx, n, q.SourcePK, q.TargetPK, now, 0)
	if err != nil || !allowed {
		return nil, ReasonRootAccessDenied
	}
	if n.ConfigBit(core.IsLicensed) {
		return nil, ReasonRootLicensed
	}
	if n.ConfigBit(core.IsBeginRestrictiveWriteMode) {
		return nil, ReasonRootRestrictiveWriter
	}
	if n.ConfigBit(core.HasRightsByAssociation) {
		return nil, ReasonRootHasRightsByAssociation
	}
	return n, ""
}

// BumpNodes marks freshness for every row whose bumpHash matches one of
// hashes, then propagates trailUpdateTime up each affected parent trail
// (§4.4.4), returning the distinct parent ids touched.
func (d *Driver) BumpNodes(ctx context.Context, bumpHashes [][32]byte, now uint64) ([][]byte, error) {
	tx, err := d.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	parents, err := d.bumpNodesTx(ctx, tx, bumpHashes, now)
	if err != nil {
		tx.rollback()
		return nil, err
	}
	if err := freshenParentTrailTx(ctx, tx, parents, now); err != nil {
		tx.rollback()
		return nil, err
	}
	if err := tx.commit(); err != nil {
		return nil, err
	}
	for _, h := range bumpHashes {
		d.logAudit("node.bump", map[string]string{"bumpHash": fmt.Sprintf("%x", h[:])})
	}
	return parents, nil
}

func (d *Driver) bumpNodesTx(ctx context.Context, tx *dbTx, bumpHashes [][32]byte, now uint64) ([][]byte, error) {
	parentSet := map[string][]byte{}
	for _, h := range bumpHashes {
		rows, err := tx.query(ctx, `SELECT id1, parent_id FROM nodes WHERE bump_hash = ?`, h[:])
		if err != nil {
			return nil, err
		}
		var matched [][]byte
		for rows.Next() {
			var id1, parentID []byte
			if err := rows.Scan(&id1, &parentID); err != nil {
				rows.Close()
				return nil, err
			}
			matched = append(matched, id1)
			if len(parentID) > 0 {
				parentSet[string(parentID)] = parentID
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		for _, id1 := range matched {
			if _, err := tx.exec(ctx, `
				UPDATE nodes SET update_time = ?, trail_update_time = ?
				WHERE id1 = ? AND trail_update_time < ?`, now, now, id1, now); err != nil {
				return nil, err
			}
		}
	}
	parents := make([][]byte, 0, len(parentSet))
	for _, p := range parentSet {
		parents = append(parents, p)
	}
	return parents, nil
}

// FreshenParentTrail sets trailUpdateTime := now for each of parentIDs and
// every ancestor up to the root, never letting trailUpdateTime decrease
// (invariant 9), idempotently.
func (d *Driver) FreshenParentTrail(ctx context.Context, parentIDs [][]byte, now uint64) error {
	tx, err := d.beginTx(ctx)
	if err != nil {
		return err
	}
	if err := freshenParentTrailTx(ctx, tx, parentIDs, now); err != nil {
		tx.rollback()
		return err
	}
	return tx.commit()
}

func freshenParentTrailTx(ctx context.Context, tx *dbTx, ids [][]byte, now uint64) error {
	seen := map[string]bool{}
	queue := append([][]byte{}, ids...)
	for depth := 0; len(queue) > 0 && depth < maxTrailDepth; depth++ {
		var next [][]byte
		for _, id := range queue {
			key := string(id)
			if seen[key] {
				continue
			}
			seen[key] = true

			var parentID []byte
			row := tx.queryRow(ctx, `SELECT parent_id FROM nodes WHERE id1 = ?`, id)
			switch err := row.Scan(&parentID); {
			case err == sql.ErrNoRows:
				continue
			case err != nil:
				return err
			}
			if _, err := tx.exec(ctx, `
				UPDATE nodes SET trail_update_time = ?
				WHERE id1 = ? AND trail_update_time < ?`, now, id, now); err != nil {
				return err
			}
			if len(parentID) > 0 && string(parentID) != key {
				next = append(next, parentID)
			}
		}
		queue = next
	}
	return nil
}

const maxTrailDepth = 1000

func toArray32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func configOf(n *core.Node) uint64 {
	v, _ := n.Model().GetUint("config")
	return v
}

func transientConfigOf(n *core.Node) uint64 {
	v, _ := n.Model().GetUint("transientConfig")
	return v
}
