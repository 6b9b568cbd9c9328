package storage

import (
	"bytes"
	"context"
	"database/sql"

	"nodegraph/core"
)

// maxAssociationDepth bounds the HAS_RIGHTS_BY_ASSOCIATION recursion in
// checkReadPermission against a refId cycle.
const maxAssociationDepth = 8

// CheckWritePermission checks a parent node's child-write policy against a
// candidate child (§4.4); Store does not call it: ONLY_OWN_CHILDREN
// restricts children to the parent's own owner, DISALLOW_PUBLIC_CHILDREN
// forbids IS_PUBLIC children, and childMinDifficulty floors the child's
// proof-of-work difficulty.
func CheckWritePermission(parent, child *core.Node) error {
	if parent.ConfigBit(core.OnlyOwnChildren) {
		parentOwner, _ := parent.Owner()
		childOwner, _ := child.Owner()
		if !bytes.Equal(parentOwner, childOwner) {
			return ErrPermissionDenied
		}
	}
	if parent.ConfigBit(core.DisallowPublicChildren) && child.ConfigBit(core.IsPublic) {
		return ErrPermissionDenied
	}
	if minD, ok := parent.Model().GetUint("childMinDifficulty"); ok {
		if uint64(child.Difficulty()) < minD {
			return ErrPermissionDenied
		}
	}
	if parent.ConfigBit(core.IsBeginRestrictiveWriteMode) && !parent.ConfigBit(core.IsEndRestrictiveWriteMode) {
		// restrictive-write window open and not yet closed: only the
		// parent's own owner may add children during this window.
		parentOwner, _ := parent.Owner()
		childOwner, _ := child.Owner()
		if !bytes.Equal(parentOwner, childOwner) {
			return ErrPermissionDenied
		}
	}
	return nil
}

// checkReadPermission implements the §4.4.3 fetch permission matrix.
// sourcePk is the requester's own key, checked for owner-self; targetPk is
// the licensee identity the request is evaluated under when matching
// licensing_hashes. HAS_RIGHTS_BY_ASSOCIATION recurses into refId, bounded
// by maxAssociationDepth.
func (d *Driver) checkReadPermission(ctx context.Context, n *core.Node, sourcePk, targetPk []byte, now uint64, depth int) (bool, error) {
	if n.ConfigBit(core.IsPublic) {
		return true, nil
	}
	owner, _ := n.Owner()
	if bytes.Equal(owner, sourcePk) {
		return true, nil
	}
	if n.ConfigBit(core.IsLicensed) {
		matched, err := d.matchesLicensingHash(ctx, n, targetPk)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	if n.ConfigBit(core.HasRightsByAssociation) {
		if depth >= maxAssociationDepth {
			return false, nil
		}
		refID, ok := n.RefID()
		if !ok {
			return false, nil
		}
		target, err := d.GetNodeById1(ctx, refID, now)
		if err != nil {
			if err == ErrNotFound {
				return false, nil
			}
			return false, err
		}
		return d.checkReadPermission(ctx, target, sourcePk, targetPk, now, depth+1)
	}
	return false, nil
}

// matchesLicensingHash probes all six licensee-hash variants (§4.3.1) for n
// against targetPk, honoring each matching row's retro-licensing and
// restrictive-mode flags.
func (d *Driver) matchesLicensingHash(ctx context.Context, n *core.Node, targetPk []byte) (bool, error) {
	id1, _ := n.ID1()
	parentID, _ := n.ParentID()
	owner, _ := n.Owner()
	hashes := core.GetLicenseeHashes(id1, parentID, owner, targetPk)

	for kind, h := range hashes {
		var disallowRetro, restrictiveWriter, restrictiveManager bool
		row := d.queryRow(ctx, `
			SELECT disallow_retro_licensing, restrictive_mode_writer, restrictive_mode_manager
			FROM licensing_hashes WHERE hash = ? LIMIT 1`, h[:])
		switch err := row.Scan(&disallowRetro, &restrictiveWriter, &restrictiveManager); {
		case err == sql.ErrNoRows:
			continue
		case err != nil:
			return false, err
		}

		if disallowRetro && kind != core.LicenseeByNode && kind != core.LicenseeByNodeWildcard {
			// DISALLOW_RETRO_LICENSING: the grant may not reach this node by
			// parent/owner inheritance, only by a direct per-node match.
			continue
		}
		if restrictiveWriter && !(n.ConfigBit(core.IsBeginRestrictiveWriteMode) || n.ConfigBit(core.IsEndRestrictiveWriteMode)) {
			continue
		}
		if restrictiveManager && !n.ConfigBit(core.IsEndRestrictiveWriteMode) {
			continue
		}
		return true, nil
	}
	return false, nil
}
