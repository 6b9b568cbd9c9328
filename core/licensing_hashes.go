package core

// wildcardMarker is the sentinel licensee-key value meaning "any holder",
// used by the wildcarded variants of GetLicenseeHashes (§4.3.1).
var wildcardMarker = []byte("*")

// LicenseeHashKind names one of the six lookup digests a License produces,
// so a storage query can probe the exact variant it has a candidate for
// instead of recomputing and comparing all six.
type LicenseeHashKind int

const (
	LicenseeByNode LicenseeHashKind = iota
	LicenseeByNodeWildcard
	LicenseeByParent
	LicenseeByParentWildcard
	LicenseeByOwner
	LicenseeByOwnerWildcard
)

// GetLicenseeHashes enumerates the six digests (§4.3.1) under which a
// License's grant may be looked up: scoped to the exact target node, to its
// parent (covering every sibling under that parent), or to the target's
// owner (covering every node that owner holds) — each either bound to a
// specific licensee public key or left wildcarded to match any holder.
func GetLicenseeHashes(targetID1, parentID, owner, licenseePublicKey []byte) map[LicenseeHashKind][32]byte {
	return map[LicenseeHashKind][32]byte{
		LicenseeByNode:           Blake2b256([]byte("lic-node"), targetID1, licenseePublicKey),
		LicenseeByNodeWildcard:   Blake2b256([]byte("lic-node"), targetID1, wildcardMarker),
		LicenseeByParent:         Blake2b256([]byte("lic-parent"), parentID, licenseePublicKey),
		LicenseeByParentWildcard: Blake2b256([]byte("lic-parent"), parentID, wildcardMarker),
		LicenseeByOwner:          Blake2b256([]byte("lic-owner"), owner, licenseePublicKey),
		LicenseeByOwnerWildcard:  Blake2b256([]byte("lic-owner"), owner, wildcardMarker),
	}
}

// MatchesLicenseeHash reports whether candidate equals any of the six
// digests computed for (targetID1, parentID, owner, licenseePublicKey).
func MatchesLicenseeHash(candidate [32]byte, targetID1, parentID, owner, licenseePublicKey []byte) bool {
	for _, h := range GetLicenseeHashes(targetID1, parentID, owner, licenseePublicKey) {
		if h == candidate {
			return true
		}
	}
	return false
}
