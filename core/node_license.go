package core

import (
	"crypto/ed25519"
	"errors"
)

// LicenseClassDefault is the class identifier for a License node (§3.4).
const LicenseClassDefault byte = 1

// LicenseConfigBit indexes a License's own `licenseConfig` bitset, distinct
// from the base node `config` bitset (§4.3.1).
type LicenseConfigBit uint

const (
	LicenseAllowTargetWildcard LicenseConfigBit = iota
	LicenseAllowParentWildcard
	LicenseAllowOwnerWildcard
	LicenseIsExtension
	LicenseIsFriendExtension
)

var licenseSchema = mustSchema(baseSchema, []FieldDef{
	{Index: 26, Name: "targetPublicKey", Type: TypeFixed32, Hash: true},
	{Index: 27, Name: "terms", Type: TypeString, MaxSize: 1 << 16, Hash: true},
	{Index: 28, Name: "extensions", Type: TypeUint8, Hash: true},
	{Index: 29, Name: "friendLevel", Type: TypeUint8, Hash: true},
	{Index: 30, Name: "friendCertA", Type: TypeBuffer, MaxSize: 4096, Hash: true},
	{Index: 31, Name: "friendCertB", Type: TypeBuffer, MaxSize: 4096, Hash: true},
	{Index: 32, Name: "jumpPeerPublicKey", Type: TypeFixed32, Hash: true},
	{Index: 33, Name: "parentPathHash", Type: TypeFixed32, Hash: true},
	{Index: 34, Name: "maxDistance", Type: TypeUint8, Hash: true},
	{Index: 35, Name: "licenseConfig", Type: TypeUint8, Hash: true},
})

// MaxLicenseExtensions bounds the License "extensions" field (§4.3: extensions ∈ [0,6]).
const MaxLicenseExtensions = 6

// NewLicenseNode builds an unsigned License node (C5, §3.4).
func NewLicenseNode() *Node {
	n := newNode(SecondaryInterfaceLicense, LicenseClassDefault, 1, licenseSchema)
	n.SetConfigBit(IsLicensed, false) // a License node itself is never the licensed target
	n.SetConfigBit(AllowEmbed, true)  // a License must accept being embedded by its own extension
	return n
}

// LoadLicenseNode decodes a License node image.
func LoadLicenseNode(image []byte, preserveTransient bool) (*Node, error) {
	n, err := LoadNode(licenseSchema, image, preserveTransient)
	if err != nil {
		return nil, err
	}
	if n.model.header.SecondaryInterface != SecondaryInterfaceLicense {
		return nil, newDecodeErr(TypeMismatch, 0, -1)
	}
	return n, nil
}

func (n *Node) TargetPublicKey() ([]byte, bool) { return n.model.GetBytes("targetPublicKey") }
func (n *Node) SetTargetPublicKey(pub ed25519.PublicKey) error {
	return n.model.SetBytes("targetPublicKey", pub)
}
func (n *Node) Terms() (string, bool)      { return n.model.GetString("terms") }
func (n *Node) SetTerms(terms string) error { return n.model.SetString("terms", terms) }
func (n *Node) MaxDistance() uint8 {
	v, _ := n.model.GetUint("maxDistance")
	return uint8(v)
}
func (n *Node) SetMaxDistance(d uint8) error { return n.model.SetUint("maxDistance", uint64(d)) }

// Extensions returns the number of further embeddings this License permits
// (§3.3), or (0, false) if unset.
func (n *Node) Extensions() (uint8, bool) {
	v, ok := n.model.GetUint("extensions")
	return uint8(v), ok
}
func (n *Node) SetExtensions(e uint8) error { return n.model.SetUint("extensions", uint64(e)) }

func (n *Node) LicenseConfigBit(b LicenseConfigBit) bool {
	v, _ := n.model.GetUint("licenseConfig")
	return v&(1<<uint(b)) != 0
}
func (n *Node) SetLicenseConfigBit(b LicenseConfigBit, on bool) {
	v, _ := n.model.GetUint("licenseConfig")
	if on {
		v |= 1 << uint(b)
	} else {
		v &^= 1 << uint(b)
	}
	_ = n.model.SetUint("licenseConfig", v)
}

// LicenseeHashes is a convenience wrapper over GetLicenseeHashes using this
// license's own targetPublicKey, the target node's parentId/owner.
func (n *Node) LicenseeHashes(targetID1, parentID, owner []byte) map[LicenseeHashKind][32]byte {
	key, _ := n.TargetPublicKey()
	return GetLicenseeHashes(targetID1, parentID, owner, key)
}

// SetFriendCert attaches this license's half of a FriendCert pair. Slot A is
// the holder this license's owner negotiated with directly; slot B is filled
// in by the counterparty's mirrored License.
func (n *Node) SetFriendCert(slotA bool, image []byte) error {
	if slotA {
		return n.model.SetBytes("friendCertA", image)
	}
	return n.model.SetBytes("friendCertB", image)
}

// ValidateLicense layers §4.3.1/§4.3.2's License-specific checks on top of
// the base Validate sequence.
func (n *Node) ValidateLicense(depth DeepValidate, atTime uint64) (bool, string) {
	if ok, reason := n.Validate(depth, atTime); !ok {
		return false, reason
	}
	if n.ConfigBit(IsLicensed) {
		return false, "a License node cannot itself be IS_LICENSED"
	}
	if n.ConfigBit(IsPublic) {
		return false, "a License node cannot be IS_PUBLIC"
	}
	if !n.ConfigBit(IsLeaf) {
		return false, "a License node must be a leaf"
	}
	if n.ConfigBit(HasDynamicSelf) {
		return false, "a License node cannot have HAS_DYNAMIC_SELF"
	}
	if _, ok := n.ID2(); ok {
		return false, "a License node cannot have id2"
	}
	if _, ok := n.ExpireTime(); !ok {
		return false, "license missing expireTime"
	}
	if _, ok := n.RefID(); !ok {
		return false, "license missing refId (nodeId1 of the licensed node)"
	}
	if _, ok := n.TargetPublicKey(); !ok {
		return false, "license missing targetPublicKey"
	}
	if terms, ok := n.Terms(); ok && terms != "" && !validateTermsJSON(terms) {
		return false, "license terms is not a JSON object or number"
	}
	maxD := n.MaxDistance()
	if maxD > MaxLicenseDistance {
		return false, "license maxDistance exceeds configured bound"
	}
	if extensions, ok := n.Extensions(); !ok || extensions > MaxLicenseExtensions {
		return false, "license extensions must be set and within [0,6]"
	}
	if n.LicenseConfigBit(LicenseIsFriendExtension) {
		a, hasA := n.model.GetBytes("friendCertA")
		b, hasB := n.model.GetBytes("friendCertB")
		if !hasA || !hasB || len(a) == 0 || len(b) == 0 {
			return false, "friend extension requires both friendCertA and friendCertB"
		}
	}
	return true, ""
}

// Extend produces a License node L1 that embeds the receiver L0 and
// re-grants its rights to newTarget (§3.3, §4.3 embedding semantics,
// testable scenario 2). L1.extensions = L0.extensions - 1 (strict
// decrement; fails once exhausted), L1.owner = L0.targetPublicKey (the
// embedder must be the former target), L1.targetPublicKey = newTarget, and
// L0's retro-licensing and restrictive-mode config bits
// (DisallowParentLicensing, IsBeginRestrictiveWriteMode,
// IsEndRestrictiveWriteMode) and its three wildcard licenseConfig bits
// propagate unchanged. newTarget may not equal any target already present
// in the embedding chain (L0, or anything L0 itself embeds) — a cycle.
func (n *Node) Extend(newTarget ed25519.PublicKey, newParentID []byte) (*Node, error) {
	remaining, hasExt := n.Extensions()
	if !hasExt || remaining == 0 {
		return nil, errDistanceExhausted
	}
	oldTarget, ok := n.TargetPublicKey()
	if !ok {
		return nil, errors.New("core: cannot extend a license with no targetPublicKey")
	}
	for cur, has := n, true; has; {
		t, hasT := cur.TargetPublicKey()
		if hasT && bytesEqual(newTarget, t) {
			return nil, errExtensionCycle
		}
		embedded, embeddedOK, err := cur.Embedded(licenseSchema)
		if err != nil {
			return nil, err
		}
		cur, has = embedded, embeddedOK
	}

	ext := NewLicenseNode()
	if err := ext.SetTargetPublicKey(newTarget); err != nil {
		return nil, err
	}
	if err := ext.SetOwner(oldTarget); err != nil {
		return nil, err
	}
	if err := ext.SetExtensions(remaining - 1); err != nil {
		return nil, err
	}
	if maxD, ok := n.model.GetUint("maxDistance"); ok {
		if err := ext.SetMaxDistance(uint8(maxD)); err != nil {
			return nil, err
		}
	}
	terms, _ := n.Terms()
	if err := ext.SetTerms(terms); err != nil {
		return nil, err
	}
	if err := ext.SetParentID(newParentID); err != nil {
		return nil, err
	}
	parentID1, _ := n.ID1()
	pathHash := Blake2b256([]byte("path"), parentID1)
	if prev, ok := n.model.GetBytes("parentPathHash"); ok {
		pathHash = Blake2b256([]byte("path"), prev, parentID1)
	}
	if err := ext.model.SetBytes("parentPathHash", pathHash[:]); err != nil {
		return nil, err
	}
	ext.SetLicenseConfigBit(LicenseIsExtension, true)
	for _, bit := range []LicenseConfigBit{LicenseAllowTargetWildcard, LicenseAllowParentWildcard, LicenseAllowOwnerWildcard} {
		ext.SetLicenseConfigBit(bit, n.LicenseConfigBit(bit))
	}
	for _, bit := range []ConfigBit{DisallowParentLicensing, IsBeginRestrictiveWriteMode, IsEndRestrictiveWriteMode} {
		ext.SetConfigBit(bit, n.ConfigBit(bit))
	}
	if ok, reason := ext.Embed(n, false); !ok {
		return nil, errors.New("core: failed to embed prior license into extension: " + reason)
	}
	return ext, nil
}

type distanceExhaustedError struct{}

func (distanceExhaustedError) Error() string { return "core: license extension distance exhausted" }

var errDistanceExhausted = distanceExhaustedError{}

type extensionCycleError struct{}

func (extensionCycleError) Error() string { return "core: license extension target cycle" }

var errExtensionCycle = extensionCycleError{}
