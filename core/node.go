package core

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
)

// ConfigBit indexes the stable bits of a Node's `config` bitset (§3.2).
type ConfigBit uint

const (
	IsLeaf ConfigBit = iota
	HasDynamicSelf
	HasDynamicCert
	HasDynamicEmbedding
	IsPublic
	IsLicensed
	AllowEmbed
	AllowEmbedMove
	IsUnique
	IsBeginRestrictiveWriteMode
	IsEndRestrictiveWriteMode
	IsIndestructible
	HasRightsByAssociation
	DisallowParentLicensing
	OnlyOwnChildren
	DisallowPublicChildren
)

// TransientBit indexes a Node's mutable, environment-maintained
// `transientConfig` bitset (§3.2). This implementation follows the
// "online"-status lineage described in DESIGN.md's Open Question log rather
// than the parallel "dynamic"-bit lineage: the bits mark whether a node's
// id2-bearing dynamic self/cert/embedding is currently validated online, and
// whether the node has since been destroyed.
type TransientBit uint

const (
	TransientOnlineSelfActive TransientBit = iota
	TransientOnlineCertActive
	TransientOnlineEmbeddingActive
	TransientDestroyed
)

// MaxLicenseDistance bounds licensing distances (§4.3 validate step 5). It
// is a fixed constant: the MaxLicenseDistance settings in pkg/config and
// storage.Options are not read by the check.
const MaxLicenseDistance = 2

var baseSchema = mustSchema(nil, []FieldDef{
	{Index: 0, Name: "id1", Type: TypeFixed32, Hash: false},
	{Index: 1, Name: "id2", Type: TypeFixed32, Hash: false},
	{Index: 2, Name: "parentId", Type: TypeFixed32, Hash: true},
	{Index: 3, Name: "owner", Type: TypeFixed32, Hash: true},
	{Index: 4, Name: "signature", Type: TypeBuffer, MaxSize: 10 * SignatureEntrySize, Hash: false},
	{Index: 5, Name: "creationTime", Type: TypeUint48, Hash: true},
	{Index: 6, Name: "expireTime", Type: TypeUint48, Hash: true},
	{Index: 7, Name: "difficulty", Type: TypeUint8, Hash: true},
	{Index: 8, Name: "nonce", Type: TypeFixed8, Hash: false},
	{Index: 9, Name: "refId", Type: TypeFixed32, Hash: true},
	{Index: 10, Name: "cert", Type: TypeBuffer, MaxSize: 8192, Hash: true},
	{Index: 11, Name: "embedded", Type: TypeBuffer, MaxSize: 1 << 20, Hash: true},
	{Index: 12, Name: "blobHash", Type: TypeFixed32, Hash: true},
	{Index: 13, Name: "blobLength", Type: TypeUint64, Hash: true},
	{Index: 14, Name: "licenseMinDistance", Type: TypeUint8, Hash: true},
	{Index: 15, Name: "licenseMaxDistance", Type: TypeUint8, Hash: true},
	{Index: 16, Name: "region", Type: TypeString, MaxSize: 2, Hash: true},
	{Index: 17, Name: "jurisdiction", Type: TypeString, MaxSize: 2, Hash: true},
	{Index: 18, Name: "config", Type: TypeUint64, Hash: true},
	{Index: 19, Name: "transientConfig", Type: TypeUint64, Hash: false, Transient: true},
	{Index: 20, Name: "copiedSignature", Type: TypeBuffer, MaxSize: 10 * SignatureEntrySize, Hash: false},
	{Index: 21, Name: "copiedParentId", Type: TypeFixed32, Hash: false},
	{Index: 22, Name: "copiedId1", Type: TypeFixed32, Hash: false},
	{Index: 23, Name: "network", Type: TypeFixed32, Hash: true},
	{Index: 24, Name: "childMinDifficulty", Type: TypeUint8, Hash: true},
	{Index: 25, Name: "destroyTargetId1", Type: TypeFixed32, Hash: true},
})

func mustSchema(base *Schema, fields []FieldDef) *Schema {
	s, err := NewSchema(base, fields)
	if err != nil {
		panic(err)
	}
	return s
}

// Interface/class identifiers for the 6-byte header (§3.1).
const (
	PrimaryInterfaceNode byte = 4
	SecondaryInterfaceData    byte = 1
	SecondaryInterfaceLicense byte = 2
)

// Node wraps a Model with the semantics shared by every node kind (§3.2,
// C5). Data and License are built on top of it.
type Node struct {
	model *Model

	// cached decoded sub-objects (design notes §9): read-only views of
	// `cert`/`embedded`, invalidated on mutation; nothing is written back
	// from them into the wire image.
	cachedCert     *Cert
	cachedEmbedded *Model
}

func newNode(secondaryInterface, classID, classMajorVersion byte, schema *Schema) *Node {
	hdr := Header{PrimaryInterface: PrimaryInterfaceNode, SecondaryInterface: secondaryInterface, ClassID: classID, ClassMajorVersion: classMajorVersion}
	m := NewModel(schema, hdr)
	_ = m.SetUint("config", 0)
	return &Node{model: m}
}

// DecodeNode decodes an image of unspecified node kind by reading the raw
// header's secondary interface byte (§3.1 layout: offset 3) and dispatching
// to the matching concrete loader, for callers (the storage driver) that
// persist both Data and License nodes in one table and don't know which
// they're about to load.
func DecodeNode(image []byte, preserveTransient bool) (*Node, error) {
	if len(image) < 6 {
		return nil, newDecodeErr(ShortRead, 0, -1)
	}
	switch image[3] {
	case SecondaryInterfaceData:
		return LoadDataNode(image, preserveTransient)
	case SecondaryInterfaceLicense:
		return LoadLicenseNode(image, preserveTransient)
	default:
		return nil, newDecodeErr(TypeMismatch, 3, int(image[3]))
	}
}

// LoadNode decodes an image into a Node against schema.
func LoadNode(schema *Schema, image []byte, preserveTransient bool) (*Node, error) {
	m, err := Load(schema, image, preserveTransient)
	if err != nil {
		return nil, err
	}
	if m.header.PrimaryInterface != PrimaryInterfaceNode {
		return nil, newDecodeErr(TypeMismatch, 0, -1)
	}
	return &Node{model: m}, nil
}

func (n *Node) Model() *Model { return n.model }

func (n *Node) Export(includeTransient bool) ([]byte, error) {
	n.flushCaches()
	return n.model.Export(includeTransient)
}

// flushCaches is the Export hook for cached sub-objects (design notes §9);
// it writes nothing back.
func (n *Node) flushCaches() {
	// Cached objects in this implementation are read-only views constructed
	// from the stored `cert`/`embedded` bytes, so there is nothing to write
	// back; invalidation on mutation (below) is what keeps them honest.
}

func (n *Node) invalidateCaches() {
	n.cachedCert = nil
	n.cachedEmbedded = nil
}

// --- simple field accessors -------------------------------------------------

func (n *Node) ID1() ([]byte, bool)      { return n.model.GetBytes("id1") }
func (n *Node) ID2() ([]byte, bool)      { return n.model.GetBytes("id2") }
func (n *Node) ParentID() ([]byte, bool) { return n.model.GetBytes("parentId") }
func (n *Node) Owner() ([]byte, bool)    { return n.model.GetBytes("owner") }
func (n *Node) CreationTime() (uint64, bool) { return n.model.GetUint("creationTime") }
func (n *Node) ExpireTime() (uint64, bool)   { return n.model.GetUint("expireTime") }
func (n *Node) Difficulty() uint8 {
	v, _ := n.model.GetUint("difficulty")
	return uint8(v)
}
func (n *Node) RefID() ([]byte, bool) { return n.model.GetBytes("refId") }

func (n *Node) SetParentID(id []byte) error { n.invalidateCaches(); return n.model.SetBytes("parentId", id) }
func (n *Node) SetOwner(pub ed25519.PublicKey) error {
	n.invalidateCaches()
	return n.model.SetBytes("owner", pub)
}
func (n *Node) SetCreationTime(t uint64) error { return n.model.SetUint("creationTime", t) }
func (n *Node) SetExpireTime(t uint64) error   { return n.model.SetUint("expireTime", t) }
func (n *Node) SetDifficulty(d uint8) error    { return n.model.SetUint("difficulty", uint64(d)) }
func (n *Node) SetRefID(id []byte) error       { return n.model.SetBytes("refId", id) }

// --- config / transientConfig bitsets ---------------------------------------

func (n *Node) ConfigBit(b ConfigBit) bool {
	v, _ := n.model.GetUint("config")
	return v&(1<<uint(b)) != 0
}

func (n *Node) SetConfigBit(b ConfigBit, on bool) {
	v, _ := n.model.GetUint("config")
	if on {
		v |= 1 << uint(b)
	} else {
		v &^= 1 << uint(b)
	}
	_ = n.model.SetUint("config", v)
}

func (n *Node) TransientBit(b TransientBit) bool {
	v, _ := n.model.GetUint("transientConfig")
	return v&(1<<uint(b)) != 0
}

func (n *Node) SetTransientBit(b TransientBit, on bool) {
	v, _ := n.model.GetUint("transientConfig")
	if on {
		v |= 1 << uint(b)
	} else {
		v &^= 1 << uint(b)
	}
	_ = n.model.SetUint("transientConfig", v)
}

// --- hash derivation (§3.2) --------------------------------------------------

// Hash0 is the model digest over every hashable field (nonce/id1/id2/
// signature are already excluded via their schema Hash:false flag).
func (n *Node) Hash0() [32]byte { return n.model.Hash() }

// Hash1 = H(hash0, nonce).
func (n *Node) Hash1() [32]byte {
	h0 := n.Hash0()
	nonce, _ := n.model.GetBytes("nonce")
	return Blake2b256(h0[:], nonce)
}

// Hash = H(hash1, id2).
func (n *Node) Hash() [32]byte {
	h1 := n.Hash1()
	id2, _ := n.model.GetBytes("id2")
	return Blake2b256(h1[:], id2)
}

// CalcID1 = H(hash, signature).
func (n *Node) CalcID1() [32]byte {
	h := n.Hash()
	sig, _ := n.model.GetBytes("signature")
	return Blake2b256(h[:], sig)
}

// ID returns id2 if set, else id1.
func (n *Node) ID() ([]byte, bool) {
	if id2, ok := n.ID2(); ok {
		return id2, true
	}
	return n.ID1()
}

// SolveWork runs proof-of-work over hash0 at the node's configured
// difficulty and stores the resulting nonce.
func (n *Node) SolveWork() error {
	if n.Difficulty() == 0 {
		return nil
	}
	h0 := n.Hash0()
	nonce, err := SolveWork(h0[:], n.Difficulty())
	if err != nil {
		return err
	}
	return n.model.SetBytes("nonce", nonce[:])
}

// VerifyWorkNode re-checks the stored nonce against hash0/difficulty.
func (n *Node) VerifyWorkNode() bool {
	h0 := n.Hash0()
	nonce, ok := n.model.GetBytes("nonce")
	if !ok {
		nonce = make([]byte, 8)
	}
	var nb [8]byte
	copy(nb[:], nonce)
	return VerifyWork(h0[:], nb, n.Difficulty())
}

// Sign finalizes a node: packs a signature entry for signerIndex/priv and
// derives id1 = H(hash, signature).
func (n *Node) Sign(signerIndex uint8, priv ed25519.PrivateKey) error {
	h := n.Hash()
	sig := Sign(priv, h[:])
	entry := SignatureEntry{SignerIndex: signerIndex, Sig: sig}
	packed, _ := n.model.GetBytes("signature")
	packed = append(packed, PackSignatures([]SignatureEntry{entry})...)
	if err := n.model.SetBytes("signature", packed); err != nil {
		return err
	}
	id1 := n.CalcID1()
	return n.model.SetBytes("id1", id1[:])
}

// VerifySignatures checks every packed signature entry against signers.
func (n *Node) VerifySignatures(signers []ed25519.PublicKey) bool {
	h := n.Hash()
	packed, ok := n.model.GetBytes("signature")
	if !ok || len(packed) == 0 {
		return false
	}
	entries, err := UnpackSignatures(packed)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if int(e.SignerIndex) >= len(signers) {
			return false
		}
		if !Verify(signers[e.SignerIndex], h[:], e.Sig) {
			return false
		}
	}
	return true
}

// SharedHash is the uniqueness-defining digest (§3.2). Non-unique nodes use
// H(id1); IS_UNIQUE nodes hash their hashed fields minus an exclude list
// supplied by the caller. With no exclude list, a License excludes
// "creationTime" and other node kinds exclude nothing.
func (n *Node) SharedHash(uniqueExclude ...string) [32]byte {
	if !n.ConfigBit(IsUnique) {
		id1, _ := n.ID1()
		return Blake2b256(id1)
	}
	if len(uniqueExclude) == 0 && n.model.header.SecondaryInterface == SecondaryInterfaceLicense {
		uniqueExclude = []string{"creationTime"}
	}
	return n.model.Hash(uniqueExclude...)
}

// TransientHash digests the node's transient fields (currently just
// transientConfig), letting a storage driver detect whether re-storing an
// already-known id1 with preserveTransient changes anything worth updating
// in place (§4.4.1 filterExisting).
func (n *Node) TransientHash() [32]byte {
	tc, _ := n.model.GetUint("transientConfig")
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], tc)
	return Blake2b256(b[:])
}

// BumpHash is the freshness-bump matching digest for this node (§4.4.4),
// derived purely from id1 so a License naming this node's id1 as its refId
// can address it directly without a live lookup.
func (n *Node) BumpHash() [32]byte {
	id1, _ := n.ID1()
	return BumpHashForID1(id1)
}

// BumpHashForID1 computes the same digest as BumpHash directly from an id1.
func BumpHashForID1(id1 []byte) [32]byte {
	return Blake2b256([]byte("bump"), id1)
}

// --- Copy semantics (§3.2, §4.3) --------------------------------------------

// Copy produces an unsigned copy node: all fields equal to the original
// except copiedSignature/copiedParentId/copiedId1 bookkeeping, and id2 set
// to the original's current id (id1 or id2).
func (n *Node) Copy(newParentID []byte) (*Node, error) {
	id1, hasID1 := n.ID1()
	if !hasID1 {
		return nil, errors.New("core: cannot copy an unsigned node")
	}
	origID, _ := n.ID()

	img, err := n.model.Export(true)
	if err != nil {
		return nil, err
	}
	m2, err := Load(n.model.schema, img, true)
	if err != nil {
		return nil, err
	}
	cp := &Node{model: m2}

	sig, _ := n.model.GetBytes("signature")
	if err := cp.model.SetBytes("copiedSignature", sig); err != nil {
		return nil, err
	}
	origParent, _ := n.ParentID()
	if newParentID != nil && !bytesEqual(newParentID, origParent) {
		if err := cp.model.SetBytes("copiedParentId", origParent); err != nil {
			return nil, err
		}
		if err := cp.model.SetBytes("parentId", newParentID); err != nil {
			return nil, err
		}
	}
	if _, hasID2 := n.ID2(); hasID2 {
		if err := cp.model.SetBytes("copiedId1", id1); err != nil {
			return nil, err
		}
	}
	cp.model.Clear("id1")
	cp.model.Clear("signature")
	if err := cp.model.SetBytes("id2", origID); err != nil {
		return nil, err
	}
	return cp, nil
}

// GetCopiedNode reverses Copy: restores signature/id1/parentId from the
// copy bookkeeping fields and recomputes id1, then requires the restored
// id1 equal H(hash, signature) (round-trip check, invariant 5).
func (n *Node) GetCopiedNode() (*Node, error) {
	img, err := n.model.Export(true)
	if err != nil {
		return nil, err
	}
	m2, err := Load(n.model.schema, img, true)
	if err != nil {
		return nil, err
	}
	orig := &Node{model: m2}

	if sig, ok := n.model.GetBytes("copiedSignature"); ok {
		if err := orig.model.SetBytes("signature", sig); err != nil {
			return nil, err
		}
	}
	if parentID, ok := n.model.GetBytes("copiedParentId"); ok {
		if err := orig.model.SetBytes("parentId", parentID); err != nil {
			return nil, err
		}
	}
	orig.model.Clear("id2")
	if copiedID1, ok := n.model.GetBytes("copiedId1"); ok {
		if err := orig.model.SetBytes("id1", copiedID1); err != nil {
			return nil, err
		}
	} else {
		id2, _ := n.model.GetBytes("id2")
		if err := orig.model.SetBytes("id1", id2); err != nil {
			return nil, err
		}
	}
	storedID1, _ := orig.ID1()
	calc := orig.CalcID1()
	if !bytesEqual(storedID1, calc[:]) {
		return nil, errors.New("core: copied node id1 does not match H(hash, signature)")
	}
	return orig, nil
}

// --- Achilles hashes (§4.4.5) ------------------------------------------------

// GetAchillesHashes returns the set of destruction digests this node emits.
// INDESTRUCTIBLE nodes emit none. A node may emit more than one hash (per
// owner-total, per-id, per-license-group).
func (n *Node) GetAchillesHashes() [][32]byte {
	if n.ConfigBit(IsIndestructible) {
		return nil
	}
	id1, _ := n.ID1()
	owner, _ := n.Owner()
	parentID, _ := n.ParentID()
	var out [][32]byte
	out = append(out, Blake2b256([]byte("id"), id1))
	out = append(out, Blake2b256([]byte("owner-total"), owner))
	if n.ConfigBit(IsLicensed) {
		out = append(out, Blake2b256([]byte("license-group"), parentID, owner))
	}
	return out
}

// DestroyHash is the digest a destroyer node produces against its
// destroyTargetId1 field; it matches one of the target's achilles hashes
// when non-zero.
func (n *Node) DestroyHash(kind string) ([32]byte, bool) {
	target, ok := n.model.GetBytes("destroyTargetId1")
	if !ok {
		return [32]byte{}, false
	}
	return Blake2b256([]byte(kind), target), true
}

// --- embedding (§4.3 embedding semantics) -----------------------------------

// Embed attaches child as this node's embedded datamodel, enforcing the
// shared embedding rules. Per-type rules (e.g. License-in-License) are
// layered on top by the License variant.
func (n *Node) Embed(child *Node, moveParent bool) (bool, string) {
	if !child.ConfigBit(AllowEmbed) {
		return false, "embedded child does not allow embedding"
	}
	if moveParent && !child.ConfigBit(AllowEmbedMove) {
		return false, "moving parent requires ALLOW_EMBED_MOVE on child"
	}
	childIsPrivate := !child.ConfigBit(IsPublic) && !child.ConfigBit(IsLicensed)
	if childIsPrivate && (n.ConfigBit(IsPublic) || n.ConfigBit(IsLicensed)) {
		return false, "private embedded child forbids public/licensed embedder"
	}
	img, err := child.Export(false)
	if err != nil {
		return false, err.Error()
	}
	if err := n.model.SetBytes("embedded", img); err != nil {
		return false, err.Error()
	}
	n.invalidateCaches()
	return true, ""
}

// Embedded decodes and caches the embedded sub-Model, if any.
func (n *Node) Embedded(schema *Schema) (*Node, bool, error) {
	raw, ok := n.model.GetBytes("embedded")
	if !ok || len(raw) == 0 {
		return nil, false, nil
	}
	if n.cachedEmbedded == nil {
		m, err := Load(schema, raw, false)
		if err != nil {
			return nil, false, err
		}
		n.cachedEmbedded = m
	}
	return &Node{model: n.cachedEmbedded}, true, nil
}

// --- cert attachment ---------------------------------------------------------

// SetCert attaches a serialized cert image to the node's `cert` field.
func (n *Node) SetCert(image []byte) error {
	n.invalidateCaches()
	return n.model.SetBytes("cert", image)
}

func (n *Node) HasCert() bool { return n.model.Has("cert") }

// --- validate (§4.3) ---------------------------------------------------------

// DeepValidate selects the validation depth (§4.3).
type DeepValidate int

const (
	ValidateStructural DeepValidate = 0
	ValidateFull       DeepValidate = 1
	ValidatePreSign    DeepValidate = 2
)

// Validate runs the §4.3 check sequence. It never returns an error: ok/reason
// is a pure predicate per §7.
func (n *Node) Validate(depth DeepValidate, atTime uint64) (bool, string) {
	if _, err := n.model.Export(true); err != nil {
		return false, "export failed: " + err.Error()
	}
	if sig, hasSig := n.model.GetBytes("signature"); hasSig && len(sig) > 0 {
		id1, hasID1 := n.ID1()
		if !hasID1 {
			return false, "signed node missing id1"
		}
		calc := n.CalcID1()
		if !bytesEqual(id1, calc[:]) {
			return false, "Calculated id1 on signed node mismatches set id1"
		}
	}
	if _, ok := n.ParentID(); !ok {
		return false, "parentId not set"
	}
	if _, ok := n.Owner(); !ok {
		return false, "owner not set"
	}
	if !n.model.Has("config") {
		return false, "config not set"
	}
	ct, hasCT := n.CreationTime()
	if !hasCT {
		return false, "creationTime not set"
	}
	et, hasET := n.ExpireTime()
	if hasET && ct >= et {
		return false, "creationTime must precede expireTime"
	}
	if hasET {
		tolerant := atTime
		if tolerant != 0 && tolerant > et {
			return false, "node expired"
		}
		if tolerant != 0 && tolerant < ct {
			return false, "node not yet valid"
		}
	}

	minD, hasMin := n.model.GetUint("licenseMinDistance")
	maxD, hasMax := n.model.GetUint("licenseMaxDistance")
	if !n.ConfigBit(IsLicensed) {
		if hasMin || hasMax {
			return false, "licensing distances set on non-licensed node"
		}
	} else {
		if !hasMin || !hasMax {
			return false, "licensing distances missing on licensed node"
		}
		if !(minD <= maxD && maxD <= MaxLicenseDistance) {
			return false, "licensing distance bounds violated"
		}
	}

	if n.ConfigBit(AllowEmbedMove) {
		if !n.ConfigBit(AllowEmbed) {
			return false, "ALLOW_EMBED_MOVE requires ALLOW_EMBED"
		}
		if hasMin && minD != 0 {
			return false, "ALLOW_EMBED_MOVE requires licenseMinDistance == 0"
		}
	}

	_, hasBH := n.model.GetBytes("blobHash")
	_, hasBL := n.model.GetUint("blobLength")
	if hasBH != hasBL {
		return false, "blobHash and blobLength must be set together"
	}

	if n.ConfigBit(IsPublic) && n.ConfigBit(IsLicensed) {
		return false, "node cannot be both public and licensed"
	}
	if n.ConfigBit(IsIndestructible) && (n.ConfigBit(IsPublic) || n.ConfigBit(IsLicensed)) {
		return false, "INDESTRUCTIBLE requires a private node"
	}
	if n.ConfigBit(HasRightsByAssociation) {
		if n.ConfigBit(IsPublic) || n.ConfigBit(IsLicensed) {
			return false, "HAS_RIGHTS_BY_ASSOCIATION requires a private node"
		}
		if _, ok := n.RefID(); !ok {
			return false, "HAS_RIGHTS_BY_ASSOCIATION requires refId"
		}
		if n.ConfigBit(AllowEmbed) {
			return false, "HAS_RIGHTS_BY_ASSOCIATION forbids ALLOW_EMBED"
		}
	}

	if n.ConfigBit(HasDynamicCert) && !n.HasCert() {
		return false, "HAS_DYNAMIC_CERT requires cert set"
	}
	if n.ConfigBit(HasDynamicEmbedding) && !n.model.Has("embedded") {
		return false, "HAS_DYNAMIC_EMBEDDING requires embedded set"
	}
	if n.ConfigBit(HasDynamicSelf) {
		if _, ok := n.ID2(); !ok {
			return false, "HAS_DYNAMIC_SELF requires id2"
		}
		if !n.model.Has("network") {
			return false, "HAS_DYNAMIC_SELF requires network"
		}
	}
	if _, hasID2 := n.ID2(); hasID2 {
		_, isCopy := n.model.GetBytes("copiedSignature")
		if !isCopy && !n.ConfigBit(HasDynamicSelf) {
			return false, "id2 set but node is neither a copy nor dynamic-self"
		}
	}

	if n.ConfigBit(IsLeaf) {
		if n.ConfigBit(OnlyOwnChildren) || n.ConfigBit(DisallowPublicChildren) {
			return false, "leaf node forbids child-policy flags"
		}
		if n.model.Has("childMinDifficulty") {
			return false, "leaf node forbids childMinDifficulty"
		}
		if n.ConfigBit(IsBeginRestrictiveWriteMode) || n.ConfigBit(IsEndRestrictiveWriteMode) {
			return false, "leaf node forbids restrictive-write mode flags"
		}
	}

	if !n.VerifyWorkNode() {
		return false, "proof of work does not satisfy difficulty"
	}

	if depth > ValidateStructural {
		// no check depends on depth: neither this function nor the Data/
		// License variants validate the embedded datamodel or the cert.
	}
	return true, ""
}

// terms helpers shared with License: parse/validate a JSON map/number tree.
func validateTermsJSON(s string) bool {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return false
	}
	switch v.(type) {
	case map[string]interface{}, float64:
		return true
	default:
		return false
	}
}
