package core

import "crypto/ed25519"

// CertKind distinguishes the primary cert shapes from §3.4/C4.
type CertKind uint8

const (
	CertDefault CertKind = iota // issuer signs directly over the constraint set
	CertChain                   // issuer's own key is itself certified by a parent cert
	CertNode                    // cert is carried embedded in the node it authorizes
)

// NodeParams is the subset of a node's fields a cert validates against,
// passed to ValidateAgainstTarget (§4.3 step 13).
type NodeParams struct {
	Owner        []byte
	TargetModel  [3]byte // primaryInterface, secondaryInterface, classID
	CreationTime uint64
	ExpireTime   uint64
	SignerCount  int
}

// Constraints is the shared constraint set every node-signing cert carries.
type Constraints struct {
	ValidFrom      uint64
	ValidUntil     uint64
	TargetModel    [3]byte
	EligibleSigners []ed25519.PublicKey
	MultiSigThreshold int
	IssuerPublicKey ed25519.PublicKey
}

// Cert is a node-signing certificate: chain, default, or node-embedded,
// per §3.4/C4.
type Cert struct {
	Kind        CertKind
	Constraints Constraints
	Parent      *Cert // set when Kind == CertChain
}

func (c *Cert) GetIssuerPublicKey() ed25519.PublicKey { return c.Constraints.IssuerPublicKey }

func (c *Cert) GetTargetPublicKeys() []ed25519.PublicKey {
	return c.Constraints.EligibleSigners
}

func (c *Cert) GetMultiSigThreshold() int {
	if c.Constraints.MultiSigThreshold <= 0 {
		return 1
	}
	return c.Constraints.MultiSigThreshold
}

// ValidateAgainstTarget checks a cert's constraints against the node it
// authorizes (§4.3 step 13). When Kind == CertChain, the parent cert must
// itself validate the issuer as one of ITS eligible signers, recursively.
func (c *Cert) ValidateAgainstTarget(p NodeParams) (bool, string) {
	if p.CreationTime < c.Constraints.ValidFrom || p.CreationTime > c.Constraints.ValidUntil {
		return false, "node creation time outside cert validity window"
	}
	if p.ExpireTime != 0 && p.ExpireTime > c.Constraints.ValidUntil {
		return false, "node expiry exceeds cert validity window"
	}
	if c.Constraints.TargetModel != p.TargetModel {
		return false, "cert does not cover this node's model type"
	}
	if p.SignerCount < c.GetMultiSigThreshold() {
		return false, "insufficient signatures for cert multi-sig threshold"
	}
	if c.Kind == CertChain {
		if c.Parent == nil {
			return false, "chain cert missing parent"
		}
		issuerIsEligible := false
		for _, k := range c.Parent.Constraints.EligibleSigners {
			if string(k) == string(c.Constraints.IssuerPublicKey) {
				issuerIsEligible = true
				break
			}
		}
		if !issuerIsEligible {
			return false, "chain cert issuer not eligible under parent"
		}
		parentParams := p
		if ok, reason := c.Parent.ValidateAgainstTarget(parentParams); !ok {
			return false, "parent cert: " + reason
		}
	}
	return true, ""
}

// FriendCert is a secondary cert embedded in a License, binding two
// counterparties so one may extend the license across a trust boundary
// (§3.4, §4.3.2).
type FriendCert struct {
	KeyA, KeyB             ed25519.PublicKey
	IntermediaryPublicKey  ed25519.PublicKey
	FriendLevel            uint8
	ValidFrom, ValidUntil  uint64
	TargetModel            [3]byte
	ConstraintDigest       [32]byte // opaque agreement fingerprint, must match on both sides
}

// ErrFriendCertMismatch is returned when a FriendCert pair fails §4.3.2's
// mutual validation.
var ErrFriendCertMismatch = certMismatchError{}

type certMismatchError struct{}

func (certMismatchError) Error() string { return "core: FriendCertMismatch" }

// ValidateFriendCertPair checks §4.3.2: a (keyA, keyB) names the other's
// mirror cert, both cover the license's validity window and model type, and
// both agree on friendLevel and intermediaryPublicKey.
func ValidateFriendCertPair(a, b *FriendCert, licenseCreation, licenseExpire uint64, model [3]byte) error {
	if string(a.KeyB) != string(b.KeyA) || string(b.KeyB) != string(a.KeyA) {
		return ErrFriendCertMismatch
	}
	if a.FriendLevel != b.FriendLevel {
		return ErrFriendCertMismatch
	}
	if string(a.IntermediaryPublicKey) != string(b.IntermediaryPublicKey) {
		return ErrFriendCertMismatch
	}
	if a.ConstraintDigest != b.ConstraintDigest {
		return ErrFriendCertMismatch
	}
	for _, c := range []*FriendCert{a, b} {
		if licenseCreation < c.ValidFrom || licenseExpire > c.ValidUntil {
			return ErrFriendCertMismatch
		}
		if c.TargetModel != model {
			return ErrFriendCertMismatch
		}
	}
	return nil
}
