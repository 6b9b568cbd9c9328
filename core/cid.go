package core

import (
	mh "github.com/multiformats/go-multihash"

	"github.com/ipfs/go-cid"
)

// ContentID renders a 32-byte digest (a node's id1/id2, or a blob's hash) as
// a CIDv1 over a blake2b-256 multihash, for inclusion in structured log
// fields (C13). It never participates in identity or consensus; it exists
// purely for humans and log aggregators to correlate a node or blob across
// services. The canonical identity remains the raw 32-byte digest.
func ContentID(hash [32]byte) (cid.Cid, error) {
	mhash, err := mh.Encode(hash[:], mh.BLAKE2B_MIN+31) // blake2b-256 code (32-byte digest)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mhash), nil
}

// CID is ContentID rendered to its text form, or "" on error — logging call
// sites prefer a degraded field over a dropped log line.
func CID(hash [32]byte) string {
	c, err := ContentID(hash)
	if err != nil {
		return ""
	}
	return c.String()
}
