package core

import "crypto/ed25519"

// DataClassDefault is the class identifier for a plain data node (§3.3).
const DataClassDefault byte = 1

var dataSchema = mustSchema(baseSchema, []FieldDef{
	{Index: 26, Name: "contentType", Type: TypeString, MaxSize: 256, Hash: true},
	{Index: 27, Name: "data", Type: TypeBuffer, MaxSize: 1 << 16, Hash: true},
})

// NewDataNode builds an unsigned Data node (C5, §3.3).
func NewDataNode() *Node {
	return newNode(SecondaryInterfaceData, DataClassDefault, 1, dataSchema)
}

// LoadDataNode decodes a Data node image.
func LoadDataNode(image []byte, preserveTransient bool) (*Node, error) {
	n, err := LoadNode(dataSchema, image, preserveTransient)
	if err != nil {
		return nil, err
	}
	if n.model.header.SecondaryInterface != SecondaryInterfaceData {
		return nil, newDecodeErr(TypeMismatch, 0, -1)
	}
	return n, nil
}

func (n *Node) SetContentType(ct string) error { return n.model.SetString("contentType", ct) }
func (n *Node) ContentType() (string, bool)    { return n.model.GetString("contentType") }
func (n *Node) SetData(d []byte) error         { n.invalidateCaches(); return n.model.SetBytes("data", d) }
func (n *Node) Data() ([]byte, bool)           { return n.model.GetBytes("data") }

// NewSignedDataNode is a convenience constructor exercised by tests and the
// storage driver's fixtures: build, solve work, and sign in one call.
func NewSignedDataNode(owner ed25519.PublicKey, parentID []byte, creation uint64, difficulty uint8, priv ed25519.PrivateKey, signerIndex uint8, data []byte) (*Node, error) {
	n := NewDataNode()
	if err := n.SetOwner(owner); err != nil {
		return nil, err
	}
	if err := n.SetParentID(parentID); err != nil {
		return nil, err
	}
	if err := n.SetCreationTime(creation); err != nil {
		return nil, err
	}
	if err := n.SetDifficulty(difficulty); err != nil {
		return nil, err
	}
	if err := n.SetData(data); err != nil {
		return nil, err
	}
	n.SetConfigBit(IsPublic, true)
	n.SetConfigBit(IsLeaf, true)
	if err := n.SolveWork(); err != nil {
		return nil, err
	}
	if err := n.Sign(signerIndex, priv); err != nil {
		return nil, err
	}
	return n, nil
}
