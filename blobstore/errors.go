package blobstore

import "errors"

// ErrHashMismatch is returned by FinalizeWriteBlob when either the staged
// byte count doesn't equal the caller-supplied length, or the concatenated
// fragments' content digest doesn't equal the caller-supplied expected hash
// (§4.5). Either precondition failing discards the staged fragments.
var ErrHashMismatch = errors.New("blobstore: content length or hash mismatch")

// ErrNotFinalized is returned by ReadBlob when nodeId1 has no blob_finalized
// row — either nothing was ever written for it, or it was never finalized.
var ErrNotFinalized = errors.New("blobstore: blob not finalized")
