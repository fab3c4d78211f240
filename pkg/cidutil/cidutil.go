// Package cidutil provides the CID- and multihash-handling helpers the
// rest of blocksync needs on top of github.com/ipfs/go-cid and
// github.com/multiformats/go-multihash: default version selection for
// newly minted content, and identity-hash inlining for small blocks.
package cidutil

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

// Well-known codec names, matched against by DefaultCIDVersion.
const (
	CodecDagProtobuf = "dag-pb"
	CodecRaw         = "raw"
	AlgoSHA2_256     = "sha2-256"
	AlgoIdentity     = "identity"
)

var codecTable = map[string]uint64{
	CodecDagProtobuf: cid.DagProtobuf,
	CodecRaw:         cid.Raw,
}

var algoTable = map[string]uint64{
	AlgoSHA2_256: mh.SHA2_256,
	AlgoIdentity: mh.IDENTITY,
}

// DefaultCIDVersion mirrors spec §4.B: the builder defaults to CIDv0
// exactly when the content type is dag-pb and the algorithm is
// sha2-256; every other combination requires v1's explicit tagging.
func DefaultCIDVersion(contentType, algo string) int {
	if contentType == CodecDagProtobuf && algo == AlgoSHA2_256 {
		return 0
	}
	return 1
}

// NewCIDForContent hashes data with algo and wraps the resulting
// multihash in a CID of the version DefaultCIDVersion selects for
// (contentType, algo).
func NewCIDForContent(contentType, algo string, data []byte) (cid.Cid, error) {
	algoCode, ok := algoTable[algo]
	if !ok {
		return cid.Undef, errors.Errorf("cidutil: unknown hash algorithm %q", algo)
	}

	var digest mh.Multihash
	var err error
	if algoCode == mh.IDENTITY {
		digest, err = mh.Sum(data, mh.IDENTITY, -1)
	} else {
		digest, err = mh.Sum(data, algoCode, -1)
	}
	if err != nil {
		return cid.Undef, errors.Wrap(err, "cidutil: hash content")
	}

	if DefaultCIDVersion(contentType, algo) == 0 {
		return cid.NewCidV0(digest), nil
	}

	codecCode, ok := codecTable[contentType]
	if !ok {
		codecCode = cid.Raw
	}
	return cid.NewCidV1(codecCode, digest), nil
}

// IsIdentity reports whether c's multihash algorithm is the identity
// hash, meaning its digest inlines the content and the block must
// never be persisted (spec §3, §4.A "virtual blocks").
func IsIdentity(c cid.Cid) bool {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return false
	}
	return decoded.Code == mh.IDENTITY
}

// IdentityDigest returns the inlined content of an identity-hash CID.
// The caller must have already confirmed IsIdentity(c).
func IdentityDigest(c cid.Cid) ([]byte, error) {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return nil, errors.Wrap(err, "cidutil: decode multihash")
	}
	if decoded.Code != mh.IDENTITY {
		return nil, errors.New("cidutil: not an identity CID")
	}
	return decoded.Digest, nil
}

// InlineIfSmall returns an identity-hash CID for data when len(data) is
// at or below limit and inlining is allowed; otherwise it reports
// ok=false and the caller must hash normally.
func InlineIfSmall(contentType string, data []byte, limit int, allow bool) (out cid.Cid, ok bool, err error) {
	if !allow || len(data) > limit {
		return cid.Undef, false, nil
	}
	digest, err := mh.Sum(data, mh.IDENTITY, -1)
	if err != nil {
		return cid.Undef, false, errors.Wrap(err, "cidutil: build identity multihash")
	}
	codecCode, ok := codecTable[contentType]
	if !ok {
		codecCode = cid.Raw
	}
	return cid.NewCidV1(codecCode, digest), true, nil
}

// VerifyDigest recomputes the hash of data under c's algorithm and
// confirms it matches c's multihash digest, per the DataBlock
// invariant in spec §3. Identity CIDs are verified by direct
// comparison against their inlined digest.
func VerifyDigest(c cid.Cid, data []byte) error {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return errors.Wrap(err, "cidutil: decode multihash")
	}
	if decoded.Code == mh.IDENTITY {
		if string(decoded.Digest) != string(data) {
			return errors.New("cidutil: identity digest mismatch")
		}
		return nil
	}
	sum, err := mh.Sum(data, decoded.Code, len(decoded.Digest))
	if err != nil {
		return errors.Wrap(err, "cidutil: rehash content")
	}
	if string(sum) != string(c.Hash()) {
		return errors.New("cidutil: digest mismatch")
	}
	return nil
}
