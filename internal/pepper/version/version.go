// Package version tracks the pepper protocol version, independent of the
// single wire version byte carried in advertisement payloads.
package version

import "github.com/blang/semver"

// Protocol is the current protocol version exposed by Controller.Status.
var Protocol = semver.MustParse("1.0.0")

// Compatible reports whether a peer running the given protocol version can
// be expected to interoperate on the wire: same major version.
func Compatible(peer semver.Version) bool {
	return peer.Major == Protocol.Major
}
