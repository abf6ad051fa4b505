package external

import "strings"

// ConflictStrategy picks how an external server's tool name is reconciled
// against a name already claimed by a local file or another external server
// (spec §4.X, invariant I4).
type ConflictStrategy string

const (
	StrategyLocalFirst  ConflictStrategy = "local_first"
	StrategyRemoteFirst ConflictStrategy = "remote_first"
	StrategyPrefix      ConflictStrategy = "prefix"
)

// ResolveName computes the exposed tool name for a tool named `remoteName`
// offered by external server `serverID`, given the set of names already
// claimed locally (by catalog files) and by other external servers already
// merged. It is a pure function so the merge policy can be exhaustively
// unit-tested without spinning up any connection.
//
// - local_first: a local-file tool always wins; the remote tool is dropped
//   (taken=false) when its name collides with a local one. Collisions
//   between two external servers resolve first-writer-wins: a name already
//   claimed by another external server is dropped too.
// - remote_first: the remote tool is always taken under its own name,
//   whatever local or external claims exist. The catalog builder
//   (internal/registry) still keeps a local tool over an external tool of
//   the same name, so under this strategy a remote tool does not displace
//   a local one.
// - prefix: the tool is always exposed as "<serverID>/<remoteName>", never
//   colliding with anything (barring two identical serverIDs, which the
//   caller prevents at connection time).
func ResolveName(strategy ConflictStrategy, serverID, remoteName string, localNames, claimedExternal map[string]bool) (exposedName string, taken bool) {
	switch strategy {
	case StrategyPrefix:
		return serverID + "/" + remoteName, true
	case StrategyRemoteFirst:
		return remoteName, true
	case StrategyLocalFirst:
		fallthrough
	default:
		if localNames[remoteName] {
			return remoteName, false
		}
		if claimedExternal[remoteName] {
			return remoteName, false
		}
		return remoteName, true
	}
}

// SplitPrefixed reverses the prefix strategy's naming, returning the
// serverID and remote tool name encoded in an exposed name of the form
// "<serverID>/<remoteName>". ok is false when name carries no such prefix.
func SplitPrefixed(name string) (serverID, remoteName string, ok bool) {
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}
