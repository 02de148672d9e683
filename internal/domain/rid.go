package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	RIDTypeNode = "koi-net.node"
	RIDTypeEdge = "koi-net.edge"
)

// NodeRID builds orn:koi-net.node:<name>+<sha256 of public key>. Without a key only the name is used.
func NodeRID(name string, publicKey []byte) string {
	if len(publicKey) == 0 {
		return "orn:" + RIDTypeNode + ":" + name
	}
	return "orn:" + RIDTypeNode + ":" + name + "+" + KeyHash(publicKey)
}

func KeyHash(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:])
}

// RIDKeyHash returns the key hash suffix of a node RID, or "" when the RID carries none.
func RIDKeyHash(rid string) string {
	if RIDType(rid) != RIDTypeNode {
		return ""
	}
	ref := rid[len("orn:"+RIDTypeNode+":"):]
	idx := strings.LastIndex(ref, "+")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(ref[idx+1:])
}

// KeyBoundToRID reports whether publicKey is the key a node RID was derived from.
func KeyBoundToRID(rid string, publicKey []byte) bool {
	if len(publicKey) == 0 {
		return false
	}
	suffix := RIDKeyHash(rid)
	return suffix != "" && suffix == KeyHash(publicKey)
}

// RIDType returns <type> for orn:<type>:<ref>, or the URI scheme for other RIDs.
func RIDType(rid string) string {
	if strings.HasPrefix(rid, "orn:") {
		rest := rid[len("orn:"):]
		if idx := strings.Index(rest, ":"); idx > 0 {
			return rest[:idx]
		}
		return ""
	}
	if idx := strings.Index(rid, ":"); idx > 0 {
		return rid[:idx]
	}
	return ""
}
