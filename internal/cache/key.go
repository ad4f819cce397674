package cache

import (
	"fmt"
	"strings"
)

type keyKind uint8

const (
	kindBadge keyKind = iota + 1
	kindEmote
	kindUserProfilePicture
	kindMisc
	kindMascot
)

// CacheKey identifies a single cacheable asset. Keys are immutable values:
// two keys with equal fields address the same cache slot, so CacheKey is
// safe to use directly as a map key. The string rendering doubles as the
// object key under which the asset lives in the origin bucket.
type CacheKey struct {
	kind keyKind
	id   string
	user string
	file string
}

// BadgeKey addresses a badge image file.
func BadgeKey(id, file string) CacheKey {
	return CacheKey{kind: kindBadge, id: id, file: file}
}

// EmoteKey addresses an emote image file.
func EmoteKey(id, file string) CacheKey {
	return CacheKey{kind: kindEmote, id: id, file: file}
}

// UserProfilePictureKey addresses one file of a user's avatar. avatarID
// distinguishes successive uploads so stale pictures never collide.
func UserProfilePictureKey(user, avatarID, file string) CacheKey {
	return CacheKey{kind: kindUserProfilePicture, user: user, id: avatarID, file: file}
}

// MiscKey addresses a free-form asset path under the misc/ prefix.
func MiscKey(path string) CacheKey {
	return CacheKey{kind: kindMisc, file: path}
}

// MascotKey addresses the fixed mascot image served at /mascot.png.
func MascotKey() CacheKey {
	return CacheKey{kind: kindMascot}
}

const mascotObjectKey = "mascot.png"

// String renders the origin object key for this cache key.
func (k CacheKey) String() string {
	switch k.kind {
	case kindBadge:
		return "badge/" + k.id + "/" + k.file
	case kindEmote:
		return "emote/" + k.id + "/" + k.file
	case kindUserProfilePicture:
		return "user/" + k.user + "/" + k.id + "/" + k.file
	case kindMisc:
		return "misc/" + k.file
	case kindMascot:
		return mascotObjectKey
	default:
		return ""
	}
}

// ParseKey is the inverse of CacheKey.String. It is used by the purge
// surface, which receives rendered keys rather than structured ones.
func ParseKey(s string) (CacheKey, error) {
	if s == mascotObjectKey {
		return MascotKey(), nil
	}

	prefix, rest, ok := strings.Cut(s, "/")
	if !ok || rest == "" {
		return CacheKey{}, fmt.Errorf("unrecognized cache key %q", s)
	}

	switch prefix {
	case "badge", "emote":
		id, file, ok := strings.Cut(rest, "/")
		if !ok || id == "" || file == "" || strings.Contains(file, "/") {
			return CacheKey{}, fmt.Errorf("malformed %s key %q", prefix, s)
		}
		if prefix == "badge" {
			return BadgeKey(id, file), nil
		}
		return EmoteKey(id, file), nil
	case "user":
		parts := strings.Split(rest, "/")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return CacheKey{}, fmt.Errorf("malformed user key %q", s)
		}
		return UserProfilePictureKey(parts[0], parts[1], parts[2]), nil
	case "misc":
		return MiscKey(rest), nil
	default:
		return CacheKey{}, fmt.Errorf("unrecognized cache key %q", s)
	}
}
