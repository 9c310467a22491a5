package models

import "strings"

// Identity suffixes seen on the wire.
const (
	GroupSuffix     = "@g.us"
	UserSuffix      = "@c.us"
	WhatsAppSuffix  = "@s.whatsapp.net"
	LinkedIDSuffix  = "@lid"
	BroadcastSuffix = "@broadcast"
)

// IsGroupID reports whether id names a group chat.
func IsGroupID(id string) bool {
	return strings.HasSuffix(id, GroupSuffix)
}

// IsMentionable reports whether id is a phone-number identity that can be
// mentioned with @<number> in a message body.
func IsMentionable(id string) bool {
	return strings.HasSuffix(id, UserSuffix) || strings.HasSuffix(id, WhatsAppSuffix)
}

// UserPart strips the server suffix and any device part: "123:4@s.whatsapp.net" -> "123".
func UserPart(id string) string {
	user, _, _ := strings.Cut(id, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// NormalizeIdentity maps whatsmeow user JIDs onto the @c.us form so configured
// numbers match in either spelling. Bare numbers get the user suffix; group and
// linked identities are returned unchanged.
func NormalizeIdentity(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if !strings.Contains(id, "@") {
		return strings.TrimPrefix(id, "+") + UserSuffix
	}
	if strings.HasSuffix(id, WhatsAppSuffix) {
		return UserPart(id) + UserSuffix
	}
	return id
}
