package auth

// HasPermission reports whether u holds at least the required clearance.
// A nil user (no session) never has permission.
//
// This check is advisory: clients use it to gate what they offer, but every
// data-returning endpoint re-applies the rule server-side and that check is
// the one that counts. Relying on the client-side result alone is a bug.
func HasPermission(u *User, required int) bool {
	if u == nil {
		return false
	}
	return u.Level >= required
}

// CanView reports whether content gated at accessLevel is within u's clearance.
func CanView(u *User, accessLevel int) bool {
	return HasPermission(u, accessLevel)
}
