package authz

// ClassificationGate enforces the clearance ceiling
type ClassificationGate struct{}

// Clears reports whether user's clearance is at least res's classification.
// A nil user or resource never clears.
func (ClassificationGate) Clears(user *User, res *ResourceMeta) bool {
	if user == nil || res == nil || !user.Clearance.Valid() || !res.Classification.Valid() {
		return false
	}
	return user.Clearance.Dominates(res.Classification)
}
