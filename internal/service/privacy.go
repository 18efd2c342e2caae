package service

import "projectzero/internal/model"

// canView reports whether a viewer may see a field guarded by level. isFollower
// means the viewer follows the owner.
func canView(level string, isSelf, isFollower bool) bool {
	if isSelf {
		return true
	}
	switch level {
	case model.PrivacyPublic:
		return true
	case model.PrivacyFollowers:
		return isFollower
	default:
		return false
	}
}
