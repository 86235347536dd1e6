// Package rbac gates features on a user's verification status.
package rbac

import "github.com/Devign20164/ForgePh/pkg/model"

// permissionMatrix maps statuses to their allowed permissions.
var permissionMatrix = map[model.UserStatus]map[model.Permission]bool{
	model.StatusVerified: {
		model.PermEarnPoints:  true,
		model.PermSendMessage: true,
		model.PermPlayGame:    true,
		model.PermRedeemPromo: true,
	},
	model.StatusNotVerified: {
		model.PermEarnPoints:  true,
		model.PermSendMessage: true,
		model.PermPlayGame:    true,
		// Promo redemption requires a verified email
	},
}

// HasPermission checks if a status has a specific permission.
func HasPermission(status model.UserStatus, perm model.Permission) bool {
	perms, ok := permissionMatrix[status]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the status lacks the permission, or empty string if allowed.
func RequirePermission(status model.UserStatus, perm model.Permission) string {
	if HasPermission(status, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires a verified account"
}

func permName(p model.Permission) string {
	switch p {
	case model.PermEarnPoints:
		return "earn_points"
	case model.PermSendMessage:
		return "send_message"
	case model.PermPlayGame:
		return "play_game"
	case model.PermRedeemPromo:
		return "redeem_promo"
	default:
		return "unknown"
	}
}
