package rbac

import (
	"strings"
	"testing"

	"github.com/Devign20164/ForgePh/pkg/model"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name   string
		status model.UserStatus
		perm   model.Permission
		want   bool
	}{
		{"verified redeem", model.StatusVerified, model.PermRedeemPromo, true},
		{"verified earn", model.StatusVerified, model.PermEarnPoints, true},
		{"unverified earn", model.StatusNotVerified, model.PermEarnPoints, true},
		{"unverified chat", model.StatusNotVerified, model.PermSendMessage, true},
		{"unverified play", model.StatusNotVerified, model.PermPlayGame, true},
		{"unverified redeem", model.StatusNotVerified, model.PermRedeemPromo, false},
		{"unknown status", model.UserStatus(42), model.PermEarnPoints, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.status, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%v, %d) = %v, want %v", tt.status, tt.perm, got, tt.want)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	if msg := RequirePermission(model.StatusVerified, model.PermRedeemPromo); msg != "" {
		t.Fatalf("expected allowed, got %q", msg)
	}
	msg := RequirePermission(model.StatusNotVerified, model.PermRedeemPromo)
	if !strings.Contains(msg, "redeem_promo") {
		t.Fatalf("denial message %q does not name the permission", msg)
	}
}
