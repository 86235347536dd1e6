package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "Alice", nil},
		{"valid with spaces", "Juan dela Cruz", nil},
		{"valid unicode", "Niño", nil},
		{"valid max length", strings.Repeat("a", MaxNameLength), nil},
		{"empty", "", ErrNameEmpty},
		{"whitespace only", "   ", ErrNameEmpty},
		{"too long", strings.Repeat("a", MaxNameLength+1), ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		input   string
		wantErr error
	}{
		{"alice@example.com", nil},
		{"a.b+tag@shop.ph", nil},
		{"", ErrEmailInvalid},
		{"not-an-email", ErrEmailInvalid},
		{"Alice <alice@example.com>", ErrEmailInvalid},
		{"@example.com", ErrEmailInvalid},
		{strings.Repeat("a", MaxEmailLength) + "@x.com", ErrEmailInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if err := ValidateEmail(tt.input); err != tt.wantErr {
				t.Errorf("ValidateEmail(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"min length", strings.Repeat("p", MinPasswordLength), nil},
		{"too short", "short", ErrPasswordTooShort},
		{"bcrypt limit", strings.Repeat("p", MaxPasswordLength), nil},
		{"over bcrypt limit", strings.Repeat("p", MaxPasswordLength+1), ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidatePassword(tt.input); err != tt.wantErr {
				t.Errorf("ValidatePassword() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUserValidate(t *testing.T) {
	base := User{Name: "Alice", Email: "alice@example.com", UserType: UserTypeCustomer}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() on valid user: %v", err)
	}

	bad := base
	bad.UserType = "Wholesaler"
	if err := bad.Validate(); err != ErrInvalidUserType {
		t.Errorf("Validate() user type = %v, want %v", err, ErrInvalidUserType)
	}

	bad = base
	bad.ShopName = strings.Repeat("s", MaxShopNameLength+1)
	if err := bad.Validate(); err != ErrShopNameTooLong {
		t.Errorf("Validate() shop name = %v, want %v", err, ErrShopNameTooLong)
	}
}

func TestUserPublicDropsPasswordHash(t *testing.T) {
	u := &User{ID: 7, Name: "Alice", PasswordHash: "$2a$10$secret"}
	pub := u.Public()
	if pub.PasswordHash != "" {
		t.Fatalf("Public() kept password hash")
	}
	if u.PasswordHash == "" {
		t.Fatalf("Public() mutated the original")
	}

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Fatalf("password hash leaked into JSON: %s", data)
	}
}

func TestUserStatusText(t *testing.T) {
	tests := []struct {
		status UserStatus
		want   string
	}{
		{StatusNotVerified, "Not Verified"},
		{StatusVerified, "Verified"},
		{UserStatus(9), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("UserStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
			}
		})
	}

	var s UserStatus
	if err := json.Unmarshal([]byte(`"Verified"`), &s); err != nil || s != StatusVerified {
		t.Fatalf("unmarshal Verified: status=%v err=%v", s, err)
	}
	if _, err := json.Marshal(UserStatus(9)); err == nil {
		t.Fatalf("marshal of invalid status should fail")
	}
}

func TestParseUserStatus(t *testing.T) {
	tests := []struct {
		input string
		want  UserStatus
	}{
		{"Verified", StatusVerified},
		{" verified ", StatusVerified},
		{"Not Verified", StatusNotVerified},
		{"", StatusNotVerified},
		{"banana", StatusNotVerified},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseUserStatus(tt.input); got != tt.want {
				t.Errorf("ParseUserStatus(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDayKeyUsesLocation(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	// 17:30 UTC on Mar 1 is already Mar 2 in Manila.
	ts := time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC)

	if got := DayKey(ts, time.UTC); got != "2026-03-01" {
		t.Errorf("DayKey(UTC) = %q", got)
	}
	if got := DayKey(ts, manila); got != "2026-03-02" {
		t.Errorf("DayKey(PHT) = %q", got)
	}
	if got := DayKey(ts, nil); got != "2026-03-01" {
		t.Errorf("DayKey(nil) = %q", got)
	}
}

func TestRoomFor(t *testing.T) {
	if got := RoomFor(42); got != "user:42" {
		t.Fatalf("RoomFor(42) = %q", got)
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"ok", "hello", nil},
		{"blank", "  ", ErrMessageBodyEmpty},
		{"too long", strings.Repeat("x", MessageMaxBodyLength+1), ErrMessageBodyTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Body: tt.body}
			if err := m.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
