// Package model defines the core domain types for the ForgePH points server.
package model

import (
	"fmt"
	"strings"
	"time"
)

// UserStatus records whether a user's email has been verified.
type UserStatus int

const (
	StatusNotVerified UserStatus = iota // Default for new registrations
	StatusVerified                      // Email confirmed, unlocks redemptions
)

func (s UserStatus) String() string {
	switch s {
	case StatusNotVerified:
		return "Not Verified"
	case StatusVerified:
		return "Verified"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	return s == StatusNotVerified || s == StatusVerified
}

// ParseUserStatus converts a display string to a UserStatus.
// Unknown values map to StatusNotVerified.
func ParseUserStatus(s string) UserStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verified":
		return StatusVerified
	default:
		return StatusNotVerified
	}
}

// MarshalText encodes the status as its display string.
func (s UserStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("model: invalid user status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a display string.
func (s *UserStatus) UnmarshalText(b []byte) error {
	*s = ParseUserStatus(string(b))
	return nil
}

// UserType distinguishes shoppers from shop owners.
type UserType string

const (
	UserTypeCustomer UserType = "Customer"
	UserTypeRetailer UserType = "Retailer"
)

// Valid reports whether t is a known user type.
func (t UserType) Valid() bool {
	return t == UserTypeCustomer || t == UserTypeRetailer
}

// Permission is an action gated on a user's status.
type Permission int

const (
	PermEarnPoints Permission = iota
	PermSendMessage
	PermPlayGame
	PermRedeemPromo
)

// DayLayout is the calendar-day key format stored in last*Date fields.
const DayLayout = "2006-01-02"

// DayKey formats t as a calendar-day key in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}
