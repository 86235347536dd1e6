package model

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxNameLength     = 64
	MaxEmailLength    = 254
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt ignores input past 72 bytes
	MaxShopNameLength = 128

	DefaultRank = "Bronze"
)

var ErrNameEmpty = errors.New("name must not be empty")
var ErrNameTooLong = fmt.Errorf("name must not exceed %d characters", MaxNameLength)
var ErrEmailInvalid = errors.New("email address is invalid")
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
var ErrPasswordTooLong = fmt.Errorf("password must not exceed %d bytes", MaxPasswordLength)
var ErrInvalidUserType = errors.New("user type must be Customer or Retailer")
var ErrShopNameTooLong = fmt.Errorf("shop name must not exceed %d characters", MaxShopNameLength)

// Location is where a user is based.
type Location struct {
	Province string `json:"province" yaml:"province,omitempty"`
	City     string `json:"city" yaml:"city,omitempty"`
}

// User is a loyalty-program account.
//
// Points is only ever changed through an atomic increment in the datastore.
// The counter fields hold the remaining quota for the calendar day named by
// the matching Last*Date key.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	PhoneNumber  string     `json:"phoneNumber"`
	Location     Location   `json:"location"`
	UserType     UserType   `json:"userType"`
	Points       int64      `json:"points"`
	Rank         string     `json:"rank"`
	ShopName     string     `json:"shopName,omitempty"`
	UserStatus   UserStatus `json:"userStatus"`

	RedemptionCount    int    `json:"redemptionCount"`
	LastRedemptionDate string `json:"lastRedemptionDate"` // DayLayout key, empty if never set
	DailyGamePlays     int    `json:"dailyGamePlays"`
	LastGamePlayDate   string `json:"lastGamePlayDate"`

	CreatedAt time.Time `json:"registrationDate"`
}

// Public returns a copy of u without secret fields.
func (u *User) Public() *User {
	c := *u
	c.PasswordHash = ""
	return &c
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName checks that a display name is 1-64 characters.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateEmail checks that email is a bare address of reasonable length.
func ValidateEmail(email string) error {
	if email == "" || len(email) > MaxEmailLength {
		return ErrEmailInvalid
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrEmailInvalid
	}
	return nil
}

// ValidatePassword checks password length bounds.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// Validate checks the fields a stored user must satisfy.
func (u *User) Validate() error {
	if err := ValidateName(u.Name); err != nil {
		return err
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if !u.UserType.Valid() {
		return ErrInvalidUserType
	}
	if utf8.RuneCountInString(u.ShopName) > MaxShopNameLength {
		return ErrShopNameTooLong
	}
	return nil
}
