package domain

import "testing"

func TestUser_ValidateDefaults(t *testing.T) {
	u := &User{Email: "a@example.com", PasswordHash: "x"}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if u.Status != UserStatusActive || u.Role != RoleMember {
		t.Errorf("defaults not applied: status=%q role=%q", u.Status, u.Role)
	}
	if !u.IsActive() {
		t.Error("new user should be active")
	}
}

func TestUser_ValidateRequiredFields(t *testing.T) {
	if err := (&User{PasswordHash: "x"}).Validate(); err == nil {
		t.Error("missing email should fail")
	}
	if err := (&User{Email: "a@example.com"}).Validate(); err == nil {
		t.Error("missing password hash should fail")
	}
}

func TestUser_IsActive(t *testing.T) {
	for _, st := range []UserStatus{UserStatusDeactivated, UserStatusPendingDeletion} {
		if (&User{Status: st}).IsActive() {
			t.Errorf("status %q should not be active", st)
		}
	}
}
