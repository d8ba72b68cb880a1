package auth

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 50
	maxNameLen     = 100
	maxPhoneLen    = 20
)

// RegisterInput carries the fields accepted by Register.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

func (in *RegisterInput) normalize() {
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
}

// Validate reports every rejected field at once.
func (in RegisterInput) Validate() error {
	v := &ValidationError{}
	checkEmail(v, in.Email)
	switch n := utf8.RuneCountInString(in.Password); {
	case n == 0:
		v.add("password", "password is required")
	case n < minPasswordLen:
		v.add("password", "password must be at least 8 characters")
	case n > maxPasswordLen:
		v.add("password", "password must be at most 50 characters")
	}
	if utf8.RuneCountInString(in.FirstName) > maxNameLen {
		v.add("firstName", "firstName must be at most 100 characters")
	}
	if utf8.RuneCountInString(in.LastName) > maxNameLen {
		v.add("lastName", "lastName must be at most 100 characters")
	}
	if utf8.RuneCountInString(in.Phone) > maxPhoneLen {
		v.add("phone", "phone must be at most 20 characters")
	}
	return v.orNil()
}

func checkEmail(v *ValidationError, email string) {
	if email == "" {
		v.add("email", "email is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		v.add("email", "email must be a valid address")
	}
}

func requireField(v *ValidationError, field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, field+" is required")
	}
}
