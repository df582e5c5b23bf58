package rest

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	maxUserIDLen   = 128
	minUsernameLen = 2
	maxUsernameLen = 32
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding rules on gin's validator.
// Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("userid", validUserID)
		_ = v.RegisterValidation("username", validUsername)
	})
}

// validUserID accepts opaque ids without whitespace or control characters.
// Empty passes here; the services report it with their own error.
func validUserID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) > maxUserIDLen {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// validUsername bounds the length of the name as it will be stored, after
// surrounding whitespace is trimmed.
func validUsername(fl validator.FieldLevel) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(fl.Field().String()))
	return n >= minUsernameLen && n <= maxUsernameLen
}
