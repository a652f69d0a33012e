package dto

import (
	"html"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]+$`)
	baseUnitsRe  = regexp.MustCompile(`^[0-9]{1,78}$`)
	privKeyRe    = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("base_units", validateBaseUnits)
		_ = v.RegisterValidation("private_key_hex", validatePrivateKeyHex)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, dot and colon.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validateBaseUnits accepts a non-negative integer string of at most 78 digits (uint256).
func validateBaseUnits(fl validator.FieldLevel) bool {
	return baseUnitsRe.MatchString(fl.Field().String())
}

// validatePrivateKeyHex accepts 32 bytes of hex with an optional 0x prefix.
func validatePrivateKeyHex(fl validator.FieldLevel) bool {
	return privKeyRe.MatchString(fl.Field().String())
}

// ParseBaseUnits converts an optional base-unit string. Input is assumed validated.
func ParseBaseUnits(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				s := sanitize(elem.String())
				elem.SetString(s)
			}
		}
	}
}

func sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
