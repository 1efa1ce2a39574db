// Package masking renders phone numbers according to a role's visibility mode.
package masking

import (
	"strings"

	"github.com/frahmantamala/crm-authz/internal"
)

type Mode string

const (
	Full   Mode = "full"
	Masked Mode = "masked"
	Hidden Mode = "hidden"
)

const (
	bullet = "•"

	hiddenLength = 10
	keepPrefix   = 3
	keepSuffix   = 2
)

// Modes lists the accepted visibility modes in display order.
var Modes = []Mode{Full, Masked, Hidden}

func (m Mode) Valid() bool {
	switch m {
	case Full, Masked, Hidden:
		return true
	}
	return false
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode validates a wire value.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", internal.ErrInvalidVisibilityMode
	}
	return m, nil
}

// Mask renders phone under mode. Hidden output has a constant length so it
// leaks nothing about the input. Unknown modes mask.
func Mask(phone string, mode Mode) string {
	if phone == "" {
		return ""
	}

	switch mode {
	case Full:
		return phone
	case Hidden:
		return strings.Repeat(bullet, hiddenLength)
	}

	runes := []rune(phone)
	n := len(runes)
	if n <= keepPrefix+keepSuffix {
		return strings.Repeat(bullet, n)
	}

	var b strings.Builder
	b.WriteString(string(runes[:keepPrefix]))
	b.WriteString(strings.Repeat(bullet, n-keepPrefix-keepSuffix))
	b.WriteString(string(runes[n-keepSuffix:]))
	return b.String()
}

// MaskPtr treats a nil phone like an empty one.
func MaskPtr(phone *string, mode Mode) string {
	if phone == nil {
		return ""
	}
	return Mask(*phone, mode)
}
