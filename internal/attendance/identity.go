package attendance

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	initialsLength = 3
	maxNameLength  = 120
	maxEmailLength = 254
)

var validate = validator.New()

// Identity is the person presenting a token. Every field arrives from outside,
// either typed into the check-in form or copied from identity provider claims.
type Identity struct {
	Email    string
	Name     string
	Initials string
}

// Normalize validates the identity and fills in derived initials.
func (id Identity) Normalize() (Identity, error) {
	out := Identity{
		Email:    strings.ToLower(strings.TrimSpace(id.Email)),
		Name:     strings.Join(strings.Fields(id.Name), " "),
		Initials: lettersUpper(id.Initials, initialsLength),
	}

	if out.Email == "" {
		return Identity{}, fmt.Errorf("%w: email is required", ErrInvalidIdentity)
	}
	if len(out.Email) > maxEmailLength {
		return Identity{}, fmt.Errorf("%w: email is too long", ErrInvalidIdentity)
	}
	if err := validate.Var(out.Email, "required,email"); err != nil {
		return Identity{}, fmt.Errorf("%w: email is not a valid address", ErrInvalidIdentity)
	}
	if utf8.RuneCountInString(out.Name) > maxNameLength {
		return Identity{}, fmt.Errorf("%w: name is too long", ErrInvalidIdentity)
	}

	if out.Initials == "" && out.Name != "" {
		out.Initials = firstUpper(out.Name, initialsLength)
	}
	if out.Initials == "" {
		local, _, _ := strings.Cut(out.Email, "@")
		out.Initials = firstUpper(local, initialsLength)
	}
	return out, nil
}

func firstUpper(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return strings.ToUpper(string(runes))
}

func lettersUpper(s string, n int) string {
	var sb strings.Builder
	count := 0
	for _, r := range s {
		if count == n {
			break
		}
		if unicode.IsLetter(r) {
			sb.WriteRune(unicode.ToUpper(r))
			count++
		}
	}
	return sb.String()
}
