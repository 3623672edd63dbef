// Package validation holds request-shape validation that does not belong
// to a single gin handler's binding tags — organization names extracted
// from scoped package names, and role strings from the management API.
package validation

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/models"
)

const maxOrganizationNameLength = 50

// organizationNamePattern mirrors npm scope naming: starts with a letter
// or underscore, never starts with a dot or hyphen, and is otherwise
// letters/digits/underscore/hyphen/dot.
var organizationNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterValidation("orgname", func(fl validator.FieldLevel) bool {
			return organizationNamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// OrganizationName enforces npm scope naming rules via a registered
// validator.v10 tag: non-empty, at most 50 characters, first character a
// letter or underscore, every character a letter/digit/underscore/
// hyphen/dot, and never starting with a dot or hyphen.
func OrganizationName(name string) error {
	if err := getValidator().Var(name, "required,max=50,orgname"); err != nil {
		if name == "" {
			return apierr.BadRequest("organization name cannot be empty")
		}
		if len(name) > maxOrganizationNameLength {
			return apierr.BadRequest("organization name cannot be longer than %d characters", maxOrganizationNameLength)
		}
		return apierr.BadRequest("organization name must start with a letter or underscore and contain only letters, numbers, underscores, hyphens, and dots")
	}
	return nil
}

// Role validates and normalizes a role string from request input.
func Role(role string) (models.OrganizationRole, error) {
	parsed, ok := models.ParseOrganizationRole(role)
	if !ok {
		return "", apierr.BadRequest("invalid role %q: must be 'owner', 'admin', or 'member'", role)
	}
	return parsed, nil
}
