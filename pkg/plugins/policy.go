package plugins

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/platinummonkey/hinge/pkg/descriptor"
	"github.com/platinummonkey/hinge/pkg/errdefs"
)

// InstallPolicy decides whether a descriptor may be installed. Check runs
// before the Context lock is taken and may query the Context.
type InstallPolicy interface {
	Check(c *Context, d *descriptor.Descriptor) error
}

// PolicyFunc adapts a function to InstallPolicy
type PolicyFunc func(c *Context, d *descriptor.Descriptor) error

// Check implements InstallPolicy
func (f PolicyFunc) Check(c *Context, d *descriptor.Descriptor) error { return f(c, d) }

// ValidationError describes one policy violation
type ValidationError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PolicyError reports the violations that caused an install to be
// refused. It matches errdefs.ErrPolicy.
type PolicyError struct {
	Plugin     string
	Violations []ValidationError
}

func (e *PolicyError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("%s: plugin %s: %s", errdefs.ErrPolicy, e.Plugin, strings.Join(msgs, "; "))
}

// Unwrap returns errdefs.ErrPolicy
func (e *PolicyError) Unwrap() error { return errdefs.ErrPolicy }

// violations turns errs into a PolicyError if any of them is an error.
// Warnings alone never refuse an install.
func violations(d *descriptor.Descriptor, errs []ValidationError) error {
	for _, e := range errs {
		if e.Severity == "error" {
			return &PolicyError{Plugin: d.ID(), Violations: errs}
		}
	}
	return nil
}

// AllowAll accepts every descriptor
var AllowAll InstallPolicy = PolicyFunc(func(*Context, *descriptor.Descriptor) error { return nil })

// Policies combines several policies. Violations from all of them are
// reported together.
func Policies(policies ...InstallPolicy) InstallPolicy {
	return PolicyFunc(func(c *Context, d *descriptor.Descriptor) error {
		var all []ValidationError
		for _, p := range policies {
			err := p.Check(c, d)
			if err == nil {
				continue
			}
			if pe, ok := err.(*PolicyError); ok {
				all = append(all, pe.Violations...)
				continue
			}
			return err
		}
		return violations(d, all)
	})
}

// RequireSatisfied refuses descriptors whose mandatory requires are not
// installed or are installed at a lower version. Optional requires that
// are installed below the wanted version produce a warning only.
var RequireSatisfied InstallPolicy = PolicyFunc(func(c *Context, d *descriptor.Descriptor) error {
	var errs []ValidationError
	for _, r := range d.Requires() {
		severity := "error"
		if r.Optional {
			severity = "warning"
		}

		installed, ok := c.Query(r.PluginID)
		if !ok {
			if !r.Optional {
				errs = append(errs, ValidationError{
					Field:    "requires",
					Message:  fmt.Sprintf("required plugin %s is not installed", r.PluginID),
					Severity: severity,
				})
			}
			continue
		}

		if r.Version != "" && CompareVersions(installed.Version(), r.Version) < 0 {
			errs = append(errs, ValidationError{
				Field:    "requires",
				Message:  fmt.Sprintf("plugin %s is at version %q, %q required", r.PluginID, installed.Version(), r.Version),
				Severity: severity,
			})
		}
	}
	return violations(d, errs)
})

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*(\.[A-Za-z_][A-Za-z0-9_-]*)*$`)

// ValidIdentifiers refuses descriptors whose id, extension point or
// extension local ids are not dotted identifiers, or whose extensions do
// not name a target extension point
var ValidIdentifiers InstallPolicy = PolicyFunc(func(_ *Context, d *descriptor.Descriptor) error {
	var errs []ValidationError

	if !identifierRegex.MatchString(d.ID()) {
		errs = append(errs, ValidationError{
			Field:    "id",
			Message:  fmt.Sprintf("plugin id %q must be a dotted identifier (e.g., 'org.app.editor')", d.ID()),
			Severity: "error",
		})
	} else if !strings.Contains(d.ID(), ".") {
		errs = append(errs, ValidationError{
			Field:    "id",
			Message:  fmt.Sprintf("plugin id %q should be namespaced", d.ID()),
			Severity: "warning",
		})
	}

	for _, ep := range d.ExtPoints() {
		if !identifierRegex.MatchString(ep.LocalID()) {
			errs = append(errs, ValidationError{
				Field:    "extpoint",
				Message:  fmt.Sprintf("extension point id %q is not an identifier", ep.LocalID()),
				Severity: "error",
			})
		}
	}

	for _, ext := range d.Extensions() {
		if !identifierRegex.MatchString(ext.LocalID()) {
			errs = append(errs, ValidationError{
				Field:    "extension",
				Message:  fmt.Sprintf("extension id %q is not an identifier", ext.LocalID()),
				Severity: "error",
			})
		}
		if _, _, ok := descriptor.SplitGlobalID(ext.ExtPointID()); !ok {
			errs = append(errs, ValidationError{
				Field:    "extension",
				Message:  fmt.Sprintf("extension %s targets invalid extension point %q", ext.ID(), ext.ExtPointID()),
				Severity: "error",
			})
		}
	}

	return violations(d, errs)
})

// CompareVersions compares dotted version strings segment by segment.
// Numeric segments compare numerically, others lexically, and a missing
// segment counts as zero. A leading "v" is ignored.
func CompareVersions(a, b string) int {
	as := strings.Split(strings.TrimPrefix(a, "v"), ".")
	bs := strings.Split(strings.TrimPrefix(b, "v"), ".")

	for i := 0; i < max(len(as), len(bs)); i++ {
		x, y := "0", "0"
		if i < len(as) && as[i] != "" {
			x = as[i]
		}
		if i < len(bs) && bs[i] != "" {
			y = bs[i]
		}

		xn, xerr := strconv.Atoi(x)
		yn, yerr := strconv.Atoi(y)
		switch {
		case xerr == nil && yerr == nil:
			if xn != yn {
				if xn < yn {
					return -1
				}
				return 1
			}
		case x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}
