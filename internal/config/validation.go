package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate = sync.OnceValue(func() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
})

// Validate checks cfg against its struct tags and the rules that span
// several fields.
func Validate(cfg *Config) error {
	if err := validate().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		errs := make([]error, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			errs = append(errs, fieldError(fe))
		}
		return errors.Join(errs...)
	}

	if len(cfg.Users) == 0 && !cfg.Anonymous.Enabled {
		return errors.New("no users configured and anonymous access is disabled")
	}

	seen := make(map[string]bool, len(cfg.Users))
	for _, u := range cfg.Users {
		if seen[u.Name] {
			return fmt.Errorf("duplicate user %q", u.Name)
		}
		seen[u.Name] = true
	}

	pp := cfg.Server.PassivePorts
	if (pp.Min == 0) != (pp.Max == 0) {
		return errors.New("server.passive_ports: min and max must be set together")
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	if fe.Param() != "" {
		return fmt.Errorf("%s: must satisfy %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s: must satisfy %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
}
