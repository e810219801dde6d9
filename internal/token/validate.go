package token

// Validator is a pure predicate over a verified claim set. Validators perform
// no I/O and either pass or fail with a typed error; they never silently
// rewrite claims.
type Validator func(*Claims) error

// RequireAudience fails with WrongClient unless the token is scoped to
// exactly the expected client application. There is no wildcard audience.
func RequireAudience(expected string) Validator {
	return func(c *Claims) error {
		if c.ClientID() != expected {
			return ErrWrongClient
		}
		return nil
	}
}

// RequireScopes fails with MissingScope listing every required scope absent
// from the claim set. All required scopes must be present; unrelated extra
// scopes are ignored.
func RequireScopes(required ...string) Validator {
	return func(c *Claims) error {
		var missing []string
		for _, scope := range required {
			if !c.HasScope(scope) {
				missing = append(missing, scope)
			}
		}
		if len(missing) > 0 {
			return MissingScopes(missing)
		}
		return nil
	}
}

// DenyBanned fails with Banned iff the risk state is banned. A restricted
// account passes; restriction is informational at this layer.
func DenyBanned() Validator {
	return func(c *Claims) error {
		if c.Risk == RiskBanned {
			return ErrBanned
		}
		return nil
	}
}

// Multiclient composes the standard multiclient validator chain in its fixed
// order: audience, then scopes, then risk.
func Multiclient(audience string, scopes ...string) []Validator {
	return []Validator{
		RequireAudience(audience),
		RequireScopes(scopes...),
		DenyBanned(),
	}
}

// Run applies validators in order and returns the first failure.
func Run(claims *Claims, validators ...Validator) error {
	for _, v := range validators {
		if err := v(claims); err != nil {
			return err
		}
	}
	return nil
}
