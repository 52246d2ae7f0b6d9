// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package validation provides input validators shared by the API layer and
// the blocklist store.
package validation

import (
	"net"
	"regexp"
	"strings"

	"github.com/gobwas/glob"

	"grimm.is/burrow/internal/errors"
)

var (
	// HTTP methods accepted on endpoint rules, plus the "ALL" wildcard.
	validMethods = map[string]bool{
		"ALL": true, "GET": true, "POST": true, "PUT": true, "DELETE": true,
		"PATCH": true, "HEAD": true, "OPTIONS": true, "CONNECT": true, "TRACE": true,
	}

	// Field names matchable by pattern rules: lowercase header-style tokens.
	fieldNameRegex = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)
)

// ValidateIP validates a literal IPv4 or IPv6 address.
func ValidateIP(value string) error {
	if value == "" {
		return errors.New(errors.KindValidation, "ip value cannot be empty")
	}
	if net.ParseIP(value) == nil {
		return errors.Errorf(errors.KindValidation, "invalid ip address: %s", value)
	}
	return nil
}

// ValidateMethod validates an endpoint rule method.
func ValidateMethod(method string) error {
	if !validMethods[strings.ToUpper(method)] {
		return errors.Errorf(errors.KindValidation, "invalid method: %s", method)
	}
	return nil
}

// ValidatePattern validates a glob pattern by compiling it.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return errors.New(errors.KindValidation, "pattern cannot be empty")
	}
	if _, err := glob.Compile(pattern); err != nil {
		return errors.Wrapf(err, errors.KindValidation, "invalid pattern %q", pattern)
	}
	return nil
}

// ValidateFieldName validates the field name of a generic pattern rule,
// e.g. "user-agent" or "path".
func ValidateFieldName(name string) error {
	if name == "" {
		return errors.New(errors.KindValidation, "field name cannot be empty")
	}
	if !fieldNameRegex.MatchString(name) {
		return errors.Errorf(errors.KindValidation, "invalid field name: %s (must be lowercase alphanumeric with -)", name)
	}
	return nil
}
