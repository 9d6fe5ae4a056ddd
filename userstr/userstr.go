// Package userstr distinguishes values typed by a human on the command
// line from values already deserialized (from JSON or YAML) into their
// native Go type, and provides the coercion rules a Setting.Update
// implementation needs to turn either into a concrete value.
package userstr

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// UserStr marks a string as having come from a human on the command line,
// rather than from a structured format that already carries its own type.
// The blank UserStr is special: it always means "reset to default".
type UserStr string

var boolWords = map[string]bool{
	"true": true, "yes": true, "on": true, "1": true, "y": true,
	"false": false, "no": false, "off": false, "0": false, "n": false,
}

// ToBool coerces v to a bool. A nil return means "reset to default". An
// already-native bool passes through unchanged; a UserStr is matched
// case-insensitively against the usual truthy/falsey words.
func ToBool(v any) (*bool, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return &t, nil
	case UserStr:
		s := strings.ToLower(strings.TrimSpace(string(t)))
		if s == "" || s == "auto" {
			return nil, nil
		}
		b, ok := boolWords[s]
		if !ok {
			return nil, errors.Errorf("%q is not a valid bool", string(t))
		}
		return &b, nil
	default:
		return nil, errors.Errorf("%v is not a valid bool", v)
	}
}

// ToInt coerces v to an int. A nil return means "reset to default".
// Decimal and "0x"-prefixed hexadecimal strings are both accepted.
func ToInt(v any) (*int, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return &t, nil
	case UserStr:
		s := strings.ToLower(strings.TrimSpace(string(t)))
		if s == "" {
			return nil, nil
		}
		var n int64
		var err error
		if strings.HasPrefix(s, "0x") {
			n, err = strconv.ParseInt(s[2:], 16, 64)
		} else {
			n, err = strconv.ParseInt(s, 10, 64)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%q is not a valid integer", string(t))
		}
		i := int(n)
		return &i, nil
	default:
		return nil, errors.Errorf("%v is not a valid integer", v)
	}
}

// ToFloat coerces v to a float64. A nil return means "reset to default".
func ToFloat(v any) (*float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return &t, nil
	case int:
		f := float64(t)
		return &f, nil
	case UserStr:
		s := strings.TrimSpace(string(t))
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%q is not a valid number", string(t))
		}
		return &f, nil
	default:
		return nil, errors.Errorf("%v is not a valid number", v)
	}
}

// ToStr coerces v to a string. A nil return means "reset to default".
func ToStr(v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return &t, nil
	case UserStr:
		if t == "" {
			return nil, nil
		}
		s := strings.TrimSpace(string(t))
		return &s, nil
	default:
		return nil, errors.Errorf("%v is not a valid string", v)
	}
}

// ToList coerces v to a []string, splitting on sep when it is a UserStr (or
// plain string) containing sep. A nil return means "reset to default".
func ToList(v any, sep string) (*[]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		out := append([]string(nil), t...)
		return &out, nil
	case UserStr:
		if t == "" {
			return nil, nil
		}
		return splitTrimmed(string(t), sep), nil
	case string:
		return splitTrimmed(t, sep), nil
	default:
		return nil, errors.Errorf("%v is not a valid list", v)
	}
}

func splitTrimmed(s, sep string) *[]string {
	s = strings.TrimSpace(s)
	var parts []string
	if strings.Contains(s, sep) {
		for _, elem := range strings.Split(s, sep) {
			parts = append(parts, strings.TrimSpace(elem))
		}
	} else {
		parts = []string{s}
	}
	return &parts
}
