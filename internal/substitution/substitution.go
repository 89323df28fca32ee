// Package substitution implements §4.3 placeholder expansion: every
// occurrence of ${key} in a task command is replaced with the string
// value of inputData[key]. Unknown keys are left as the literal token —
// this is documented behavior, not a bug, so callers can distinguish a
// missing variable from an empty one.
package substitution

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// ErrMalformedInput is returned when inputData is not valid JSON.
type ErrMalformedInput struct {
	Cause error
}

func (e *ErrMalformedInput) Error() string {
	return fmt.Sprintf("placeholder substitution: malformed input data: %v", e.Cause)
}

func (e *ErrMalformedInput) Unwrap() error { return e.Cause }

// Expand substitutes every ${key} in command with the string form of
// inputData[key], where inputData is a JSON object. Unknown keys are
// left untouched.
func Expand(command string, inputData string) (string, error) {
	fields, err := decode(inputData)
	if err != nil {
		return "", err
	}

	return placeholder.ReplaceAllStringFunc(command, func(token string) string {
		key := token[2 : len(token)-1]
		val, ok := fields[key]
		if !ok {
			return token
		}
		return stringify(val)
	}), nil
}

func decode(inputData string) (map[string]interface{}, error) {
	if inputData == "" {
		return map[string]interface{}{}, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(inputData), &fields); err != nil {
		return nil, &ErrMalformedInput{Cause: err}
	}
	return fields, nil
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
