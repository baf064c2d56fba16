package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// errBadInput carries no message. The caller supplies the generic
// "not a valid <type>" phrasing.
var errBadInput = errors.New("")

// InputTypeFunc coerces one raw request argument into its typed value.
type InputTypeFunc func(input string) (any, error)

var friendlyTypeNames = map[string]string{
	"Array":  "List",
	"Object": "Structured Data",
}

// FriendlyTypeName converts an input type name into the name shown to
// callers in validation messages.
func FriendlyTypeName(inputType string) string {
	if friendly, ok := friendlyTypeNames[inputType]; ok {
		return friendly
	}
	return inputType
}

var digitsRe = regexp.MustCompile(`^\d+$`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// InputTypes maps a declared parameter type to its coercion rule.
var InputTypes = map[string]InputTypeFunc{
	"Number": func(input string) (any, error) {
		value, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return nil, errBadInput
		}
		return value, nil
	},

	"Date": func(input string) (any, error) {
		if digitsRe.MatchString(input) {
			millis, err := strconv.ParseInt(input, 10, 64)
			if err != nil {
				return nil, errBadInput
			}
			return time.UnixMilli(millis), nil
		}
		for _, layout := range dateLayouts {
			if value, err := time.Parse(layout, input); err == nil {
				return value, nil
			}
		}
		return nil, errBadInput
	},

	"Latitude": func(input string) (any, error) {
		value, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return nil, errBadInput
		}
		if value < -90 || 90 < value {
			return nil, errors.New("Latitude must be between -90 and 90.")
		}
		return value, nil
	},

	"Longitude": func(input string) (any, error) {
		value, err := strconv.ParseFloat(input, 64)
		if err != nil {
			return nil, errBadInput
		}
		if value < -180 || 180 < value {
			return nil, errors.New("Longitude must be between -180 and 180.")
		}
		return value, nil
	},

	"Array": func(input string) (any, error) {
		var value []any
		if err := json.Unmarshal([]byte(input), &value); err != nil {
			return nil, errBadInput
		}
		return value, nil
	},

	// structured data is a list of (key, value) pairs
	"Object": func(input string) (any, error) {
		var pairs []any
		if err := json.Unmarshal([]byte(input), &pairs); err != nil {
			return nil, errors.New("It should be a list of (key, value) pairs.")
		}
		value := map[string]any{}
		for _, pairAny := range pairs {
			pair, ok := pairAny.([]any)
			if !ok || len(pair) < 1 || 2 < len(pair) {
				return nil, errors.New("It should be a list of (key, value) pairs.")
			}
			key := fmt.Sprintf("%v", pair[0])
			if len(pair) == 2 {
				value[key] = pair[1]
			} else {
				value[key] = ""
			}
		}
		return value, nil
	},
}
