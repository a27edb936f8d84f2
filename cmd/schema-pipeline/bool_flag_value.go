package schemapipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// boolChoiceValue is a pflag value that accepts the usual spellings of a
// boolean so the per-stage flags read naturally (--run-actor=no).
type boolChoiceValue struct {
	target *bool
}

func newBoolChoiceValue(target *bool) *boolChoiceValue {
	return &boolChoiceValue{target: target}
}

func (value *boolChoiceValue) String() string {
	if value == nil || value.target == nil {
		return ""
	}
	return strconv.FormatBool(*value.target)
}

func (value *boolChoiceValue) Set(input string) error {
	boolValue, ok := parseBoolChoice(input)
	if !ok {
		return fmt.Errorf("invalid boolean value %q", input)
	}
	*value.target = boolValue
	return nil
}

func (value *boolChoiceValue) Type() string {
	return "bool"
}

func parseBoolChoice(input string) (bool, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		trimmed = "true"
	}
	normalized := strings.ToLower(trimmed)
	switch normalized {
	case "true", "t", "1", "yes", "y", "on":
		return true, true
	case "false", "f", "0", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

// addBoolChoiceFlag registers a tri-state boolean flag. The bare form
// (--generate-inputs) means true; whether the flag was set at all is what the
// stage resolution inspects, the displayed default is cosmetic.
func addBoolChoiceFlag(flags *pflag.FlagSet, target *bool, name, usage, displayedDefault string) {
	flags.Var(newBoolChoiceValue(target), name, usage)
	if registered := flags.Lookup(name); registered != nil {
		registered.NoOptDefVal = "true"
		registered.DefValue = displayedDefault
	}
}
