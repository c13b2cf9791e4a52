// Package configbinder binds loosely typed key/value maps, such as run parameters, onto
// typed structs and validates the result.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BindProperties decodes properties into target using `mapstructure` tags. Strings are
// converted to the target field types.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("failed to bind properties to struct %s: %w", typeName(target), err)
	}
	return nil
}

// Bind decodes properties into target and checks its `validate` tags. Every failure is
// a ConfigurationError.
func Bind(module string, properties map[string]interface{}, target interface{}) error {
	if err := BindProperties(properties, target); err != nil {
		return exception.NewConfigurationError(module, "invalid parameters", err)
	}
	if err := validate.Struct(target); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return exception.NewConfigurationError(module,
				fmt.Sprintf("parameter %s failed '%s' validation", fe.Field(), fe.Tag()), err)
		}
		return exception.NewConfigurationError(module, "invalid parameters", err)
	}
	return nil
}

func typeName(target interface{}) string {
	t := reflect.TypeOf(target)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
