package checks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/monasca/monagent"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report the configuration key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// DecodeInstance decodes instance into the struct pointed to by out using
// its mapstructure tags, then checks its validate tags. A missing required
// key yields an error wrapping ErrMissingConfig.
func DecodeInstance(instance monagent.Instance, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]interface{}(instance)); err != nil {
		return fmt.Errorf("decoding instance: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		var missing, invalid []string
		for _, fe := range verrs {
			if strings.HasPrefix(fe.Tag(), "required") {
				missing = append(missing, fe.Field())
			} else {
				invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: Must provide `%s` value in instance config", ErrMissingConfig, strings.Join(missing, "`, `"))
		}
		return fmt.Errorf("invalid instance config: %s", strings.Join(invalid, ", "))
	}
	return nil
}
