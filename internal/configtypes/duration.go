package configtypes

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Duration is time.Duration which is encoded as a human-readable string
// ("500ms", "1m0s") in JSON, TOML and YAML.
type Duration time.Duration

func (d Duration) String() string {
	return d.ToDuration().String()
}

// ToDuration converts the Duration type to time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON for JSON encoding.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts both duration strings and integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		return d.UnmarshalText([]byte(value))
	case float64:
		*d = Duration(value)
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", data)
	}
}

// MarshalText for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML for YAML encoding.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// StringToDurationHookFunc converts strings from config files and environment
// into Duration.
func StringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Duration(0)) {
			return data, nil
		}
		parsed, err := time.ParseDuration(data.(string))
		if err != nil {
			return nil, err
		}
		return Duration(parsed), nil
	}
}
