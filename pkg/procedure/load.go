package procedure

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScript is returned when a script fails validation.
var ErrInvalidScript = errors.New("procedure: invalid script")

var validate = validator.New()

// Load reads a script from a YAML or JSON file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("procedure: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("procedure: %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a script document. JSON input is accepted since it is valid YAML.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	s.ApplyDefaults()
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints on s.
func Validate(s *Script) error {
	if s == nil {
		return fmt.Errorf("%w: nil script", ErrInvalidScript)
	}
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidScript, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return nil
}
