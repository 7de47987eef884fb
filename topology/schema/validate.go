// Package schema validates declaration specs against the rules in their
// struct tags.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"gopkg.in/go-playground/validator.v9"
)

var check = validator.New()

// Validate validates the struct v against the validate tags on its fields.
// The first violation is returned with a readable message.
func Validate(v interface{}) error {
	err := check.Struct(v)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	once.Do(initFormatters)
	fe := errs[0]
	format, ok := formats[fe.Tag()]
	if !ok {
		return fmt.Errorf("%s is invalid", fieldName(fe))
	}
	if !strings.Contains(format, "%") {
		return fmt.Errorf("%s %s", fieldName(fe), format)
	}
	return fmt.Errorf("%s %s", fieldName(fe), fmt.Sprintf(format, fe.Param()))
}

func fieldName(fe validator.FieldError) string {
	// Strip the leading struct name from PartitionSpec.Name.
	name := fe.Namespace()
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

var once sync.Once
var formats map[string]string

func initFormatters() {
	formats = map[string]string{
		"required": "must be set",
		"min":      "must be %v or more",
		"max":      "must be %v or less",
		"gte":      "must be %v or more",
		"lte":      "must be %v or less",
		"oneof":    "must be one of: [%v]",
	}
}
