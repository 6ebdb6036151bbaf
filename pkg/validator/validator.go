package validator

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, err := range v {
		parts[i] = describe(err.Field, err.Tag, err.Param)
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		failures := make(ValidationErrors, 0, len(ve))
		for _, fe := range ve {
			failures = append(failures, ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			})
		}
		return failures
	}

	return err
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

// Rules maps document fields to validator tags ("required,min=2"). A nested
// Rules value describes an embedded document.
type Rules map[string]any

// Result is the outcome of validating one document.
type Result struct {
	Valid  bool
	Errors []apperrors.FieldError
}

// Err converts an invalid result into a validation AppError.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return apperrors.Validation(r.Errors)
}

// Schema validates loosely typed documents against a rule set. Every violated
// field is reported, not just the first.
type Schema struct {
	rules Rules
}

// NewSchema builds a schema from field rules.
func NewSchema(rules Rules) *Schema {
	return &Schema{rules: rules}
}

// Validate checks a complete document; required rules apply.
func (s *Schema) Validate(data map[string]any) Result {
	if s == nil {
		return Result{Valid: true}
	}
	return run(data, plainRules(s.rules, nil))
}

// ValidatePartial checks only the fields present in data and ignores
// required rules, for use with partial updates.
func (s *Schema) ValidatePartial(data map[string]any) Result {
	if s == nil {
		return Result{Valid: true}
	}
	return run(data, plainRules(s.rules, data))
}

func run(data map[string]any, rules map[string]interface{}) Result {
	if data == nil {
		data = map[string]any{}
	}
	raw := getValidator().ValidateMap(data, rules)
	if len(raw) == 0 {
		return Result{Valid: true}
	}

	var fields []apperrors.FieldError
	flatten("", raw, &fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return Result{Valid: false, Errors: fields}
}

func flatten(prefix string, raw map[string]interface{}, out *[]apperrors.FieldError) {
	for field, value := range raw {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}

		switch v := value.(type) {
		case map[string]interface{}:
			flatten(name, v, out)
		case validator.ValidationErrors:
			for _, fe := range v {
				*out = append(*out, apperrors.FieldError{
					Field:   name,
					Rule:    fe.Tag(),
					Message: describe(name, fe.Tag(), fe.Param()),
				})
			}
		case error:
			*out = append(*out, apperrors.FieldError{Field: name, Rule: "map", Message: v.Error()})
		}
	}
}

// plainRules converts Rules into the map shape ValidateMap expects. When
// present is non-nil the result is restricted to the keys in present and
// required rules are dropped.
func plainRules(rules Rules, present map[string]any) map[string]interface{} {
	out := make(map[string]interface{}, len(rules))
	for field, rule := range rules {
		var nested map[string]any
		if present != nil {
			value, ok := present[field]
			if !ok {
				continue
			}
			nested, _ = value.(map[string]any)
		}

		switch r := rule.(type) {
		case string:
			if present != nil {
				r = stripRequired(r)
				if r == "" {
					continue
				}
			}
			out[field] = r
		case Rules:
			if present != nil && nested == nil {
				nested = map[string]any{}
			}
			out[field] = plainRules(r, nested)
		case map[string]any:
			if present != nil && nested == nil {
				nested = map[string]any{}
			}
			out[field] = plainRules(Rules(r), nested)
		}
	}
	return out
}

func stripRequired(rule string) string {
	parts := strings.Split(rule, ",")
	kept := parts[:0]
	for _, part := range parts {
		tag := strings.TrimSpace(part)
		if tag == "required" || strings.HasPrefix(tag, "required_") {
			continue
		}
		kept = append(kept, tag)
	}
	if len(kept) == 0 {
		return ""
	}
	if kept[0] != "omitempty" {
		kept = append([]string{"omitempty"}, kept...)
	}
	return strings.Join(kept, ",")
}

func describe(field, tag, param string) string {
	if param != "" {
		return field + " failed on " + tag + "=" + param
	}
	return field + " failed on " + tag
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := fld.Tag.Get("json")
			if name == "" {
				return fld.Name
			}

			comma := strings.Index(name, ",")
			if comma != -1 {
				name = name[:comma]
			}

			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}
