package api

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// ErrValidationFailed is wrapped by every *ValidationError.
var ErrValidationFailed = errors.New("validation failed")

// FieldViolation describes one rejected field.
type FieldViolation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError carries the violations found in a request body.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// Validator decodes and checks request bodies according to a ValidationPolicy.
// It is safe for concurrent use once constructed.
type Validator struct {
	policy   ValidationPolicy
	validate *validator.Validate
}

// NewValidator builds the shared validator. Field names in violations use the
// JSON name of the field.
func NewValidator(policy ValidationPolicy) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})
	return &Validator{policy: policy, validate: v}
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() ValidationPolicy {
	return v.policy
}

// Decode unmarshals raw JSON into dst and validates it. An empty body is
// treated as an empty object so that required fields are still reported.
// Keys bind only on an exact match with a declared JSON name; every other key
// is unknown and is dropped or rejected according to the policy.
func (v *Validator) Decode(raw []byte, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}

	doc, err := singleJSONValue(raw)
	if err != nil {
		return &ValidationError{Violations: []FieldViolation{decodeViolation(err)}}
	}

	clean, unknown := sanitizeJSON(doc, reflect.TypeOf(dst), "")
	if len(unknown) > 0 && !v.policy.StripUnknownFields {
		violations := make([]FieldViolation, 0, len(unknown))
		for _, field := range unknown {
			violations = append(violations, unknownFieldViolation(field))
			if v.policy.StopOnFirstError {
				break
			}
		}
		return &ValidationError{Violations: violations}
	}

	if err := json.Unmarshal(clean, dst); err != nil {
		return &ValidationError{Violations: []FieldViolation{decodeViolation(err)}}
	}
	return v.Validate(dst)
}

// singleJSONValue returns the one JSON value in raw and rejects anything
// that follows it.
func singleJSONValue(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	var doc json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return doc, nil
}

var (
	errTrailingData  = errors.New("unexpected data after JSON value")
	jsonUnmarshalerT = reflect.TypeFor[json.Unmarshaler]()
	textUnmarshalerT = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// sanitizeJSON rebuilds raw keeping only the object keys that exactly match
// a JSON field name of t, recursing into nested structs, slices and maps.
// The dropped keys are returned as sorted dotted paths.
func sanitizeJSON(raw json.RawMessage, t reflect.Type, path string) (json.RawMessage, []string) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || customUnmarshal(t) {
		return raw, nil
	}

	var unknown []string
	switch t.Kind() {
	case reflect.Struct:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return raw, nil
		}
		fields := jsonFields(t)
		clean := make(map[string]json.RawMessage, len(obj))
		for key, val := range obj {
			ft, ok := fields[key]
			if !ok {
				unknown = append(unknown, joinFieldPath(path, key))
				continue
			}
			sub, nested := sanitizeJSON(val, ft, joinFieldPath(path, key))
			clean[key] = sub
			unknown = append(unknown, nested...)
		}
		if len(unknown) == 0 {
			return raw, nil
		}
		sort.Strings(unknown)
		return marshalOr(clean, raw), unknown

	case reflect.Slice, reflect.Array:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			return raw, nil
		}
		for i, item := range items {
			sub, nested := sanitizeJSON(item, t.Elem(), fmt.Sprintf("%s[%d]", path, i))
			items[i] = sub
			unknown = append(unknown, nested...)
		}
		if len(unknown) == 0 {
			return raw, nil
		}
		return marshalOr(items, raw), unknown

	case reflect.Map:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return raw, nil
		}
		for key, val := range obj {
			sub, nested := sanitizeJSON(val, t.Elem(), joinFieldPath(path, key))
			obj[key] = sub
			unknown = append(unknown, nested...)
		}
		if len(unknown) == 0 {
			return raw, nil
		}
		sort.Strings(unknown)
		return marshalOr(obj, raw), unknown
	}
	return raw, nil
}

func customUnmarshal(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	return pt.Implements(jsonUnmarshalerT) || pt.Implements(textUnmarshalerT)
}

// jsonFields maps the JSON names of t's fields, including promoted fields of
// untagged embedded structs, to their types.
func jsonFields(t reflect.Type) map[string]reflect.Type {
	fields := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				for k, v := range jsonFields(ft) {
					if _, shadowed := fields[k]; !shadowed {
						fields[k] = v
					}
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = f.Type
	}
	return fields
}

func joinFieldPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func marshalOr(v any, fallback json.RawMessage) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return out
}

// Validate runs the struct tag rules against value.
func (v *Validator) Validate(value any) error {
	err := v.validate.Struct(value)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}

	violations := make([]FieldViolation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, fieldViolation(fe))
		if v.policy.StopOnFirstError {
			break
		}
	}
	return &ValidationError{Violations: violations}
}

// Middleware binds the request body to a fresh value from newBody before
// next runs. Invalid bodies are answered with 400 and never reach next. The
// sanitized value is available through BodyFrom and replaces r.Body.
func (v *Validator) Middleware(newBody func() any) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeCodedError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Payload too large",
						fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
					return
				}
				writeCodedError(w, http.StatusBadRequest, CodeValidationFailed, "Validation failed", "unable to read request body")
				return
			}

			body := newBody()
			if err := v.Decode(raw, body); err != nil {
				var verr *ValidationError
				if errors.As(err, &verr) {
					writeValidationError(w, verr)
					return
				}
				writeInternalError(w, err)
				return
			}

			sanitized, err := json.Marshal(body)
			if err != nil {
				writeInternalError(w, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(sanitized))
			r.ContentLength = int64(len(sanitized))

			ctx := context.WithValue(r.Context(), bodyContextKey, body)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BodyFrom returns the validated body bound for the request.
func BodyFrom[T any](r *http.Request) (*T, bool) {
	body, ok := r.Context().Value(bodyContextKey).(*T)
	return body, ok
}

func writeValidationError(w http.ResponseWriter, verr *ValidationError) {
	details := ""
	if len(verr.Violations) > 0 {
		details = verr.Violations[0].Message
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   "Validation failed",
		Code:    CodeValidationFailed,
		Details: details,
		Fields:  verr.Violations,
	})
}

func decodeViolation(err error) FieldViolation {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		if typeErr.Field == "" {
			return FieldViolation{Rule: "type", Message: "request body must be a JSON object"}
		}
		return FieldViolation{
			Field:   typeErr.Field,
			Rule:    "type",
			Message: fmt.Sprintf("%s must be %s", typeErr.Field, jsonTypeName(typeErr.Type)),
		}
	case errors.Is(err, errTrailingData):
		return FieldViolation{Rule: "json", Message: "request body must contain a single JSON value"}
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return FieldViolation{Rule: "json", Message: "request body is not valid JSON"}
	}
	return FieldViolation{Rule: "json", Message: "request body could not be decoded"}
}

func unknownFieldViolation(field string) FieldViolation {
	return FieldViolation{
		Field:   field,
		Rule:    "whitelist",
		Message: fmt.Sprintf("property %s should not exist", field),
	}
}

// jsonTypeName describes t in JSON terms.
func jsonTypeName(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	}
	return "a valid value"
}

func fieldViolation(fe validator.FieldError) FieldViolation {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	var msg string
	switch fe.Tag() {
	case "required", "required_if", "required_with", "required_without":
		msg = fmt.Sprintf("%s is required", field)
	case "email":
		msg = fmt.Sprintf("%s must be an email", field)
	case "url", "http_url":
		msg = fmt.Sprintf("%s must be a URL address", field)
	case "uuid", "uuid4":
		msg = fmt.Sprintf("%s must be a UUID", field)
	case "min", "gte":
		msg = fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		msg = fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "len":
		msg = fmt.Sprintf("%s must have length %s", field, fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		msg = fmt.Sprintf("%s failed the %s rule", field, fe.Tag())
	}

	return FieldViolation{Field: field, Rule: fe.Tag(), Message: msg}
}
