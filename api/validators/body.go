// Package validators decodes and checks request input, turning every problem
// into a CodeValidation error whose details name the offending field.
package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}()

// DecodeJSONBody reads exactly one JSON object into dest, rejecting unknown
// fields, then runs struct validation.
func DecodeJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, false)
}

// DecodeOptionalJSONBody is DecodeJSONBody except an empty body leaves dest
// at its zero value, which is still validated.
func DecodeOptionalJSONBody(r *http.Request, dest any) error {
	return decode(r, dest, true)
}

func decode(r *http.Request, dest any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if !optional {
			return bodyError("request body is required", nil)
		}
		return Struct(dest)
	}
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
		_ = body.Close()
	}()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dest)
	switch {
	case errors.Is(err, io.EOF) && optional:
		return Struct(dest)
	case errors.Is(err, io.EOF):
		return bodyError("request body is required", nil)
	case err != nil:
		return decodeError(err)
	}
	if dec.More() {
		return bodyError("request body must contain a single JSON object", nil)
	}
	return Struct(dest)
}

// Struct validates dest against its validate tags.
func Struct(dest any) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe)] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func decodeError(err error) error {
	var (
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		tooBigErr  *http.MaxBytesError
		details    = map[string]any{}
		message    = "invalid request body"
		unknownKey = "json: unknown field "
	)
	switch {
	case errors.As(err, &tooBigErr):
		message = "request body too large"
		details["limit_bytes"] = tooBigErr.Limit
	case errors.As(err, &syntaxErr):
		details["offset"] = syntaxErr.Offset
	case errors.As(err, &typeErr):
		details["field"] = typeErr.Field
		details["expected"] = typeErr.Type.String()
	case strings.HasPrefix(err.Error(), unknownKey):
		details["field"] = strings.Trim(strings.TrimPrefix(err.Error(), unknownKey), `"`)
		message = "unknown field"
	case errors.Is(err, io.ErrUnexpectedEOF):
		details["offset"] = "end of body"
	}
	return bodyError(message, err).WithDetails(details)
}

func bodyError(message string, cause error) *pkgerrors.Error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, message)
}

// fieldPath drops the root struct so nested fields read shipping_address.city.
func fieldPath(fe validator.FieldError) string {
	if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	p := fe.Param()
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return "is required"
	case "min", "gte":
		return "must be at least " + p
	case "max", "lte":
		return "must be at most " + p
	case "gt":
		return "must be greater than " + p
	case "lt":
		return "must be less than " + p
	case "len":
		return fmt.Sprintf("must be exactly %s characters", p)
	case "oneof":
		return "must be one of: " + p
	case "uuid", "uuid4":
		return "must be a valid uuid"
	case "email":
		return "must be a valid email"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	}
	return "is invalid"
}
