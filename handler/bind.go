package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxBodySize caps JSON request bodies.
const DefaultMaxBodySize = 1 << 20

// JSONBody decodes a JSON request body strictly: unknown fields and trailing
// data are rejected. Requests without a body are skipped.
func JSONBody() Bind {
	return JSONBodyLimit(DefaultMaxBodySize)
}

// JSONBodyLimit is JSONBody with a custom size cap.
func JSONBodyLimit(maxBytes int64) Bind {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(r *http.Request, v any) error {
		if r.Body == nil || r.Body == http.NoBody || (r.ContentLength == 0 && r.Header.Get("Content-Type") == "") {
			return ErrBinderNotApplicable
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				return ErrUnsupportedMediaType.WithMessage("expected application/json")
			}
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
		if err != nil {
			return errors.Join(ErrBadRequest.WithMessage("failed to read request body"), err)
		}
		if int64(len(body)) > maxBytes {
			return ErrRequestTooLarge.WithMessage(fmt.Sprintf("request body exceeds %d bytes", maxBytes))
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return ErrBinderNotApplicable
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return errors.Join(ErrBadRequest.WithMessage("invalid JSON body"), err)
		}
		if dec.More() {
			return ErrBadRequest.WithMessage("unexpected data after JSON object")
		}
		return nil
	}
}

// PathParams fills string fields tagged `path:"name"` from chi route parameters.
func PathParams() Bind {
	return func(r *http.Request, v any) error {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
			return ErrBinderNotApplicable
		}
		rv = rv.Elem()
		rt := rv.Type()
		for i := range rt.NumField() {
			name := rt.Field(i).Tag.Get("path")
			if name == "" || rt.Field(i).Type.Kind() != reflect.String {
				continue
			}
			if val := chi.URLParam(r, name); val != "" {
				rv.Field(i).SetString(val)
			}
		}
		return nil
	}
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate runs struct validation on the bound value. Place it after the
// binders that fill the struct.
func Validate(v *validator.Validate) Bind {
	return func(_ *http.Request, req any) error {
		rv := reflect.ValueOf(req)
		if rv.Kind() == reflect.Pointer && rv.Elem().Kind() != reflect.Struct {
			return nil
		}
		err := v.Struct(req)
		if err == nil {
			return nil
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		out := ValidationError{}
		for _, fe := range fieldErrs {
			out.Add(fe.Field(), validationMessage(fe))
		}
		return out
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url", "http_url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed on " + fe.Tag()
	}
}
