// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/storefront/storefront/internal/auth"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// schemaCache holds one compiled schema per request type.
var schemaCache sync.Map // map[reflect.Type]*jschema.Schema

// GenerateSchema returns the JSON Schema for the request type of v.
func GenerateSchema(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	return r.Reflect(v)
}

// RequestSchemas returns the schema of every request body the API accepts,
// keyed by a file-friendly name.
func RequestSchemas() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"register":        GenerateSchema(&auth.RegisterInput{}),
		"login":           GenerateSchema(&auth.LoginInput{}),
		"forgot-password": GenerateSchema(&forgotPasswordRequest{}),
		"reset-password":  GenerateSchema(&auth.ConfirmResetInput{}),
		"update-profile":  GenerateSchema(&auth.UpdateProfileInput{}),
	}
}

func compiledSchema(v any) (*jschema.Schema, error) {
	t := reflect.TypeOf(v)
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*jschema.Schema), nil //nolint:forcetypeassert // only *jschema.Schema is stored
	}

	raw, err := json.Marshal(GenerateSchema(v))
	if err != nil {
		return nil, oops.With("type", t.String()).Wrap(err)
	}
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, oops.With("type", t.String()).Wrap(err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("request.json", doc); err != nil {
		return nil, oops.With("type", t.String()).Wrap(err)
	}
	sch, err := c.Compile("request.json")
	if err != nil {
		return nil, oops.With("type", t.String()).Wrap(err)
	}

	actual, _ := schemaCache.LoadOrStore(t, sch)
	return actual.(*jschema.Schema), nil //nolint:forcetypeassert // only *jschema.Schema is stored
}

// decodeBody reads a JSON body, validates it against the schema generated
// from dst's type, then decodes it into dst. Every failure is a validation
// error.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return oops.Code(string(auth.KindValidation)).Errorf("request body is too large")
		}
		return oops.Code(string(auth.KindValidation)).Errorf("request body could not be read")
	}

	instance, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oops.Code(string(auth.KindValidation)).Errorf("request body must be valid JSON")
	}

	sch, err := compiledSchema(dst)
	if err != nil {
		return err
	}
	if err := sch.Validate(instance); err != nil {
		return oops.Code(string(auth.KindValidation)).
			Errorf("invalid request body: %s", schemaErrorMessage(err))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code(string(auth.KindValidation)).Errorf("request body must be valid JSON")
	}
	return nil
}

// schemaErrorMessage drops the schema URL header line of a validation error
// and joins the remaining causes.
func schemaErrorMessage(err error) string {
	lines := strings.Split(err.Error(), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "; ")
}
