/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/carverauto/livestatus/pkg/logger"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")
)

//nolint:gochecknoglobals // reflect type lookup
var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// EnvConfigLoader fills a config struct from environment variables named after the
// json tags of each field, joined with underscores under a common prefix:
// LIVESTATUS_API_BASE_URL sets API.BaseURL and LIVESTATUS_ENGINE_REFRESH_INTERVAL
// sets Engine.RefreshInterval. <prefix>CONFIG_JSON replaces the whole document.
type EnvConfigLoader struct {
	logger logger.Logger
	prefix string
}

func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
	}
}

// Load implements ConfigLoader. The path argument is ignored.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	if doc := os.Getenv(e.prefix + "CONFIG_JSON"); doc != "" {
		if err := json.Unmarshal([]byte(doc), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		e.logger.Info().Str("env", e.prefix+"CONFIG_JSON").Msg("Loaded configuration document from environment")

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	if v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	applied, err := e.fillStruct(v.Elem(), e.prefix)
	if err != nil {
		return err
	}

	e.logger.Debug().Int("variables", applied).Msg("Loaded configuration from environment")

	return nil
}

// fillStruct walks the exported, json-tagged fields of v and returns how many
// variables were applied.
func (e *EnvConfigLoader) fillStruct(v reflect.Value, prefix string) (int, error) {
	applied := 0
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		envName := prefix + strings.ToUpper(name)

		n, err := e.fillField(field, envName)
		if err != nil {
			return applied, err
		}

		applied += n
	}

	return applied, nil
}

func (e *EnvConfigLoader) fillField(field reflect.Value, envName string) (int, error) {
	if raw, ok := os.LookupEnv(envName); ok && raw != "" {
		if err := assign(field, raw); err != nil {
			return 0, fmt.Errorf("%s: %w", envName, err)
		}

		e.logger.Debug().Str("env", envName).Msg("Applied environment override")

		return 1, nil
	}

	if !isSection(field.Type()) {
		return 0, nil
	}

	sectionPrefix := envName + "_"

	if field.Kind() == reflect.Ptr {
		// an unset optional section stays nil
		if field.IsNil() {
			if !hasEnvWithPrefix(sectionPrefix) {
				return 0, nil
			}

			field.Set(reflect.New(field.Type().Elem()))
		}

		return e.fillStruct(field.Elem(), sectionPrefix)
	}

	return e.fillStruct(field, sectionPrefix)
}

// assign parses raw into field. Types that parse their own text (models.Duration,
// logger.Duration) take precedence; maps and structs are read as JSON.
func assign(field reflect.Value, raw string) error {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		return assign(field.Elem(), raw)
	}

	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshalerType) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	}

	switch field.Kind() { //nolint:exhaustive // everything else is decoded as JSON
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return json.Unmarshal([]byte(raw), field.Addr().Interface())
		}

		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		field.Set(reflect.ValueOf(parts).Convert(field.Type()))
	default:
		return json.Unmarshal([]byte(raw), field.Addr().Interface())
	}

	return nil
}

// isSection reports whether t is a struct (or pointer to one) walked field by field.
func isSection(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return false
	}

	return !reflect.PointerTo(t).Implements(textUnmarshalerType)
}

func hasEnvWithPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}
