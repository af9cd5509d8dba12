package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var durationType = reflect.TypeOf(time.Duration(0))

// configToCmdFlags registers one flag per mapstructure-tagged field of cfg,
// descending into squashed embedded structs. The description tag is the
// usage text and defaultValue the default.
func configToCmdFlags(cmd *cobra.Command, cfg any) error {
	t := reflect.TypeOf(cfg)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("config must be a struct, got %s", t.Kind())
	}
	return structToFlags(cmd, t)
}

func structToFlags(cmd *cobra.Command, t reflect.Type) error {
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		if strings.Contains(tag, ",squash") {
			if err := structToFlags(cmd, f.Type); err != nil {
				return err
			}
			continue
		}
		if err := addFlag(cmd, tag, f); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func addFlag(cmd *cobra.Command, name string, f reflect.StructField) error {
	usage := f.Tag.Get("description")
	if f.Tag.Get("required") == "true" {
		usage += " (required)"
	}
	usage = fmt.Sprintf("%s ($%s)", usage, envName(name))
	def := f.Tag.Get("defaultValue")
	flags := cmd.Flags()

	if f.Type == durationType {
		value := time.Duration(0)
		if def != "" {
			d, err := time.ParseDuration(def)
			if err != nil {
				return err
			}
			value = d
		}
		flags.Duration(name, value, usage)
		return nil
	}

	switch f.Type.Kind() {
	case reflect.String:
		flags.String(name, def, usage)
	case reflect.Bool:
		value := false
		if def != "" {
			b, err := strconv.ParseBool(def)
			if err != nil {
				return err
			}
			value = b
		}
		flags.Bool(name, value, usage)
	case reflect.Int:
		value := 0
		if def != "" {
			n, err := strconv.Atoi(def)
			if err != nil {
				return err
			}
			value = n
		}
		flags.Int(name, value, usage)
	case reflect.Uint32:
		value := uint64(0)
		if def != "" {
			n, err := strconv.ParseUint(def, 10, 32)
			if err != nil {
				return err
			}
			value = n
		}
		flags.Uint32(name, uint32(value), usage)
	case reflect.Slice:
		if f.Type.Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", f.Type)
		}
		var value []string
		if def != "" {
			value = strings.Split(def, ",")
		}
		flags.StringSlice(name, value, usage)
	default:
		return fmt.Errorf("unsupported type %s", f.Type)
	}
	return nil
}

func envName(key string) string {
	return strings.ToUpper(envPrefix + "_" + strings.ReplaceAll(key, "-", "_"))
}
