package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

type ConfigurationError struct {
	errs []error
}

func (c *ConfigurationError) Error() string {
	amount := len(c.errs)
	var errstrings []string
	for _, err := range c.errs {
		errstrings = append(errstrings, err.Error())
	}

	return fmt.Sprintf("found %d error(s) in the configuration:\n%s", amount, strings.Join(errstrings, "\n"))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (c *ConfigurationError) Unwrap() []error {
	return c.errs
}

// PushError records err. Nil errors are ignored.
func (c *ConfigurationError) PushError(err error) {
	if err == nil {
		return
	}
	c.errs = append(c.errs, err)
}

// ErrorOrNil returns c when it holds any error.
func (c *ConfigurationError) ErrorOrNil() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c
}

// CleanOrGetConfigPath splits a custom config file path into directory and
// base name. Without one it returns the default ./.wlanon.yaml location.
func CleanOrGetConfigPath(customPath string) (string, string, error) {
	if customPath != "" {
		cfgDir, cfgFile := filepath.Split(filepath.Clean(customPath))
		if cfgDir == "" {
			cfgDir = "."
		}

		ext := filepath.Ext(cfgFile)
		if ext == "" || (ext != ".yaml" && ext != ".yml") {
			return "", "", errors.New("expected config file to have .yaml or .yml extension")
		}

		return strings.TrimSuffix(cfgDir, string(filepath.Separator)), strings.TrimSuffix(cfgFile, ext), nil
	}

	return ".", ".wlanon", nil
}
