// Package secrets resolves credential settings that reference environment
// variables or mounted secret files instead of holding the value itself.
//
// A setting value may be:
//   - a literal: "abc123"
//   - an environment reference: "${FLICKR_API_KEY}" or "${FLICKR_API_KEY:-fallback}"
//   - a file reference: "file:/run/secrets/flickr_api_key"
package secrets

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/openledger/imageledger/internal/errors"
)

const (
	// FilePrefix marks a value that names a secret file.
	FilePrefix = "file:"

	// maxSecretFileSize limits secret file reads; secrets are tokens, not documents
	maxSecretFileSize = 64 * 1024
)

// Warnings are written here. Secret values are never included.
var warnOutput io.Writer = os.Stderr

// Expand resolves ${VAR} and ${VAR:-default} references in s. A referenced
// variable that is unset and has no default is an error.
func Expand(s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file. Trailing newlines are trimmed and an empty
// file is an error. Files readable by group or others are accepted with a
// warning.
func ReadFile(path string) (string, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	if !info.Mode().IsRegular() {
		return "", fileError(fmt.Errorf("not a regular file"), clean)
	}
	if info.Size() > maxSecretFileSize {
		return "", fileError(fmt.Errorf("larger than %d bytes", maxSecretFileSize), clean)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		fmt.Fprintf(warnOutput, "WARNING: secret file has group/other permissions (perms: %04o): %s\n", perm, clean)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(err, clean)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(fmt.Errorf("secret file is empty"), clean)
	}
	return secret, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}

// Resolve returns the secret value value refers to.
func Resolve(value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		path, err := Expand(path)
		if err != nil {
			return "", err
		}
		return ReadFile(path)
	}
	return Expand(value)
}

// ResolveAll resolves every field in place. The error names the setting
// that failed, never its value.
func ResolveAll(fields map[string]*string) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		field := fields[name]
		if field == nil || *field == "" {
			continue
		}
		resolved, err := Resolve(*field)
		if err != nil {
			return errors.New(err).
				Component("secrets").
				Category(errors.CategoryConfiguration).
				Context("setting", name).
				Build()
		}
		*field = resolved
	}
	return nil
}
