// Package license normalizes the open licenses used by image providers.
//
// Canonical codes are the Creative Commons short names (BY, BY-NC-SA, CC0,
// PDM ...). Providers each use their own native values for these codes;
// a Table holds those per-provider mappings and is built once at startup.
package license

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/openledger/imageledger/internal/errors"
)

// Code is a canonical license code.
type Code string

const (
	BY     Code = "BY"
	BYNC   Code = "BY-NC"
	BYND   Code = "BY-ND"
	BYSA   Code = "BY-SA"
	BYNCND Code = "BY-NC-ND"
	BYNCSA Code = "BY-NC-SA"
	PDM    Code = "PDM"
	CC0    Code = "CC0"
)

const urlBase = "https://creativecommons.org"

// Codes lists every canonical code.
var Codes = []Code{BY, BYNC, BYND, BYSA, BYNCND, BYNCSA, PDM, CC0}

// Group names accepted by MatchLicenses.
const (
	GroupAll        = "ALL"
	GroupAllCC      = "ALL-CC"
	GroupCommercial = "ALL-$"
	GroupModifiable = "ALL-MOD"
)

// Groups expands group names into their member codes.
var Groups = map[string][]Code{
	GroupAll:        {BY, BYNC, BYND, BYSA, BYNCND, BYNCSA, PDM, CC0},
	GroupAllCC:      {BY, BYNC, BYND, BYSA, BYNCND, BYNCSA},
	GroupCommercial: {BY, BYSA, BYND, CC0, PDM},
	GroupModifiable: {BY, BYSA, BYNC, BYNCSA, CC0, PDM},
}

// Names are the human readable titles of each code.
var Names = map[Code]string{
	BY:     "Attribution",
	BYNC:   "Attribution NonCommercial",
	BYND:   "Attribution NoDerivatives",
	BYSA:   "Attribution ShareAlike",
	BYNCND: "Attribution NonCommercial NoDerivatives",
	BYNCSA: "Attribution NonCommercial ShareAlike",
	PDM:    "Public Domain Mark",
	CC0:    "Public Domain Dedication",
}

// ParseCode returns the canonical code for s, ignoring case.
func ParseCode(s string) (Code, bool) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(Codes, c) {
		return c, true
	}
	return "", false
}

// IsKnownSelector reports whether s names a code or a group.
func IsKnownSelector(s string) bool {
	if _, ok := Groups[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return true
	}
	_, ok := ParseCode(s)
	return ok
}

// LicenseError reports a license URL or argument that cannot be interpreted.
type LicenseError struct {
	Input  string
	Reason string
}

func (e *LicenseError) Error() string {
	if e.Input == "" {
		return "license: " + e.Reason
	}
	return fmt.Sprintf("license: %s: %q", e.Reason, e.Input)
}

// ErrorCategory lets the errors package classify LicenseError.
func (e *LicenseError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryLicense
}

// MatchLicenses translates user selected codes and groups into a
// provider's comma separated native values.
//
// When any group is selected the result is the intersection of all selected
// groups and individual codes are ignored; otherwise the selected codes are
// used directly. Unknown names are dropped. Values are sorted as strings,
// so "10" sorts before "2". The boolean is false when nothing matched.
func MatchLicenses(selected []string, native map[Code]string) (string, bool) {
	var codes []Code
	var groups [][]Code
	for _, s := range selected {
		name := strings.ToUpper(strings.TrimSpace(s))
		if g, ok := Groups[name]; ok {
			groups = append(groups, g)
			continue
		}
		if c, ok := ParseCode(name); ok {
			codes = append(codes, c)
		}
	}

	if len(groups) > 0 {
		codes = groups[0]
		for _, g := range groups[1:] {
			codes = slices.DeleteFunc(slices.Clone(codes), func(c Code) bool {
				return !slices.Contains(g, c)
			})
		}
	}

	values := make([]string, 0, len(codes))
	for _, c := range codes {
		if v, ok := native[c]; ok && v != "" && !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return "", false
	}
	slices.Sort(values)
	return strings.Join(values, ","), true
}

// ParseURL extracts the code and version from a Creative Commons deed URL.
// Public domain URLs (/publicdomain/zero/.. and /publicdomain/mark/..)
// map to CC0 and PDM with an empty version. Any canonical code, CC0 and PDM
// included, is accepted under /licenses/ with its version.
func ParseURL(rawURL string) (Code, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", &LicenseError{Input: rawURL, Reason: "unparseable URL"}
	}

	path := strings.TrimSuffix(u.Path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[0] != "" {
		return "", "", &LicenseError{Input: rawURL, Reason: "expected 3 path segments"}
	}

	kind, fragment, version := parts[1], strings.ToUpper(parts[2]), parts[3]
	switch {
	case kind == "publicdomain" && fragment == "ZERO":
		return CC0, "", nil
	case kind == "publicdomain" && fragment == "MARK":
		return PDM, "", nil
	case kind == "licenses":
		code, ok := ParseCode(fragment)
		if !ok {
			return "", "", &LicenseError{Input: rawURL, Reason: "unknown license fragment"}
		}
		if version == "" {
			return "", "", &LicenseError{Input: rawURL, Reason: "missing version"}
		}
		return code, version, nil
	default:
		return "", "", &LicenseError{Input: rawURL, Reason: "not a license URL"}
	}
}

// URLToLicense returns "<CODE> <version>", or just "<CODE>" for public
// domain URLs.
func URLToLicense(rawURL string) (string, error) {
	code, version, err := ParseURL(rawURL)
	if err != nil {
		return "", err
	}
	if version == "" {
		return string(code), nil
	}
	return string(code) + " " + version, nil
}

// LicenseURL returns the canonical deed URL for a code and version.
// CC0 and PDM always point at version 1.0. An unknown code returns false
// without an error; empty arguments are an error.
func LicenseURL(code, version string) (string, bool, error) {
	if code == "" {
		return "", false, &LicenseError{Reason: "no license was provided"}
	}
	if version == "" {
		return "", false, &LicenseError{Reason: "no version was provided"}
	}

	c, ok := ParseCode(code)
	if !ok {
		return "", false, nil
	}

	switch c {
	case CC0:
		return urlBase + "/publicdomain/zero/1.0", true, nil
	case PDM:
		return urlBase + "/publicdomain/mark/1.0", true, nil
	default:
		return fmt.Sprintf("%s/licenses/%s/%s", urlBase, strings.ToLower(string(c)), version), true, nil
	}
}
