package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openledger/imageledger/internal/errors"
)

var flickrNative = map[Code]string{
	BY: "4", BYNC: "2", BYND: "6", BYSA: "5",
	BYNCND: "3", BYNCSA: "1", PDM: "7", CC0: "9",
}

func TestMatchLicenses(t *testing.T) {
	tests := []struct {
		name     string
		selected []string
		want     string
		wantOK   bool
	}{
		{"commercial and modifiable groups intersect", []string{"ALL-$", "ALL-MOD"}, "4,5,7,9", true},
		{"single code", []string{"BY"}, "4", true},
		{"unknown is ignored", []string{"UNKNOWN", "BY"}, "4", true},
		{"only unknown", []string{"UNKNOWN"}, "", false},
		{"empty", nil, "", false},
		{"all", []string{"ALL"}, "1,2,3,4,5,6,7,9", true},
		{"case insensitive", []string{"by-sa", "cc0"}, "5,9", true},
		{"groups override codes", []string{"BY-NC", "ALL-$"}, "4,5,6,7,9", true},
		{"disjoint groups", []string{"ALL-CC", "ALL-$", "ALL-MOD"}, "4,5", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchLicenses(tt.selected, flickrNative)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchLicensesUnknownTolerance(t *testing.T) {
	withUnknown, _ := MatchLicenses([]string{"UNKNOWN", "BY"}, flickrNative)
	without, _ := MatchLicenses([]string{"BY"}, flickrNative)
	assert.Equal(t, without, withUnknown)
}

func TestMatchLicensesSortsAsStrings(t *testing.T) {
	native := map[Code]string{BY: "2", BYSA: "10"}
	got, ok := MatchLicenses([]string{"BY", "BY-SA"}, native)
	require.True(t, ok)
	assert.Equal(t, "10,2", got)
}

func TestURLToLicense(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://creativecommons.org/licenses/by/2.0", "BY 2.0"},
		{"https://creativecommons.org/licenses/by-nc-sa/4.0/", "BY-NC-SA 4.0"},
		{"http://creativecommons.org/licenses/by-sa/3.0/", "BY-SA 3.0"},
		{"https://creativecommons.org/publicdomain/zero/1.0", "CC0"},
		{"http://creativecommons.org/publicdomain/mark/1.0/", "PDM"},
		{"https://creativecommons.org/licenses/cc0/1.0", "CC0 1.0"},
		{"https://creativecommons.org/licenses/pdm/1.0/", "PDM 1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := URLToLicense(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestURLToLicenseMalformed(t *testing.T) {
	for _, u := range []string{
		"https://creativecommons.org/licenses/by",
		"https://creativecommons.org/",
		"https://creativecommons.org/licenses/xyz/2.0",
		"http://www.europeana.eu/rights/rr-f/",
		"http://rightsstatements.org/vocab/InC/1.0/",
		"https://creativecommons.org/licenses/by/2.0/extra/segment",
	} {
		t.Run(u, func(t *testing.T) {
			_, err := URLToLicense(u)
			require.Error(t, err)

			var licErr *LicenseError
			assert.ErrorAs(t, err, &licErr)
		})
	}
}

func TestLicenseURLRoundTrip(t *testing.T) {
	for _, c := range Codes {
		if c == CC0 || c == PDM {
			continue
		}
		u, ok, err := LicenseURL(string(c), "2.0")
		require.NoError(t, err)
		require.True(t, ok)

		got, err := URLToLicense(u)
		require.NoError(t, err)
		assert.Equal(t, string(c)+" 2.0", got)
	}
}

func TestLicenseURLPublicDomainPinnedToOne(t *testing.T) {
	u, ok, err := LicenseURL("CC0", "2.0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://creativecommons.org/publicdomain/zero/1.0", u)

	got, err := URLToLicense(u)
	require.NoError(t, err)
	assert.Equal(t, "CC0", got)

	u, _, err = LicenseURL("pdm", "3.0")
	require.NoError(t, err)
	assert.Equal(t, "https://creativecommons.org/publicdomain/mark/1.0", u)
}

func TestLicenseURLArguments(t *testing.T) {
	_, _, err := LicenseURL("", "1.0")
	assert.Error(t, err)

	_, _, err = LicenseURL("BY", "")
	assert.Error(t, err)

	u, ok, err := LicenseURL("GPL", "3.0")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, u)
}

func TestLicenseErrorCategory(t *testing.T) {
	_, err := URLToLicense("https://example.org/nope")
	ee := errors.New(err).Build()
	assert.Equal(t, errors.CategoryLicense, ee.Category)
}

func TestTable(t *testing.T) {
	table := NewTable(
		Mapping{Provider: "flickr", Native: flickrNative, Version: "2.0"},
		Mapping{Provider: "rijks", Native: map[Code]string{CC0: "0"}, Version: "1.0"},
	)

	assert.Equal(t, []string{"flickr", "rijks"}, table.Providers())
	assert.Equal(t, "2.0", table.Version("flickr"))

	code, ok := table.Lookup("flickr", "5")
	require.True(t, ok)
	assert.Equal(t, BYSA, code)

	_, ok = table.Lookup("flickr", "8")
	assert.False(t, ok)

	got, ok := table.Match("flickr", []string{"ALL-$", "ALL-MOD"})
	require.True(t, ok)
	assert.Equal(t, "4,5,7,9", got)

	native := table.Native("flickr")
	native[BY] = "changed"
	assert.Equal(t, "4", table.Native("flickr")[BY], "Native must return a copy")

	assert.Empty(t, table.Version("unknown"))
}

func TestIsKnownSelector(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"ALL", "all-cc", "ALL-$", "by-nc-sa", " CC0 "} {
		assert.True(t, IsKnownSelector(s), s)
	}
	for _, s := range []string{"", "GPL", "ALL-FREE"} {
		assert.False(t, IsKnownSelector(s), s)
	}
}
