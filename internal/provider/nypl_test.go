package provider

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nyplExportLines = []string{
	`{"UUID":"u1","title":"Brooklyn Bridge","resourceType":["still image"],"captures":["http://images.nypl.org/index.php?id=1&t=g"],"digitalCollectionsURL":"https://digitalcollections.nypl.org/items/u1","contributor":[{"contributorName":"Abbott, Berenice"}],"subjectName":[{"text":"Bridges"},{"text":"New York"}]}`,
	`{"UUID":"u2","title":"A map","resourceType":["cartographic"],"captures":["http://images.nypl.org/index.php?id=2&t=g"]}`,
	`{"UUID":"u3","title":"No captures","resourceType":"still image","captures":[]}`,
	``,
	`not json at all`,
	`{"UUID":"u4","title":"Street","resourceType":"still image","captures":["http://images.nypl.org/index.php?id=4&t=g"],"subjectName":[]}`,
	`{"UUID":"u5","title":"Park","resourceType":["text","still image"],"captures":["http://images.nypl.org/index.php?id=5&t=g"]}`,
}

func writeExport(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nypl.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestNYPL_FileWalk(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Settings.NYPL.Token = ""
	env.deps.Settings.NYPL.File = writeExport(t, nyplExportLines)
	env.deps.Settings.NYPL.PerPage = 3

	h := env.handler(t, NYPLName)
	t.Cleanup(func() { _ = h.(*NYPL).Close() })
	assert.Equal(t, File, h.Pagination().Style)

	images, w := collect(t, h, WalkOptions{Sleeper: env.sleeper})

	require.Len(t, images, 3)
	assert.Equal(t, 3, w.Records())
	// 7 lines at 3 per chunk, plus the chunk that finds the end.
	assert.Equal(t, 3, w.Pages())
	assert.Empty(t, env.sleeper.Calls())
	assert.Zero(t, env.transport.GetTotalCallCount())

	bridge := images[0]
	assert.Equal(t, "http://images.nypl.org/index.php?id=1&t=w", bridge.URL)
	assert.Equal(t, "http://images.nypl.org/index.php?id=1&t=r", bridge.ThumbnailURL)
	assert.Equal(t, "Abbott, Berenice", bridge.Creator)
	assert.Equal(t, "https://digitalcollections.nypl.org/items/u1", bridge.ForeignLandingURL)
	assert.Equal(t, "u1", bridge.ForeignID())
	assert.Equal(t, "Brooklyn Bridge", bridge.Title)
	assert.Equal(t, "cc0", bridge.License)
	assert.Equal(t, "1.0", bridge.LicenseVersion)
	assert.Equal(t, []string{"Bridges", "New York"}, bridge.Tags)

	assert.Equal(t, "u4", images[1].ForeignID())
	assert.Equal(t, "u5", images[2].ForeignID())
}

func TestNYPL_FileResumeFromOffset(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Settings.NYPL.File = writeExport(t, nyplExportLines)

	h := env.handler(t, NYPLName)
	t.Cleanup(func() { _ = h.(*NYPL).Close() })

	page, err := h.FetchPage(t.Context(), PageRequest{Offset: 5, PerPage: 10})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.False(t, page.HasMore)

	// A non-sequential offset reopens the file.
	page, err = h.FetchPage(t.Context(), PageRequest{Offset: 0, PerPage: 1})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.True(t, page.HasMore)
}

func TestNYPL_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Settings.NYPL.File = filepath.Join(t.TempDir(), "missing.ndjson")

	_, err := env.handler(t, NYPLName).FetchPage(t.Context(), PageRequest{PerPage: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNYPL_API(t *testing.T) {
	env := newTestEnv(t)
	rec := &queryRecorder{}
	env.transport.RegisterResponder("GET", "https://api.repo.nypl.org/api/v1/items/search", rec.responder(
		`{"nyplAPI":{"response":{"numResults":"3","result":[
			{"uuid":"a1","imageID":"100","title":"One","itemLink":"https://digitalcollections.nypl.org/items/a1","typeOfResource":"still image"},
			{"uuid":"a2","imageID":"200","title":"Two","itemLink":"https://digitalcollections.nypl.org/items/a2"}
		]}}}`,
		`{"nyplAPI":{"response":{"numResults":"3","result":
			{"uuid":"a3","imageID":"300","title":"Three"}
		}}}`,
	))
	env.deps.Settings.NYPL.PerPage = 2

	images, w := collect(t, env.handler(t, NYPLName), WalkOptions{Sleeper: env.sleeper})

	require.Len(t, images, 3)
	assert.Equal(t, 2, w.Pages())
	require.Len(t, rec.headers, 2)
	assert.Equal(t, "Token token=nypl-token", rec.headers[0].Get("Authorization"))
	assert.Equal(t, "still image", rec.queries[0].Get("q"))
	assert.Equal(t, "true", rec.queries[0].Get("publicDomainOnly"))
	assert.Equal(t, "2", rec.queries[1].Get("page"))

	one := images[0]
	assert.Equal(t, "https://images.nypl.org/index.php?id=100&t=w", one.URL)
	assert.Equal(t, "https://images.nypl.org/index.php?id=100&t=r", one.ThumbnailURL)
	assert.Equal(t, "a1", one.ForeignID())
	assert.Equal(t, "https://digitalcollections.nypl.org/items/a1", one.ForeignLandingURL)
	assert.Equal(t, "a3", images[2].ForeignID())
}

func TestNYPL_RequiresTokenOrFile(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Settings.NYPL.Token = ""

	_, err := NewDefaultRegistry().New(NYPLName, env.deps)
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestNYPL_UnauthorizedAPI(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "https://api.repo.nypl.org/api/v1/items/search",
		jsonResponder(http.StatusUnauthorized, `{"nyplAPI":{"response":{"headers":{"status":"error"}}}}`))

	_, err := env.handler(t, NYPLName).FetchPage(t.Context(), PageRequest{Page: 1, PerPage: 10})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}
