package provider

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rijksObjectJSON(n int, extra string) string {
	return fmt.Sprintf(`{"objectNumber":"SK-A-%d","title":"Work %d","longTitle":"Work %d, 1650",
		"principalOrFirstMaker":"Rembrandt","permitDownload":true,%s
		"webImage":{"guid":"guid-%d","url":"https://lh3.googleusercontent.com/img%d=s0","width":2500,"height":"2034"},
		"links":{"web":"https://www.rijksmuseum.nl/en/collection/SK-A-%d"}}`, n, n, n, extra, n, n, n)
}

func rijksBody(count int, objects ...string) string {
	return fmt.Sprintf(`{"count":%d,"artObjects":[%s]}`, count, strings.Join(objects, ","))
}

func TestRijks_Walk(t *testing.T) {
	env := newTestEnv(t)
	rec := &queryRecorder{}
	env.transport.RegisterResponder("GET", "https://www.rijksmuseum.nl/api/en/collection", rec.responder(
		rijksBody(5,
			rijksObjectJSON(1, ""),
			rijksObjectJSON(2, `"copyrightHolder":"Estate",`),
			rijksObjectJSON(3, ""),
		),
		rijksBody(5,
			rijksObjectJSON(4, `"copyrightHolder":null,`),
			`{"objectNumber":"SK-A-5","webImage":null}`,
		),
		rijksBody(5,
			strings.Replace(rijksObjectJSON(6, ""), `"permitDownload":true`, `"permitDownload":false`, 1),
			// No permitDownload at all is not a permission.
			strings.Replace(rijksObjectJSON(7, ""), `"permitDownload":true,`, "", 1),
		),
	))

	images, w := collect(t, env.handler(t, RijksName), WalkOptions{PerPage: 2, Sleeper: env.sleeper})

	// Filtered records never reach the walk.
	assert.Equal(t, 3, w.Records())
	require.Len(t, images, 3)
	// 5 records at 2 per page: pages 0, 1 and the remainder page 2.
	require.Len(t, rec.queries, 3)
	assert.Equal(t, "0", rec.queries[0].Get("p"))
	assert.Equal(t, "1", rec.queries[1].Get("p"))
	assert.Equal(t, "2", rec.queries[2].Get("p"))
	assert.Equal(t, "rijks-key", rec.queries[0].Get("key"))
	assert.Equal(t, "True", rec.queries[0].Get("imgonly"))
	assert.Equal(t, "2", rec.queries[0].Get("ps"))

	first := images[0]
	assert.Equal(t, "https://lh3.googleusercontent.com/img1=s0", first.URL)
	assert.Equal(t, "https://lh3.googleusercontent.com/img1=s200", first.ThumbnailURL)
	assert.Equal(t, "guid-1", first.ForeignID())
	assert.Equal(t, "https://www.rijksmuseum.nl/en/collection/SK-A-1", first.ForeignLandingURL)
	assert.Equal(t, "Rembrandt", first.Creator)
	assert.Equal(t, "Work 1, 1650", first.Title)
	assert.Equal(t, "cc0", first.License)
	assert.Equal(t, "1.0", first.LicenseVersion)
	assert.Equal(t, 2500, *first.Width)
	assert.Equal(t, 2034, *first.Height)

	assert.Equal(t, "guid-3", images[1].ForeignID())
	assert.Equal(t, "guid-4", images[2].ForeignID())
}

func TestRijks_TotalPages(t *testing.T) {
	env := newTestEnv(t)
	env.transport.RegisterResponder("GET", "https://www.rijksmuseum.nl/api/en/collection",
		jsonResponder(200, rijksBody(250, rijksObjectJSON(1, ""))))

	page, err := env.handler(t, RijksName).FetchPage(t.Context(), PageRequest{Page: 1, PerPage: 100})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasMore)
}
