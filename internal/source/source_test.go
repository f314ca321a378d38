package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"howett.net/plist"

	"github.com/dshills/bookshelf-mcp/pkg/types"
)

const libraryPage = `<!DOCTYPE html>
<html><head><title>Your Library</title></head>
<body>
<script id="itemViewResponse" type="application/json">
{"itemsList": [
  {"asin": "B001", "title": "Dune", "authors": ["Herbert, Frank:"], "percentageRead": 42, "resourceType": "EBOOK", "originType": "PURCHASE", "productUrl": "https://m.media-amazon.com/images/I/dune.jpg"},
  {"asin": "B002", "title": "Foundation", "authors": ["Isaac Asimov"]},
  {"asin": "", "title": "No identifier"},
  {"asin": "B003", "title": "  "}
]}
</script>
<div id="title-B002"><p class="title">Foundation (rendered)</p></div>
<div id="cover-B002"><img src="https://m.media-amazon.com/images/I/foundation.jpg"></div>
<div id="coverContainer-B001"><img id="cover-B001" src="https://m.media-amazon.com/images/I/dune-rendered.jpg"></div>
<div id="title-B004"><p class="title">Good Omens &amp; Friends</p></div>
<div id="author-B004"><p>Terry Pratchett: Neil Gaiman</p></div>
<div id="coverContainer-B004"><img id="cover-B004" class="cover" src="https://m.media-amazon.com/images/I/omens.jpg"></div>
<div id="title-B005"><span><p>Project Hail Mary</p></span></div>
<div id="author-B005"><p>Weir, Andy</p></div>
</body></html>`

func ids(candidates []types.Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.ID)
	}
	return out
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Format
	}{
		{"binary plist", "bplist00\x00\x01", FormatWebArchive},
		{"mime header", "From: <Saved by Blink>\r\nMIME-Version: 1.0\r\n", FormatMHTML},
		{"multipart marker", "Content-Type: multipart/related; boundary=x\r\n", FormatMHTML},
		{"html", "<!DOCTYPE html><html></html>", FormatHTML},
		{"empty", "", FormatHTML},
		{"marker past sniff window", strings.Repeat(" ", 600) + "MIME-Version:", FormatHTML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat([]byte(tt.data)))
		})
	}
}

func TestParse_HTML(t *testing.T) {
	result, err := Parse([]byte(libraryPage))
	require.NoError(t, err)

	assert.Equal(t, FormatHTML, result.Format)
	assert.Equal(t, []string{"B001", "B002", "B004", "B005"}, ids(result.Candidates))
	// Missing identifier and blank title
	assert.Equal(t, 2, result.Skipped)

	dune := result.Candidates[0]
	assert.Equal(t, "Dune", dune.Title)
	assert.Equal(t, []string{"Herbert, Frank"}, dune.Authors)
	require.NotNil(t, dune.PercentRead)
	assert.Equal(t, 42, *dune.PercentRead)
	// Payload cover wins over the rendered one
	assert.Equal(t, "https://m.media-amazon.com/images/I/dune.jpg", dune.CoverURL)

	// Payload wins over rendered text, defaults filled in
	foundation := result.Candidates[1]
	assert.Equal(t, "Foundation", foundation.Title)
	assert.Equal(t, types.DefaultResourceType, foundation.ResourceType)
	assert.Equal(t, types.DefaultOriginType, foundation.OriginType)
	assert.Nil(t, foundation.PercentRead)
	assert.Equal(t, "https://m.media-amazon.com/images/I/foundation.jpg", foundation.CoverURL)

	omens := result.Candidates[2]
	assert.Equal(t, "Good Omens & Friends", omens.Title)
	assert.Equal(t, []string{"Terry Pratchett", "Neil Gaiman"}, omens.Authors)
	assert.Equal(t, "https://m.media-amazon.com/images/I/omens.jpg", omens.CoverURL)

	hailMary := result.Candidates[3]
	assert.Equal(t, "Project Hail Mary", hailMary.Title)
	assert.Equal(t, []string{"Weir", "Andy"}, hailMary.Authors)
	assert.Empty(t, hailMary.CoverURL)
}

func TestParse_RenderedOnly(t *testing.T) {
	page := `<html><body>
<div id="title-B010"><p>Solaris</p></div>
<div id="title-B010"><p>Solaris</p></div>
<div id="title-B011"></div>
</body></html>`

	result, err := Parse([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"B010"}, ids(result.Candidates))
	assert.Empty(t, result.Candidates[0].Authors)
	assert.Equal(t, 1, result.Skipped)
}

func TestParse_BrokenPayload(t *testing.T) {
	page := `<html><body>
<script id="itemViewResponse">{"itemsList": [ not json</script>
<div id="title-B020"><p>Kindred</p></div>
</body></html>`

	result, err := Parse([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"B020"}, ids(result.Candidates))
}

func TestParse_EmptyPage(t *testing.T) {
	result, err := Parse([]byte("<html><body>nothing here</body></html>"))
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
	assert.Zero(t, result.Skipped)
}

func TestParse_WebArchive(t *testing.T) {
	archive := map[string]interface{}{
		"WebMainResource": map[string]interface{}{
			"WebResourceData":     []byte(libraryPage),
			"WebResourceMIMEType": "text/html",
			"WebResourceURL":      "https://read.amazon.com/kindle-library",
		},
	}
	data, err := plist.Marshal(archive, plist.BinaryFormat)
	require.NoError(t, err)

	result, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, FormatWebArchive, result.Format)
	assert.Equal(t, []string{"B001", "B002", "B004", "B005"}, ids(result.Candidates))
}

func TestParse_WebArchiveWithoutHTML(t *testing.T) {
	data, err := plist.Marshal(map[string]interface{}{"WebSubresources": []string{}}, plist.BinaryFormat)
	require.NoError(t, err)

	_, err = Parse(data)
	assert.ErrorIs(t, err, ErrUndecodable)

	_, err = Parse([]byte("bplist00 garbage"))
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestParse_MHTML(t *testing.T) {
	// Quoted-printable with soft line breaks and an encoded '='
	mhtml := "From: <Saved by Blink>\r\n" +
		"Subject: Your Library\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/related;\r\n" +
		"\ttype=\"text/html\";\r\n" +
		"\tboundary=\"----MultipartBoundary--abc\"\r\n" +
		"\r\n" +
		"------MultipartBoundary--abc\r\n" +
		"Content-Type: text/css\r\n" +
		"\r\n" +
		"body { color: red; }\r\n" +
		"------MultipartBoundary--abc\r\n" +
		"Content-Type: text/html\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"<html><body><div id=3D\"title-B030\"><p>The Left Hand of Dar=\r\n" +
		"kness</p></div><div id=3D\"author-B030\"><p>Ursula K. Le Guin</p></div></body></html>\r\n" +
		"------MultipartBoundary--abc--\r\n"

	result, err := Parse([]byte(mhtml))
	require.NoError(t, err)
	assert.Equal(t, FormatMHTML, result.Format)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "B030", result.Candidates[0].ID)
	assert.Equal(t, "The Left Hand of Darkness", result.Candidates[0].Title)
	assert.Equal(t, []string{"Ursula K. Le Guin"}, result.Candidates[0].Authors)
}

func TestParse_MHTMLWithoutHTML(t *testing.T) {
	mhtml := "MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/related; boundary=\"b\"\r\n" +
		"\r\n" +
		"--b\r\n" +
		"Content-Type: image/png\r\n" +
		"\r\n" +
		"png\r\n" +
		"--b--\r\n"

	_, err := Parse([]byte(mhtml))
	assert.ErrorIs(t, err, ErrUndecodable)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_AmazonExport(t *testing.T) {
	root := t.TempDir()
	own := filepath.Join(root, ownershipDir)

	writeFile(t, filepath.Join(own, "a.json"), `{
		"resource": {"asin": "B100", "productName": "Dune", "resourceType": "KindleEBook"},
		"rights": [{"rightStatus": "Revoked"}, {"rightStatus": "Active", "origin": {"originType": "KindleUnlimited"}}]
	}`)
	writeFile(t, filepath.Join(own, "b.json"), `{
		"resource": {"asin": "B101", "resourceType": "KindleEBook"},
		"rights": [{"rightStatus": "Active"}]
	}`)
	writeFile(t, filepath.Join(own, "c.json"), `{
		"resource": {"asin": "B102", "productName": "Returned", "resourceType": "KindleEBook"},
		"rights": [{"rightStatus": "Revoked"}]
	}`)
	writeFile(t, filepath.Join(own, "d.json"), `{
		"resource": {"asin": "B103", "productName": "An Audiobook", "resourceType": "Audible"},
		"rights": [{"rightStatus": "Active"}]
	}`)
	writeFile(t, filepath.Join(own, "e.json"), `{ not json`)
	writeFile(t, filepath.Join(own, "f.json"), `{
		"resource": {"asin": "B100", "productName": "Dune again", "resourceType": "KindleEBook"},
		"rights": [{"rightStatus": "Active"}]
	}`)
	writeFile(t, filepath.Join(own, "notes.txt"), `ignored`)
	writeFile(t, filepath.Join(root, authorCSV), "\"Product Name\",\"ASIN\",\"Author Name\"\n"+
		"\"Dune\",\"B100\",\"Frank Herbert\"\n"+
		"\"Dune\",\"B100\",\"Frank Herbert\"\n"+
		"\"Dune\",\"B100\",\"Brian Herbert\"\n"+
		"\"Other\",\"B101\",\"Le Guin, Ursula\"\n")

	export, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(root), export.Name())

	result, err := export.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FormatAmazonExport, result.Format)
	assert.Equal(t, 1, result.Skipped)
	require.Equal(t, []string{"B100", "B101"}, ids(result.Candidates))

	dune := result.Candidates[0]
	assert.Equal(t, "Dune", dune.Title)
	assert.Equal(t, "KindleUnlimited", dune.OriginType)
	assert.Equal(t, types.DefaultResourceType, dune.ResourceType)
	assert.Equal(t, []string{"Frank Herbert", "Brian Herbert"}, dune.Authors)

	untitled := result.Candidates[1]
	assert.Equal(t, "Not Available", untitled.Title)
	assert.Equal(t, "Purchase", untitled.OriginType)
	assert.Equal(t, []string{"Le Guin, Ursula"}, untitled.Authors)
}

func TestLoad_AmazonExportWithoutAuthors(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ownershipDir, "a.json"), `{
		"resource": {"asin": "B200", "productName": "Kindred", "resourceType": "KindleEBook"},
		"rights": [{"rightStatus": "Active"}]
	}`)

	export, err := Open(root)
	require.NoError(t, err)
	result, err := export.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Empty(t, result.Candidates[0].Authors)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.html"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open(t.TempDir())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.html")
	writeFile(t, path, libraryPage)

	export, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, export.Path())

	result, err := export.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Candidates, 4)

	// Removed after Open: Load fails
	require.NoError(t, os.Remove(path))
	_, err = export.Load(context.Background())
	assert.Error(t, err)
}

func TestLoad_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.html")
	writeFile(t, path, libraryPage)

	export, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = export.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
