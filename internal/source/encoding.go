package source

import (
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder returns a reader that transcodes r to UTF-8. An empty charset
// assumes UTF-8 and honors a leading byte order mark, which spreadsheet
// exports often carry; any other name is resolved like an HTML charset
// label (for example "windows-1252" or "latin1").
func Decoder(r io.Reader, charset string) (io.Reader, error) {
	var dec transform.Transformer
	if charset == "" {
		dec = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	} else {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "source: unsupported charset %q", charset)
		}
		dec = unicode.BOMOverride(enc.NewDecoder())
	}
	return transform.NewReader(r, dec), nil
}
