package source

import (
	"fmt"

	"howett.net/plist"
)

// webArchive is the subset of a Safari .webarchive plist we read
type webArchive struct {
	MainResource struct {
		Data     []byte `plist:"WebResourceData"`
		MIMEType string `plist:"WebResourceMIMEType"`
	} `plist:"WebMainResource"`
}

// webArchiveHTML returns the main page's HTML from a binary plist archive
func webArchiveHTML(data []byte) ([]byte, error) {
	var archive webArchive
	if _, err := plist.Unmarshal(data, &archive); err != nil {
		return nil, fmt.Errorf("%w: webarchive plist: %v", ErrUndecodable, err)
	}
	if len(archive.MainResource.Data) == 0 {
		return nil, fmt.Errorf("%w: webarchive has no WebResourceData", ErrUndecodable)
	}
	return archive.MainResource.Data, nil
}
