package source

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// mhtmlHTML returns the first text/html part of an MHTML document
func mhtmlHTML(data []byte) ([]byte, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mhtml headers: %v", ErrUndecodable, err)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: mhtml content type: %v", ErrUndecodable, err)
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		if mediaType != "text/html" {
			return nil, fmt.Errorf("%w: mhtml has no text/html part", ErrUndecodable)
		}
		return decodePart(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: mhtml part: %v", ErrUndecodable, err)
		}

		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if partType != "text/html" {
			continue
		}
		// multipart.Part already decodes quoted-printable bodies and drops
		// the header, so only base64 is left to handle here.
		return decodePart(part, part.Header.Get("Content-Transfer-Encoding"))
	}
	return nil, fmt.Errorf("%w: mhtml has no text/html part", ErrUndecodable)
}

func decodePart(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mhtml body: %v", ErrUndecodable, err)
	}
	return body, nil
}
