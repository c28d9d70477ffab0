// Package netx has small HTTP helpers shared by the REST client.
package netx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/textproto"
	"strings"
)

// Field is a plain-text form field.
type Field struct {
	Name  string
	Value string
}

// FilePart is the binary part of a multipart form.
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// MultipartBody encodes fields in order, followed by file. It returns the
// body and the Content-Type header value carrying the boundary.
func MultipartBody(fields []Field, file FilePart) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(file.FieldName), quoteEscaper.Replace(file.FileName)))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}

	return body, w.FormDataContentType(), nil
}

// ReadSnippet returns at most limit bytes of r as a string, for logging
// error bodies without buffering them whole.
func ReadSnippet(r io.Reader, limit int64) string {
	b, _ := io.ReadAll(io.LimitReader(r, limit))
	return string(b)
}

// IsNetError reports whether err came from the network layer (dial,
// connection reset, timeout) rather than from an HTTP response.
func IsNetError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}
