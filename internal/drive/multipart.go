package drive

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MultipartBoundary separates the metadata and media parts of an upload.
const MultipartBoundary = "-------KeyViewerBoundary"

// MultipartContentType is the request Content-Type for multipart uploads.
const MultipartContentType = "multipart/related; boundary=" + MultipartBoundary

// BuildMultipart frames meta and content as a multipart/related body. The
// layout is fixed byte for byte, so mime/multipart is not used: its writer
// emits its own header set and a trailing CRLF after the close delimiter.
func BuildMultipart(meta Metadata, content []byte) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("drive: marshaling metadata: %w", err)
	}

	delim := "--" + MultipartBoundary

	var b bytes.Buffer
	b.WriteString(delim + "\r\n")
	b.WriteString("Content-Type: application/json; charset=UTF-8\r\n\r\n")
	b.Write(metaJSON)
	b.WriteString("\r\n" + delim + "\r\n")
	b.WriteString("Content-Type: " + JSONMimeType + "\r\n\r\n")
	b.Write(content)
	b.WriteString("\r\n" + delim + "--")

	return b.Bytes(), nil
}
