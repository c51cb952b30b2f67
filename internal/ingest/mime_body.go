package ingest

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"strings"
)

// walkBody recurses through a (possibly multipart) message body,
// populating pm's text/html/ics/attachment fields. Mirrors the
// depth-first walk the original poller does over Python's
// email.message.Message.walk().
func walkBody(body io.Reader, mediaType string, params map[string]string, pm *ParsedMessage) error {
	if !strings.HasPrefix(mediaType, "multipart/") {
		return readLeafPart(body, mediaType, "", "", pm)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return readLeafPart(body, mediaType, "", "", pm)
	}

	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		partType, partParams, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "text/plain"
			partParams = map[string]string{}
		}
		disposition := part.Header.Get("Content-Disposition")
		encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))

		if strings.HasPrefix(partType, "multipart/") {
			if err := walkBody(part, partType, partParams, pm); err != nil {
				return err
			}
			continue
		}

		if err := readLeafPart(part, partType, disposition, encoding, pm); err != nil {
			return err
		}
	}
}

func readLeafPart(r io.Reader, contentType, disposition, encoding string, pm *ParsedMessage) error {
	data, err := io.ReadAll(decodeTransfer(r, encoding))
	if err != nil {
		return err
	}
	text := string(data)

	isAttachment := strings.Contains(strings.ToLower(disposition), "attachment")
	filename := attachmentFilename(disposition)

	switch {
	case isAttachment:
		pm.Attachments = append(pm.Attachments, AttachmentMeta{
			Filename:    filename,
			ContentType: contentType,
			Size:        len(data),
		})
		if contentType == "text/calendar" || strings.HasSuffix(strings.ToLower(filename), ".ics") {
			pm.ICSPayload = text
		}
	case contentType == "text/calendar":
		pm.ICSPayload = text
	case contentType == "text/html":
		if pm.BodyHTML == "" {
			pm.BodyHTML = text
		}
	default:
		if pm.BodyText == "" {
			pm.BodyText = text
		}
	}
	return nil
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch encoding {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

func attachmentFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
