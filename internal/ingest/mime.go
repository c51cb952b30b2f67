package ingest

import (
	"bytes"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/ngs-project/noisegate/internal/database"
)

// ParsedMessage is the decoded form of one raw RFC 822 message, mirroring
// the fields RawEmail stores.
type ParsedMessage struct {
	MessageID   string
	Subject     string
	FromAddress string
	ToAddresses []string
	DateHeader  *time.Time
	Headers     database.HeaderMap
	BodyText    string
	BodyHTML    string
	ICSPayload  string
	Attachments []AttachmentMeta
}

// AttachmentMeta records an attachment's metadata without its bytes;
// attachment content is not persisted, per §3's non-goal on storing
// arbitrary binary payloads.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// ParseMIME decodes a raw RFC 822 message into its normalized parts:
// headers, plain-text and HTML bodies, an inline or attached calendar
// invite, and attachment metadata.
func ParseMIME(raw []byte) (*ParsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	pm := &ParsedMessage{
		Headers: database.HeaderMap{},
	}

	for key, values := range msg.Header {
		for _, v := range values {
			pm.Headers.Set(key, decodeHeader(v))
		}
	}

	pm.MessageID = strings.TrimSpace(msg.Header.Get("Message-ID"))
	pm.Subject = decodeHeader(msg.Header.Get("Subject"))
	pm.FromAddress = decodeHeader(msg.Header.Get("From"))

	if to := msg.Header.Get("To"); to != "" {
		if addrs, err := mail.ParseAddressList(to); err == nil {
			for _, a := range addrs {
				pm.ToAddresses = append(pm.ToAddresses, a.Address)
			}
		}
	}

	if dateStr := msg.Header.Get("Date"); dateStr != "" {
		if t, err := mail.ParseDate(dateStr); err == nil {
			pm.DateHeader = &t
		}
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
		params = map[string]string{}
	}

	if err := walkBody(msg.Body, mediaType, params, pm); err != nil {
		return nil, err
	}

	return pm, nil
}

func decodeHeader(raw string) string {
	if raw == "" {
		return ""
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
