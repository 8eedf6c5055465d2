package models

import (
	"encoding/base64"
	"time"
)

// Attachment is a compressed photo captured during a step.
type Attachment struct {
	Name     string    `json:"name"`
	MimeType string    `json:"type"`
	Data     []byte    `json:"data"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
}

// DataURI renders the attachment as a data: URI.
func (a Attachment) DataURI() string {
	return "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}
