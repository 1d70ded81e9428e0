package imap

import (
	"testing"

	"github.com/emersion/go-imap"
)

func TestHasDocumentAttachment(t *testing.T) {
	multipart := &imap.BodyStructure{
		MIMEType: "multipart",
		Parts: []*imap.BodyStructure{
			{MIMEType: "text", MIMESubType: "plain"},
			{
				MIMEType:          "application",
				MIMESubType:       "pdf",
				Disposition:       "attachment",
				DispositionParams: map[string]string{"filename": "Packing-List.PDF"},
			},
		},
	}
	if !hasDocumentAttachment(multipart) {
		t.Fatal("pdf attachment must match, case-insensitively")
	}

	plain := &imap.BodyStructure{MIMEType: "text", MIMESubType: "plain"}
	if hasDocumentAttachment(plain) {
		t.Fatal("plain text message must not match")
	}

	image := &imap.BodyStructure{
		MIMEType: "multipart",
		Parts: []*imap.BodyStructure{
			{MIMEType: "text", MIMESubType: "plain"},
			{
				MIMEType:    "image",
				MIMESubType: "jpeg",
				Params:      map[string]string{"name": "photo.jpg"},
			},
		},
	}
	if hasDocumentAttachment(image) {
		t.Fatal("image attachment must not match")
	}

	inlineNamed := &imap.BodyStructure{
		MIMEType:    "application",
		MIMESubType: "vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Params:      map[string]string{"name": "list.xlsx"},
	}
	if !hasDocumentAttachment(inlineNamed) {
		t.Fatal("xlsx named via content-type params must match")
	}

	if hasDocumentAttachment(nil) {
		t.Fatal("nil structure must not match")
	}
}
