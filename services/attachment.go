package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hunt-concierge/utils"
)

// RemoteAttachment references an encrypted blob held by the messaging network.
type RemoteAttachment struct {
	URL           string `json:"url"`
	ContentDigest string `json:"content_digest"` // hex sha256 of the ciphertext
	Secret        []byte `json:"secret"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
}

// Attachment is an image either delivered inline or by reference.
type Attachment struct {
	MimeType string            `json:"mime_type"`
	Filename string            `json:"filename,omitempty"`
	Data     []byte            `json:"data,omitempty"`
	Remote   *RemoteAttachment `json:"remote,omitempty"`
}

// Image is a materialized attachment.
type Image struct {
	MimeType string
	Data     []byte
}

// DataURI renders the image as a base64 data URI.
func (i *Image) DataURI() string {
	return "data:" + i.MimeType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Materializer turns attachments into image bytes.
type Materializer struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

func NewMaterializer(timeout time.Duration, maxBytes int64) *Materializer {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Materializer{client: utils.NewHTTPClient(timeout), timeout: timeout, maxBytes: maxBytes}
}

// Materialize returns the image bytes. Every failure wraps
// ErrAttachmentUnavailable, and deadline overruns also wrap ErrTimeout.
func (m *Materializer) Materialize(ctx context.Context, a *Attachment) (*Image, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nothing staged", ErrAttachmentUnavailable)
	}
	mime := a.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: unsupported type %s", ErrAttachmentUnavailable, mime)
	}
	if len(a.Data) > 0 {
		return &Image{MimeType: mime, Data: a.Data}, nil
	}
	if a.Remote == nil || a.Remote.URL == "" {
		return nil, fmt.Errorf("%w: empty attachment", ErrAttachmentUnavailable)
	}

	ciphertext, err := m.fetch(ctx, a.Remote.URL)
	if err != nil {
		return nil, err
	}
	if a.Remote.ContentDigest != "" && !strings.EqualFold(utils.SHA256Hex(ciphertext), a.Remote.ContentDigest) {
		return nil, fmt.Errorf("%w: digest mismatch", ErrAttachmentUnavailable)
	}
	key, err := utils.DeriveAttachmentKey(a.Remote.Secret, a.Remote.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}
	data, err := utils.DecryptAttachment(ciphertext, key, a.Remote.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}
	return &Image{MimeType: mime, Data: data}, nil
}

func (m *Materializer) fetch(ctx context.Context, url string) ([]byte, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w: %v", ErrAttachmentUnavailable, ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAttachmentUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrAttachmentUnavailable, m.maxBytes)
	}
	return data, nil
}
