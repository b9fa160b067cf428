// Package media talks to the object-storage collaborator that holds chat
// image attachments and delivery proof photos.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
)

// Uploader stores an image and returns a stable reference URL. Upload
// failures surface to the caller and never affect an in-flight chat post or
// settlement.
type Uploader interface {
	Upload(ctx context.Context, contentType string, body io.Reader) (string, error)
}

// HTTPUploader PUTs objects to an object-storage HTTP endpoint.
type HTTPUploader struct {
	Endpoint      string // write endpoint
	PublicBaseURL string // prefix of returned reference URLs
	Client        *http.Client
}

func NewHTTPUploader(endpoint, publicBaseURL string) *HTTPUploader {
	return &HTTPUploader{
		Endpoint:      endpoint,
		PublicBaseURL: publicBaseURL,
		Client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, contentType string, body io.Reader) (string, error) {
	name := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.Endpoint+"/"+name, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := u.Client.Do(req)
	if err != nil {
		return "", apperrors.External("object-storage", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", apperrors.External("object-storage", fmt.Errorf("status %d", resp.StatusCode))
	}
	ref, err := url.JoinPath(u.PublicBaseURL, name)
	if err != nil {
		return "", err
	}
	return ref, nil
}
