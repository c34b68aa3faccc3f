package camera

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// placeholderSVG is shown whenever the stream is unreachable.
const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="400" height="300"><rect fill="#334155" width="400" height="300"/><text fill="#fff" x="50%" y="50%" text-anchor="middle" dy=".3em">Camera Offline</text></svg>`

// maxFrameSize bounds a single snapshot read.
const maxFrameSize = 8 << 20

// Feed is a passive consumer of the occupancy service's MJPEG stream.
// The service is an external collaborator: the client only displays
// what it serves and substitutes a placeholder when it is down.
type Feed struct {
	baseURL string
	http    *http.Client
}

func NewFeed(baseURL string, timeout time.Duration) *Feed {
	return &Feed{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (f *Feed) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/video_feed", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("camera feed unreachable: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("camera feed returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// Probe reports whether the stream is currently being served. Only the
// response headers are consulted; the body is discarded.
func (f *Feed) Probe(ctx context.Context) error {
	resp, err := f.open(ctx)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Snapshot pulls a single JPEG frame out of the stream. For an MJPEG
// (multipart/x-mixed-replace) response this is the first part; a plain
// image response is returned whole.
func (f *Feed) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := f.open(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("camera feed sent unparseable content type: %w", err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("camera feed multipart response without boundary")
		}
		part, err := multipart.NewReader(resp.Body, boundary).NextPart()
		if err != nil {
			return nil, fmt.Errorf("failed to read camera frame: %w", err)
		}
		frame, err := io.ReadAll(io.LimitReader(part, maxFrameSize))
		if err != nil {
			return nil, fmt.Errorf("failed to read camera frame: %w", err)
		}
		return frame, nil
	}

	frame, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read camera frame: %w", err)
	}
	return frame, nil
}

// Placeholder is the static stand-in displayed when the feed is down.
func Placeholder() []byte {
	return []byte(placeholderSVG)
}
