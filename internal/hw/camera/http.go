package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lumenfield/mirrorcal/internal/calib/grid"
)

// ROI is the detector crop in normalized coordinates, forwarded on every
// request.
type ROI struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// HTTPClient is an Adapter backed by a blob-detector HTTP service.
// The service owns the camera and the OpenCV pipeline; this client only
// forwards capture parameters and decodes the measurement.
type HTTPClient struct {
	base   string
	roi    ROI
	client *http.Client
}

// NewHTTPClient creates a client for the detector at baseURL.
func NewHTTPClient(baseURL string, roi ROI) *HTTPClient {
	return &HTTPClient{
		base:   baseURL,
		roi:    roi,
		client: &http.Client{},
	}
}

type blobResponse struct {
	Found        bool    `json:"found"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Size         float64 `json:"size"`
	Response     float64 `json:"response"`
	SourceWidth  int     `json:"source_width"`
	SourceHeight int     `json:"source_height"`
	ROIWidth     int     `json:"roi_width"`
	ROIHeight    int     `json:"roi_height"`
}

func (c *HTTPClient) Capture(ctx context.Context, p Params) (*grid.BlobMeasurement, error) {
	q := url.Values{}
	q.Set("timeout_ms", strconv.Itoa(int(p.Timeout/time.Millisecond)))
	q.Set("roi_x", formatFloat(c.roi.X))
	q.Set("roi_y", formatFloat(c.roi.Y))
	q.Set("roi_w", formatFloat(c.roi.Width))
	q.Set("roi_h", formatFloat(c.roi.Height))
	if p.Expected != nil {
		q.Set("expected_x", formatFloat(p.Expected.X))
		q.Set("expected_y", formatFloat(p.Expected.Y))
		q.Set("max_distance", formatFloat(p.MaxDistance))
	}

	reqCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		// Detector-side timeout plus slack for transport.
		reqCtx, cancel = context.WithTimeout(ctx, p.Timeout+2*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.base+"/blob?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build capture request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capture request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}

	var body blobResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	if !body.Found {
		return nil, nil
	}
	return &grid.BlobMeasurement{
		X:            body.X,
		Y:            body.Y,
		Size:         body.Size,
		Response:     body.Response,
		CapturedAt:   time.Now(),
		SourceWidth:  body.SourceWidth,
		SourceHeight: body.SourceHeight,
		ROIWidth:     body.ROIWidth,
		ROIHeight:    body.ROIHeight,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
