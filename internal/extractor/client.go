// Package extractor talks to the face embedding server over HTTP.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"faceattend/internal/attend"
)

const (
	defaultURL     = "http://localhost:8000"
	defaultTimeout = 30 * time.Second
	faceEndpoint   = "/embed/face"
)

// Client implements attend.Extractor against an embedding server that
// detects faces and returns one embedding per face.
type Client struct {
	baseURL string
	client  *http.Client
}

var _ attend.Extractor = (*Client)(nil)

// NewClient creates a client. Empty or zero arguments select defaults.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// faceDetection is one face in the server response.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract posts the frame to the server. Faces are returned in the server's
// face_index order; a response with no faces yields an empty slice.
func (c *Client) Extract(ctx context.Context, frame *attend.Frame) ([]attend.Face, error) {
	data := frame.Data
	if len(data) == 0 {
		if frame.Image == nil {
			return nil, fmt.Errorf("frame has neither data nor image")
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, frame.Image); err != nil {
			return nil, fmt.Errorf("encoding frame: %w", err)
		}
		data = buf.Bytes()
	}

	body, err := c.postImage(ctx, data)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	sort.SliceStable(resp.Faces, func(i, j int) bool {
		return resp.Faces[i].FaceIndex < resp.Faces[j].FaceIndex
	})

	faces := make([]attend.Face, 0, len(resp.Faces))
	for _, det := range resp.Faces {
		if len(det.Embedding) == 0 {
			continue
		}
		emb := make(attend.Embedding, len(det.Embedding))
		for i, v := range det.Embedding {
			emb[i] = float64(v)
		}
		faces = append(faces, attend.Face{
			Box:       boxFromBBox(det.BBox),
			Score:     det.DetScore,
			Embedding: emb,
		})
	}
	return faces, nil
}

func (c *Client) postImage(ctx context.Context, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+faceEndpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func boxFromBBox(bbox []float64) image.Rectangle {
	if len(bbox) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3]))
}
