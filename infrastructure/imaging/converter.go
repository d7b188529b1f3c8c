package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	_ "github.com/gen2brain/webp"
)

const jpegQuality = 90

// jpegName swaps the extension of name for .jpg.
func jpegName(name string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ".jpg"
}

func readAll(f *model.PendingFile) ([]byte, error) {
	if f.Source == nil {
		return nil, fmt.Errorf("file %q has no content", f.Name)
	}
	rc, err := f.Source.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type remoteConverter struct {
	endpoint string
	http     *http.Client
}

// NewRemoteConverter posts HEIC files to the conversion service and gets JPEG back.
func NewRemoteConverter(serviceURL string, httpClient *http.Client) repository.IMediaConverter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	q := url.Values{}
	q.Set("quality", fmt.Sprint(jpegQuality))
	q.Set("output_format", "JPEG")
	return &remoteConverter{
		endpoint: strings.TrimRight(serviceURL, "/") + "/image/convert-heic?" + q.Encode(),
		http:     httpClient,
	}
}

func (c *remoteConverter) Name() string { return "remote" }

func (c *remoteConverter) Convert(ctx context.Context, f *model.PendingFile) (*model.ConvertedFile, error) {
	data, err := readAll(f)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", f.Name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversion service: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("conversion service: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("conversion service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("conversion service returned an empty file")
	}
	logger.GetLogger().WithField("file", f.Name).WithField("bytes", len(out)).Debug("conversion service answered")
	return &model.ConvertedFile{Name: jpegName(f.Name), Type: "image/jpeg", Data: out}, nil
}

type localReencoder struct{}

// NewLocalReencoder decodes any registered format (jpeg, png, gif, webp) and re-encodes it as JPEG.
// It covers files mislabelled as HEIC when the conversion service is unreachable.
func NewLocalReencoder() repository.IMediaConverter { return localReencoder{} }

func (localReencoder) Name() string { return "local" }

func (localReencoder) Convert(ctx context.Context, f *model.PendingFile) (*model.ConvertedFile, error) {
	data, err := readAll(f)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", f.Name, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode %q: %w", f.Name, err)
	}
	logger.GetLogger().WithField("file", f.Name).WithField("format", format).Debug("re-encoded locally")
	return &model.ConvertedFile{Name: jpegName(f.Name), Type: "image/jpeg", Data: buf.Bytes()}, nil
}
