package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"

	"fraudwatch/pkg/retry"
)

// Extractor turns image bytes into text. Implementations must honour ctx.
type Extractor interface {
	Extract(ctx context.Context, image []byte, langs []string) (string, error)
}

// TesseractExtractor pipes the image through the tesseract CLI.
type TesseractExtractor struct {
	path string
}

func NewTesseractExtractor(path string) *TesseractExtractor {
	if path == "" {
		path = "tesseract"
	}
	return &TesseractExtractor{path: path}
}

func (t *TesseractExtractor) Extract(ctx context.Context, image []byte, langs []string) (string, error) {
	args := []string{"stdin", "stdout", "--oem", "3", "--psm", "6"}
	if len(langs) > 0 {
		args = append(args, "-l", strings.Join(langs, "+"))
	}

	cmd := exec.CommandContext(ctx, t.path, args...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", retry.NewFatalError(fmt.Errorf("tesseract exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return "", retry.NewRetryableError(fmt.Errorf("run tesseract: %w", err))
	}
	return stdout.String(), nil
}

// HTTPExtractor posts the image to an OCR sidecar which answers {"text": "..."}.
type HTTPExtractor struct {
	endpoint string
	client   *http.Client
}

func NewHTTPExtractor(endpoint string, client *http.Client) *HTTPExtractor {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPExtractor{endpoint: endpoint, client: client}
}

type httpResponse struct {
	Text string `json:"text"`
}

func (h *HTTPExtractor) Extract(ctx context.Context, image []byte, langs []string) (string, error) {
	u, err := url.Parse(h.endpoint)
	if err != nil {
		return "", retry.NewFatalError(fmt.Errorf("invalid OCR endpoint: %w", err))
	}
	if len(langs) > 0 {
		q := u.Query()
		q.Set("lang", strings.Join(langs, "+"))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(image))
	if err != nil {
		return "", retry.NewFatalError(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", retry.NewRetryableError(fmt.Errorf("OCR request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return "", retry.NewRetryableError(fmt.Errorf("OCR service returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", retry.NewFatalError(fmt.Errorf("OCR service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", retry.NewFatalError(fmt.Errorf("decode OCR response: %w", err))
	}
	return out.Text, nil
}

// NoopExtractor is used when OCR is disabled; images are kept without text.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, []byte, []string) (string, error) {
	return "", nil
}
