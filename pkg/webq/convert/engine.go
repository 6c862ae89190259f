package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/tendant/webq/pkg/webq"
)

// maxResponseSize bounds the rendered body read from the engine.
const maxResponseSize = 64 << 20

// EngineRequest is one conversion call.
type EngineRequest struct {
	Conversion webq.Conversion
	Source     webq.ConversionSource
}

// EngineResult is the raw answer of the engine.
type EngineResult struct {
	Data               []byte
	ContentType        string
	ContentDisposition string
}

// Engine renders documents. Implementations must honor ctx cancellation.
type Engine interface {
	Render(ctx context.Context, req EngineRequest) (*EngineResult, error)
}

// HTTPEngine talks to a conversion service over HTTP.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngine creates an engine posting to <baseURL>/convert. A nil client
// means http.DefaultClient.
func NewHTTPEngine(baseURL string, client *http.Client) *HTTPEngine {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEngine{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Render posts the source as multipart form data and returns the rendered body.
func (e *HTTPEngine) Render(ctx context.Context, req EngineRequest) (*EngineResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", req.Source.FileName)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Source.Content); err != nil {
		return nil, err
	}
	if err := mw.WriteField("schema", req.Source.XMLSchemaURL); err != nil {
		return nil, err
	}
	if err := mw.WriteField("conversion", strconv.Itoa(req.Conversion.ID)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/convert", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("engine returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if len(data) > maxResponseSize {
		return nil, errors.New("engine response too large")
	}
	return &EngineResult{
		Data:               data,
		ContentType:        resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
	}, nil
}
