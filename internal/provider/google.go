package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// GoogleOptions configures the Google generativelanguage client.
type GoogleOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Google calls the generativelanguage generateContent endpoint with inline
// image parts.
type Google struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGoogle constructs the Google client with sane defaults.
func NewGoogle(opts GoogleOptions) *Google {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	client := opts.HTTPClient
	if client == nil {
		client = newHTTPClient(opts.Timeout)
	}
	return &Google{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
	}
}

func (g *Google) Name() string { return "google" }

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts,omitempty"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inline_data,omitempty"`

	// Responses use the camelCase spelling.
	InlineDataCamel *googleInlineData `json:"inlineData,omitempty"`
}

type googleInlineData struct {
	MimeType      string `json:"mime_type,omitempty"`
	MimeTypeCamel string `json:"mimeType,omitempty"`
	Data          string `json:"data,omitempty"`
}

type googleSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type googleGenerateRequest struct {
	Contents       []googleContent       `json:"contents"`
	SafetySettings []googleSafetySetting `json:"safetySettings"`
}

type googleGenerateResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	GeneratedImages []struct {
		Image struct {
			BytesBase64Encoded string `json:"bytesBase64Encoded"`
			MimeType           string `json:"mimeType"`
		} `json:"image"`
	} `json:"generatedImages"`
}

type googleErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Worn-garment renders trip the default thresholds constantly, so they are
// relaxed to the most permissive levels the API accepts.
var googleSafetySettings = []googleSafetySetting{
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
}

var inlineDataPattern = regexp.MustCompile(`^data:(image/[a-zA-Z+.-]+);base64,([A-Za-z0-9+/=]+)$`)

func toInlineData(dataURL string) *googleInlineData {
	m := inlineDataPattern.FindStringSubmatch(dataURL)
	if m == nil {
		return nil
	}
	return &googleInlineData{MimeType: m[1], Data: m[2]}
}

// Generate sends one generateContent call and extracts the first image from
// the response.
func (g *Google) Generate(ctx context.Context, req Request) (*Result, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: google api key is empty", ErrMisconfigured)
	}

	parts := make([]googlePart, 0, len(req.SecondaryImages)+2)
	for _, img := range req.SecondaryImages {
		if inline := toInlineData(img); inline != nil {
			parts = append(parts, googlePart{InlineData: inline})
		}
	}
	if inline := toInlineData(req.MainImage); inline != nil {
		parts = append(parts, googlePart{InlineData: inline})
	}
	parts = append(parts, googlePart{Text: req.Instruction})

	payload := googleGenerateRequest{
		Contents:       []googleContent{{Role: "user", Parts: parts}},
		SafetySettings: googleSafetySettings,
	}

	var response googleGenerateResponse
	if err := g.invoke(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.model)), payload, &response); err != nil {
		return nil, err
	}

	if urls := extractGoogleImages(&response); len(urls) > 0 {
		return &Result{Image: urls[0]}, nil
	}
	if hint := refusalHint(googleResponseText(&response)); hint != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoImage, hint)
	}
	return nil, ErrNoImage
}

func (g *Google) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := httpReq.URL.Query()
	q.Set("key", g.apiKey)
	httpReq.URL.RawQuery = q.Encode()
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyHTTPError("google", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode google response: %v", ErrTransport, err)
	}
	return nil
}

// extractGoogleImages returns image data URLs found in the response, checking
// the candidate inline parts first and the legacy generatedImages shape
// second.
func extractGoogleImages(resp *googleGenerateResponse) []string {
	var urls []string
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			inline := part.InlineData
			if inline == nil {
				inline = part.InlineDataCamel
			}
			if inline == nil || inline.Data == "" {
				continue
			}
			mime := inline.MimeType
			if mime == "" {
				mime = inline.MimeTypeCamel
			}
			if mime == "" {
				continue
			}
			urls = append(urls, "data:"+mime+";base64,"+inline.Data)
		}
	}
	for _, gen := range resp.GeneratedImages {
		if gen.Image.BytesBase64Encoded == "" {
			continue
		}
		mime := gen.Image.MimeType
		if mime == "" {
			mime = "image/png"
		}
		urls = append(urls, "data:"+mime+";base64,"+gen.Image.BytesBase64Encoded)
	}
	return dedupe(urls)
}

func googleResponseText(resp *googleGenerateResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// classifyHTTPError maps a non-2xx provider response onto the error taxonomy.
// Auth failures count as misconfiguration, rate limits and server errors as
// transport, and everything else as a rejection.
func classifyHTTPError(name string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(data))
	var apiErr googleErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		detail = apiErr.Error.Message
	}
	detail = refusalHint(detail)

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = ErrMisconfigured
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		kind = ErrTransport
	default:
		kind = ErrRejected
	}
	if detail == "" {
		return fmt.Errorf("%w: %s status %d", kind, name, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s status %d: %s", kind, name, resp.StatusCode, detail)
}

var _ Generator = (*Google)(nil)
