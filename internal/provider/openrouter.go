package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenRouterOptions configures the OpenRouter chat-completions client.
type OpenRouterOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Referer    string
	Title      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// OpenRouter drives image generation through the OpenRouter chat-completions
// API with image modality output.
type OpenRouter struct {
	apiKey     string
	baseURL    string
	model      string
	referer    string
	title      string
	httpClient *http.Client
}

// NewOpenRouter constructs the OpenRouter client with sane defaults.
func NewOpenRouter(opts OpenRouterOptions) *OpenRouter {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	model := opts.Model
	if model == "" {
		model = "fal-ai/flux-pro"
	}
	client := opts.HTTPClient
	if client == nil {
		client = newHTTPClient(opts.Timeout)
	}
	return &OpenRouter{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		referer:    opts.Referer,
		title:      opts.Title,
		httpClient: client,
	}
}

func (o *OpenRouter) Name() string { return "openrouter" }

type orMessagePart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *orImageURL `json:"image_url,omitempty"`
}

type orImageURL struct {
	URL string `json:"url"`
}

type orMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type orChatRequest struct {
	Model      string      `json:"model"`
	Messages   []orMessage `json:"messages"`
	Modalities []string    `json:"modalities"`
}

type orImageRef struct {
	ImageURL orImageURL `json:"image_url"`
	URL      string     `json:"url,omitempty"`
}

type orChoiceMessage struct {
	Content json.RawMessage `json:"content"`
	Images  []orImageRef    `json:"images"`
}

type orChatResponse struct {
	Choices []struct {
		Message orChoiceMessage `json:"message"`
		Delta   orChoiceMessage `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// systemDirective keeps chat-tuned models from answering with prose instead
// of an image.
const systemDirective = "Tu génères UNIQUEMENT une image correspondant aux instructions. Ne retourne pas de texte."

// Generate sends one chat completion with image modality and extracts the
// first image from the response.
func (o *OpenRouter) Generate(ctx context.Context, req Request) (*Result, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("%w: openrouter api key is empty", ErrMisconfigured)
	}

	parts := make([]orMessagePart, 0, len(req.SecondaryImages)+2)
	for _, img := range req.SecondaryImages {
		parts = append(parts, orMessagePart{Type: "image_url", ImageURL: &orImageURL{URL: img}})
	}
	parts = append(parts, orMessagePart{Type: "image_url", ImageURL: &orImageURL{URL: req.MainImage}})
	parts = append(parts, orMessagePart{Type: "text", Text: req.Instruction})

	payload := orChatRequest{
		Model: o.model,
		Messages: []orMessage{
			{Role: "system", Content: systemDirective},
			{Role: "user", Content: parts},
		},
		Modalities: []string{"image"},
	}

	var response orChatResponse
	if err := o.invoke(ctx, "/chat/completions", payload, &response); err != nil {
		return nil, err
	}
	if response.Error != nil && response.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", ErrRejected, refusalHint(response.Error.Message))
	}

	urls, text := extractOpenRouterImages(&response)
	if len(urls) > 0 {
		return &Result{Image: urls[0]}, nil
	}
	if hint := refusalHint(text); hint != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoImage, hint)
	}
	return nil, ErrNoImage
}

func (o *OpenRouter) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if o.referer != "" {
		httpReq.Header.Set("HTTP-Referer", o.referer)
	}
	if o.title != "" {
		httpReq.Header.Set("X-Title", o.title)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return classifyHTTPError("openrouter", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode openrouter response: %v", ErrTransport, err)
	}
	return nil
}

// extractOpenRouterImages walks the response in preference order: structured
// image fields first, then data URLs and image links embedded in text
// content. It also returns the accumulated text so callers can surface a
// refusal hint when no image was found.
func extractOpenRouterImages(resp *orChatResponse) ([]string, string) {
	var urls []string
	var text strings.Builder
	for _, choice := range resp.Choices {
		for _, img := range append(choice.Message.Images, choice.Delta.Images...) {
			if img.ImageURL.URL != "" {
				urls = append(urls, img.ImageURL.URL)
			} else if img.URL != "" {
				urls = append(urls, img.URL)
			}
		}
		for _, content := range []json.RawMessage{choice.Message.Content, choice.Delta.Content} {
			if len(content) == 0 {
				continue
			}
			var s string
			if err := json.Unmarshal(content, &s); err == nil {
				urls = append(urls, extractFromText(s)...)
				if text.Len() > 0 {
					text.WriteByte(' ')
				}
				text.WriteString(s)
				continue
			}
			var parts []orMessagePart
			if err := json.Unmarshal(content, &parts); err == nil {
				for _, part := range parts {
					if part.ImageURL != nil && part.ImageURL.URL != "" {
						urls = append(urls, part.ImageURL.URL)
					}
					if part.Text != "" {
						urls = append(urls, extractFromText(part.Text)...)
						if text.Len() > 0 {
							text.WriteByte(' ')
						}
						text.WriteString(part.Text)
					}
				}
			}
		}
	}
	return dedupe(urls), text.String()
}

var _ Generator = (*OpenRouter)(nil)
