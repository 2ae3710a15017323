package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

const maskPromptInstruction = "Look at this plant image and respond with a short phrase of 10 to 20 characters describing the single most likely diseased region. Do not give a diagnosis, only describe what you see."

const diagnosisInstructionTemplate = `You are an agronomy assistant. Produce a Markdown report on the plant in the supplied image using exactly this section structure:

## Summary
## Disease identification
## Severity
## Detailed analysis
### Features
### Causes
### Trajectory
## Recommended actions
### Immediate
### Follow-up
## Preventive measures

Mask region hint: %s
Mask description: %s`

// Adapter is the registered Provider implementation dispatching on
// Config.Provider to one of three request dialects (§4.5): OpenAI-style
// chat completions, Anthropic-style messages, or Google-style generative
// content. It is stateless per call; Init stores the validated
// configuration snapshot the caller supplied.
type Adapter struct {
	cfg  Config
	http *retryablehttp.Client
}

var _ plugin.Provider = (*Adapter)(nil)

func init() {
	plugin.RegisterProvider("vlm", func() plugin.Provider { return NewAdapter() })
}

// NewAdapter returns an unconfigured Adapter; Init must be called with a
// validated configuration before GenerateMaskPrompt/Diagnose are used.
func NewAdapter() *Adapter {
	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = 2
	hc.HTTPClient.Timeout = 120 * time.Second
	return &Adapter{http: hc}
}

func (a *Adapter) Name() string { return "vlm" }

// Init accepts the caller's configuration snapshot, keyed the same way as
// Config's fields. Validate is applied so a malformed snapshot surfaces as
// a clean error rather than a failed call later.
func (a *Adapter) Init(cfg map[string]any) error {
	c := Config{}
	if v, ok := cfg["provider"].(string); ok {
		c.Provider = v
	}
	if v, ok := cfg["model"].(string); ok {
		c.Model = v
	}
	if v, ok := cfg["api_key"].(string); ok {
		c.APIKey = v
	}
	if v, ok := cfg["api_base"].(string); ok {
		c.APIBase = v
	}
	if v, ok := cfg["temperature"].(float64); ok {
		c.Temperature = v
	}
	if v, ok := cfg["max_tokens"].(int); ok {
		c.MaxTokens = v
	}
	if err := c.Validate(); err != nil {
		return err
	}
	a.cfg = c
	return nil
}

// SetConfig installs an already-validated configuration directly, used by
// the diagnosis workflow's set_ai_config path which validates once and
// reuses the snapshot across calls instead of re-parsing a map each time.
func (a *Adapter) SetConfig(c Config) { a.cfg = c }

func (a *Adapter) Config() Config { return a.cfg }

// GenerateMaskPrompt asks the configured provider for a short visual
// description of the most likely diseased region.
func (a *Adapter) GenerateMaskPrompt(ctx context.Context, image []byte) (string, error) {
	text, err := a.call(ctx, maskPromptInstruction, image, 60*time.Second)
	if err != nil {
		return "", err
	}
	return text, nil
}

// Diagnose produces the long-form Markdown report. MaskPrompt and
// MaskDescription, when present, are folded into the prompt text as
// additional context; only req.Image is sent as an image, and MaskImage is
// not sent to the provider. The caller (C6) already decided whether
// segmentation succeeded.
func (a *Adapter) Diagnose(ctx context.Context, req plugin.DiagnoseRequest) (string, error) {
	maskDesc := req.MaskDescription
	if maskDesc == "" {
		maskDesc = "none"
	}
	maskPrompt := req.MaskPrompt
	if maskPrompt == "" {
		maskPrompt = "none"
	}
	instruction := fmt.Sprintf(diagnosisInstructionTemplate, maskPrompt, maskDesc)
	return a.call(ctx, instruction, req.Image, 120*time.Second)
}

// call dispatches to the dialect-specific request builder for a.cfg.Provider
// and extracts the model's text reply.
func (a *Adapter) call(ctx context.Context, instruction string, image []byte, timeout time.Duration) (string, error) {
	if !a.cfg.SupportsVision {
		return "", fmt.Errorf("vlm: provider %q model %q is not vision-capable", a.cfg.Provider, a.cfg.Model)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch a.cfg.Provider {
	case "anthropic":
		return a.callAnthropic(ctx, instruction, image)
	case "google":
		return a.callGoogle(ctx, instruction, image)
	default: // openai, ollama, qwen, dashscope all speak the chat-completions dialect
		return a.callOpenAICompatible(ctx, instruction, image)
	}
}

func (a *Adapter) doJSON(ctx context.Context, url string, headers map[string]string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody := new(bytes.Buffer)
	if _, err := respBody.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp.StatusCode, respBody.String())
	}
	return respBody.Bytes(), nil
}

// --- OpenAI-compatible chat completions -------------------------------

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *Adapter) callOpenAICompatible(ctx context.Context, instruction string, image []byte) (string, error) {
	content := []openAIContentPart{{Type: "text", Text: instruction}}
	if len(image) > 0 {
		content = append(content, openAIContentPart{
			Type:     "image_url",
			ImageURL: &openAIImageURL{URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)},
		})
	}

	reqBody := openAIChatRequest{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Messages:    []openAIMessage{{Role: "user", Content: content}},
	}

	headers := map[string]string{}
	if a.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.cfg.APIKey
	}

	raw, err := a.doJSON(ctx, a.cfg.APIBase+"/chat/completions", headers, reqBody)
	if err != nil {
		return "", err
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("vlm: empty response from %s", a.cfg.Provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

// --- Anthropic-style messages ------------------------------------------

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string            `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (a *Adapter) callAnthropic(ctx context.Context, instruction string, image []byte) (string, error) {
	content := []anthropicContent{{Type: "text", Text: instruction}}
	if len(image) > 0 {
		content = append([]anthropicContent{{
			Type:   "image",
			Source: &anthropicSource{Type: "base64", MediaType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)},
		}}, content...)
	}

	reqBody := anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: content}},
	}

	headers := map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}

	raw, err := a.doJSON(ctx, a.cfg.APIBase+"/v1/messages", headers, reqBody)
	if err != nil {
		return "", err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("vlm: empty response from anthropic")
	}
	return parsed.Content[0].Text, nil
}

// --- Google-style generative content -------------------------------

type googleRequest struct {
	Contents []googleContent `json:"contents"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inline_data,omitempty"`
}

type googleInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type googleResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (a *Adapter) callGoogle(ctx context.Context, instruction string, image []byte) (string, error) {
	parts := []googlePart{{Text: instruction}}
	if len(image) > 0 {
		parts = append(parts, googlePart{InlineData: &googleInlineData{MimeType: "image/jpeg", Data: base64.StdEncoding.EncodeToString(image)}})
	}

	reqBody := googleRequest{Contents: []googleContent{{Parts: parts}}}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.cfg.APIBase, a.cfg.Model, a.cfg.APIKey)

	raw, err := a.doJSON(ctx, url, nil, reqBody)
	if err != nil {
		return "", err
	}

	var parsed googleResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode google response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("vlm: empty response from google")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
