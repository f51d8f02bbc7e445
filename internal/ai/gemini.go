package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"teletab/internal/models"
)

// ClientError categorizes failures from the generation API so callers can
// decide what is retryable.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeQuota
	ErrTypeInvalidResponse
)

var (
	ErrQuotaExceeded = &ClientError{Type: ErrTypeQuota, Message: "quota exceeded"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
)

// ClientConfig holds configuration for the Gemini REST client.
type ClientConfig struct {
	// BaseURL of the generative language API.
	BaseURL string

	// APIKey authenticates every request.
	APIKey string

	// Timeout for generation requests.
	Timeout time.Duration

	// Per-variant model names.
	AssistantModel string
	FlashModel     string
	ImageModel     string
	SpeechModel    string
}

func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "https://generativelanguage.googleapis.com",
		Timeout:        30 * time.Second,
		AssistantModel: "gemini-3-pro-preview",
		FlashModel:     "gemini-3-flash-preview",
		ImageModel:     "gemini-2.5-flash-image",
		SpeechModel:    "gemini-2.5-flash-preview-tts",
	}
}

// Client talks to the Gemini generateContent API and satisfies Responder.
type Client struct {
	cfg  *ClientConfig
	http *http.Client
}

func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

const (
	assistantInstruction = "You are a friendly, modern and helpful chat assistant."
	voiceInstruction     = "You are a fast voice companion. Keep replies short."
)

// request/response shapes for the generateContent endpoint.
type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *genInlineData `json:"inlineData,omitempty"`
}

type genInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genRequest struct {
	Contents          []genContent `json:"contents"`
	SystemInstruction *genContent  `json:"systemInstruction,omitempty"`
	Tools             []genTool    `json:"tools,omitempty"`
	GenerationConfig  *genGenCfg   `json:"generationConfig,omitempty"`
}

type genTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type genGenCfg struct {
	ResponseModalities []string       `json:"responseModalities,omitempty"`
	SpeechConfig       *genSpeechConf `json:"speechConfig,omitempty"`
}

type genSpeechConf struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []genPart `json:"parts"`
		} `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web struct {
					URI string `json:"uri"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
}

// Generate routes the prompt to the model matching the bot variant.
func (c *Client) Generate(ctx context.Context, kind models.ThreadKind, prompt string, history []models.Message) (*Reply, error) {
	if prompt == "" {
		prompt = "Voice message"
	}

	switch kind {
	case models.KindArtist:
		return c.generateImage(ctx, prompt)
	case models.KindSearch:
		return c.generateSearch(ctx, prompt)
	case models.KindVoice:
		return c.generateText(ctx, c.cfg.FlashModel, voiceInstruction, prompt, history)
	default:
		return c.generateText(ctx, c.cfg.AssistantModel, assistantInstruction, prompt, history)
	}
}

func (c *Client) generateText(ctx context.Context, model, instruction, prompt string, history []models.Message) (*Reply, error) {
	req := genRequest{
		Contents:          historyContents(history, prompt),
		SystemInstruction: &genContent{Parts: []genPart{{Text: instruction}}},
	}
	resp, err := c.post(ctx, model, &req)
	if err != nil {
		return nil, err
	}
	return &Reply{Text: firstText(resp)}, nil
}

func (c *Client) generateSearch(ctx context.Context, prompt string) (*Reply, error) {
	req := genRequest{
		Contents: []genContent{{Role: "user", Parts: []genPart{{Text: prompt}}}},
		Tools:    []genTool{{GoogleSearch: &struct{}{}}},
	}
	resp, err := c.post(ctx, c.cfg.FlashModel, &req)
	if err != nil {
		return nil, err
	}
	reply := &Reply{Text: firstText(resp)}
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			if chunk.Web.URI != "" {
				reply.Grounding = append(reply.Grounding, chunk.Web.URI)
			}
		}
	}
	return reply, nil
}

func (c *Client) generateImage(ctx context.Context, prompt string) (*Reply, error) {
	req := genRequest{
		Contents: []genContent{{Parts: []genPart{{Text: prompt}}}},
	}
	resp, err := c.post(ctx, c.cfg.ImageModel, &req)
	if err != nil {
		return nil, err
	}

	reply := &Reply{}
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.InlineData != nil {
				reply.ImageURL = "data:image/png;base64," + part.InlineData.Data
			} else if part.Text != "" {
				reply.Text = part.Text
			}
		}
	}
	if reply.Text == "" {
		reply.Text = "Done! Here is your image."
	}
	return reply, nil
}

// SynthesizeSpeech renders text to raw PCM via the speech model.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	speech := &genSpeechConf{}
	speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = "Kore"
	req := genRequest{
		Contents: []genContent{{Parts: []genPart{{Text: text}}}},
		GenerationConfig: &genGenCfg{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig:       speech,
		},
	}
	resp, err := c.post(ctx, c.cfg.SpeechModel, &req)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "no audio in response"}
	}
	inline := resp.Candidates[0].Content.Parts[0].InlineData
	if inline == nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "no audio in response"}
	}
	return base64.StdEncoding.DecodeString(inline.Data)
}

func (c *Client) post(ctx context.Context, model string, reqBody *genRequest) (*genResponse, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.cfg.BaseURL, model, c.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &ClientError{Type: ErrTypeConnection, Message: "generation request failed", Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "read response", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrQuotaExceeded
	case resp.StatusCode != http.StatusOK:
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: fmt.Sprintf("generation API returned %d", resp.StatusCode),
		}
	}

	var parsed genResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "parse response", Cause: err}
	}
	return &parsed, nil
}

func historyContents(history []models.Message, prompt string) []genContent {
	var contents []genContent
	for _, m := range history {
		if m.Text == "" {
			continue
		}
		role := "user"
		if m.Role == models.RoleModel {
			role = "model"
		}
		contents = append(contents, genContent{Role: role, Parts: []genPart{{Text: m.Text}}})
	}
	return append(contents, genContent{Role: "user", Parts: []genPart{{Text: prompt}}})
}

func firstText(resp *genResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}
