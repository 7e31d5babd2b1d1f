package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultBase = "https://generativelanguage.googleapis.com"

	flashModel    = "gemini-2.5-flash"
	proImageModel = "gemini-3-pro-image-preview"
	imageModel    = "gemini-2.5-flash-image"
	videoModel    = "veo-3.1-fast-generate-preview"
	ttsModel      = "gemini-2.5-flash-preview-tts"
)

// 错误分类，调用方按类别提示用户，不透传原始传输异常
var (
	ErrMissingAPIKey   = errors.New("API key not found, please select a key")
	ErrEmptyResponse   = errors.New("no response from AI, the model may have refused the content")
	ErrMalformedOutput = errors.New("failed to parse AI response, the model output was malformed, please reset the form and try again")
	ErrSafetyBlocked   = errors.New("the request was blocked by safety filters, please remove any explicit gore from the input")
	ErrNoImage         = errors.New("no image generated by either model")
	ErrNoAudio         = errors.New("no audio generated")
	ErrOperationFailed = errors.New("video generation returned error status")
	ErrOperationEmpty  = errors.New("video generation completed but returned no URI")
)

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Mock       bool

	// 视频任务轮询间隔与最大次数
	PollInterval    time.Duration
	MaxPollAttempts uint64
}

func NewClientDefault() *Client {
	apiKey := os.Getenv("GEMINI_API_KEY")
	return &Client{
		BaseURL:         defaultBase,
		APIKey:          apiKey,
		HTTPClient:      &http.Client{Timeout: 60 * time.Second},
		Mock:            strings.ToLower(os.Getenv("GEMINI_MOCK")) == "1" || strings.ToLower(os.Getenv("GEMINI_MOCK")) == "true",
		PollInterval:    5 * time.Second,
		MaxPollAttempts: 60,
	}
}

func NewClientWithTimeout(timeout time.Duration) *Client {
	c := NewClientDefault()
	c.HTTPClient = &http.Client{Timeout: timeout}
	return c
}

// HasKey 是否已配置凭证
func (c *Client) HasKey() bool {
	return c.APIKey != ""
}

// ---- 请求/响应结构，对应generateContent接口 ----

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  map[string]any   `json:"generationConfig,omitempty"`
	Tools             []map[string]any `json:"tools,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata *struct {
			GroundingChunks []struct {
				Web struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// text 返回首个候选的拼接文本
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// blocked 是否被安全过滤拦截
func (r *generateResponse) blocked() bool {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return true
	}
	for _, cand := range r.Candidates {
		if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
			return true
		}
	}
	return false
}

func (c *Client) generateContent(ctx context.Context, model string, req generateRequest) (*generateResponse, error) {
	var resp generateResponse
	if err := c.postJSON(ctx, "/v1beta/models/"+model+":generateContent", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, strings.NewReader(string(b)))
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	return json.Unmarshal(bodyBytes, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-goog-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	return json.Unmarshal(bodyBytes, out)
}

// fetchBytes 拉取生成结果的媒体字节，返回data URI
func (c *Client) fetchBytes(ctx context.Context, uri string, mimeType string) (string, error) {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+sep+"key="+c.APIKey, nil)
	if err != nil {
		return "", err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("http %d", res.StatusCode)
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// truncate 按rune截断输入前缀，服务端有长度限制
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
