package gemini

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// "Schematic"、"Educational"等词能显著降低医学内容被拒绝的概率
const imageStylePrefix = "Medical illustration, educational diagram style, clean lines, schematic anatomy, neutral colors: "

var dataURIPattern = regexp.MustCompile(`^data:(.+);base64,(.+)$`)

// GenerateStepImage 生成单个步骤的插图，返回data URI。usePro为true时先走
// 高保真模型，失败（含文字拒绝）则静默降级到基础模型。
func (c *Client) GenerateStepImage(ctx context.Context, visualPrompt string, usePro bool) (string, error) {
	if c.Mock {
		// 1x1 PNG pixel base64
		pixel := "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="
		return "data:image/png;base64," + pixel, nil
	}
	if !c.HasKey() {
		return "", ErrMissingAPIKey
	}

	safePrompt := imageStylePrefix + visualPrompt

	if usePro {
		url, err := c.generateImageOnce(ctx, proImageModel, safePrompt, map[string]any{
			"imageConfig": map[string]any{
				"aspectRatio": "16:9",
				"imageSize":   "1K",
			},
		})
		if err == nil {
			return url, nil
		}
		logrus.WithError(err).Warn("pro image model failed, trying fallback")
	}

	url, err := c.generateImageOnce(ctx, imageModel, safePrompt, nil)
	if err != nil {
		if errors.Is(err, ErrNoImage) {
			return "", ErrNoImage
		}
		return "", fmt.Errorf("image generation failed, the prompt might be unsafe: %w", err)
	}
	return url, nil
}

func (c *Client) generateImageOnce(ctx context.Context, model, prompt string, config map[string]any) (string, error) {
	resp, err := c.generateContent(ctx, model, generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: config,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return "data:image/png;base64," + p.InlineData.Data, nil
			}
		}
		// 返回了文字而不是图片数据，视为模型拒绝
		if txt := resp.text(); txt != "" && !strings.Contains(txt, "data:image") {
			return "", fmt.Errorf("AI refusal: %s", txt)
		}
	}
	return "", ErrNoImage
}

// ---- 视频生成：提交长时任务后轮询，完成后按URI取回媒体字节 ----

type videoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

// GenerateStepVideo 生成单个步骤的动画视频。提供参考图时先尝试图生视频，
// 失败则降级为纯文生视频；两次尝试的失败原因会拼接进最终错误。
func (c *Client) GenerateStepVideo(ctx context.Context, visualPrompt, referenceImageURL string, usePro bool) (string, error) {
	if c.Mock {
		return "data:video/mp4;base64,bW9jaw==", nil
	}
	if !c.HasKey() {
		return "", ErrMissingAPIKey
	}

	var basePrompt string
	if usePro {
		basePrompt = "Cinematic medical animation, 16:9, high definition, educational anatomy, smooth motion: " + visualPrompt
	} else {
		basePrompt = "Medical schematic animation, 16:9, educational diagram motion, minimalist, wireframe style: " + visualPrompt
	}

	resolution := "720p"
	if usePro {
		resolution = "1080p"
	}

	var attempts []string

	// 第一次尝试：图生视频
	if referenceImageURL != "" {
		url, err := c.attemptVideo(ctx, basePrompt, resolution, referenceImageURL)
		if err == nil {
			return url, nil
		}
		logrus.WithError(err).Warn("image-to-video failed, falling back to text-to-video")
		attempts = append(attempts, "Img2Vid: "+err.Error())
	}

	// 第二次尝试：纯文生视频
	url, err := c.attemptVideo(ctx, basePrompt, resolution, "")
	if err == nil {
		return url, nil
	}
	combined := "Txt2Vid: " + err.Error()
	if len(attempts) > 0 {
		combined = strings.Join(attempts, ", ") + " | " + combined
	}
	return "", fmt.Errorf("video generation failed: %s", combined)
}

func (c *Client) attemptVideo(ctx context.Context, prompt, resolution, referenceImageURL string) (string, error) {
	instance := map[string]any{"prompt": prompt}
	if referenceImageURL != "" {
		m := dataURIPattern.FindStringSubmatch(referenceImageURL)
		if len(m) == 3 {
			instance["image"] = map[string]any{
				"mimeType":           m[1],
				"bytesBase64Encoded": m[2],
			}
		}
	}

	body := map[string]any{
		"instances": []map[string]any{instance},
		"parameters": map[string]any{
			"sampleCount": 1,
			"resolution":  resolution,
			"aspectRatio": "16:9",
		},
	}

	var op videoOperation
	if err := c.postJSON(ctx, "/v1beta/models/"+videoModel+":predictLongRunning", body, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", errors.New("no operation handle in response")
	}

	// 固定间隔轮询任务状态直到done
	notDone := errors.New("operation not done")
	poll := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.PollInterval), c.MaxPollAttempts),
		ctx,
	)
	err := backoff.Retry(func() error {
		var cur videoOperation
		if err := c.getJSON(ctx, "/v1beta/"+op.Name, &cur); err != nil {
			return backoff.Permanent(err)
		}
		if !cur.Done {
			return notDone
		}
		op = cur
		return nil
	}, poll)
	if err != nil {
		if errors.Is(err, notDone) {
			return "", errors.New("video generation timeout")
		}
		return "", err
	}

	if op.Error != nil {
		if op.Error.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrOperationFailed, op.Error.Message)
		}
		return "", ErrOperationFailed
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return "", ErrOperationEmpty
	}
	uri := op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
	if uri == "" {
		return "", ErrOperationEmpty
	}

	return c.fetchBytes(ctx, uri, "video/mp4")
}

// GenerateStepAudio 为步骤描述生成固定音色的旁白音频，返回data URI。
func (c *Client) GenerateStepAudio(ctx context.Context, text string) (string, error) {
	if c.Mock {
		return "data:audio/mp3;base64,bW9jaw==", nil
	}
	if !c.HasKey() {
		return "", ErrMissingAPIKey
	}

	resp, err := c.generateContent(ctx, ttsModel, generateRequest{
		Contents: []content{{Parts: []part{{Text: text}}}},
		GenerationConfig: map[string]any{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]any{
				"voiceConfig": map[string]any{
					"prebuiltVoiceConfig": map[string]any{"voiceName": "Fenrir"},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("audio generation failed: %w", err)
	}
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return "data:audio/mp3;base64," + p.InlineData.Data, nil
			}
		}
	}
	return "", ErrNoAudio
}
