package tools

import (
	"context"
	"encoding/json"
	"errors"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"surgimator/internal/gemini"
)

// VideoTool 把步骤动画生成封装成eino工具。底层是异步任务，
// 工具内部轮询直到拿到结果
type VideoTool struct {
	client *gemini.Client
}

type VideoToolArgs struct {
	Prompt            string `json:"prompt"`
	ReferenceImageURL string `json:"reference_image_url"`
	UsePro            bool   `json:"use_pro"`
}

type VideoToolResp struct {
	VideoURL string `json:"video_url"`
	Quality  string `json:"quality"`
}

func NewVideoTool(client *gemini.Client) *VideoTool {
	return &VideoTool{client: client}
}

func (t *VideoTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":              {Type: schema.String, Required: true, Desc: "步骤的视觉提示词"},
		"reference_image_url": {Type: schema.String, Required: false, Desc: "参考插图的data URI，提供时先尝试图生视频"},
		"use_pro":             {Type: schema.Boolean, Required: false, Desc: "是否使用1080p电影风格档位"},
	}
	return &schema.ToolInfo{
		Name:        "step_video_generate",
		Desc:        "生成手术步骤的动画视频，图生视频失败时降级为文生视频",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *VideoTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args VideoToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if args.Prompt == "" {
		return "", errors.New("prompt required")
	}
	url, err := t.client.GenerateStepVideo(ctx, args.Prompt, args.ReferenceImageURL, args.UsePro)
	if err != nil {
		return "", err
	}
	quality := "standard"
	if args.UsePro {
		quality = "pro"
	}
	b, err := json.Marshal(VideoToolResp{VideoURL: url, Quality: quality})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*VideoTool)(nil)
