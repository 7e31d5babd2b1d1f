package tools

import (
	"context"
	"encoding/json"
	"errors"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"surgimator/internal/gemini"
)

// ImageTool 把步骤插图生成封装成eino工具
type ImageTool struct {
	client *gemini.Client
}

type ImageToolArgs struct {
	Prompt string `json:"prompt"`
	UsePro bool   `json:"use_pro"`
}

type ImageToolResp struct {
	ImageURL string `json:"image_url"`
}

func NewImageTool(client *gemini.Client) *ImageTool {
	return &ImageTool{client: client}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":  {Type: schema.String, Required: true, Desc: "步骤的视觉提示词"},
		"use_pro": {Type: schema.Boolean, Required: false, Desc: "是否优先使用高保真模型"},
	}
	return &schema.ToolInfo{
		Name:        "step_image_generate",
		Desc:        "生成手术步骤的医学示意插图，高保真模型失败时自动降级",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ImageToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if args.Prompt == "" {
		return "", errors.New("prompt required")
	}
	url, err := t.client.GenerateStepImage(ctx, args.Prompt, args.UsePro)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(ImageToolResp{ImageURL: url})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
