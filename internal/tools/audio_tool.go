package tools

import (
	"context"
	"encoding/json"
	"errors"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"surgimator/internal/gemini"
)

// AudioTool 把步骤旁白合成封装成eino工具
type AudioTool struct {
	client *gemini.Client
}

type AudioToolArgs struct {
	Text string `json:"text"`
}

type AudioToolResp struct {
	AudioURL string `json:"audio_url"`
}

func NewAudioTool(client *gemini.Client) *AudioTool {
	return &AudioTool{client: client}
}

func (t *AudioTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"text": {Type: schema.String, Required: true, Desc: "要朗读的步骤描述全文"},
	}
	return &schema.ToolInfo{
		Name:        "step_audio_generate",
		Desc:        "为手术步骤描述合成固定音色的旁白音频",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *AudioTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args AudioToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if args.Text == "" {
		return "", errors.New("text required")
	}
	url, err := t.client.GenerateStepAudio(ctx, args.Text)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(AudioToolResp{AudioURL: url})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*AudioTool)(nil)
