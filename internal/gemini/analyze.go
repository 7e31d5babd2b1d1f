package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"surgimator/internal/model"
)

const (
	estimateInputLimit = 5000
	analyzeInputLimit  = 15000
	defaultStepCount   = 6
)

// 严格的system instruction，防止模型在长医学文本上陷入复读循环
const analyzeSystemInstruction = `You are a strict API endpoint that converts text into JSON.
You DO NOT output conversational text.
You DO NOT repeat the input text verbatim.
You DO NOT generate infinite loops.
Output MUST be valid JSON matching the requested schema.`

// analysisSchema 约束分析输出结构
var analysisSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"procedureName": map[string]any{"type": "STRING"},
		"steps": map[string]any{
			"type": "ARRAY",
			"items": map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"title":        map[string]any{"type": "STRING"},
					"description":  map[string]any{"type": "STRING"},
					"visualPrompt": map[string]any{"type": "STRING"},
				},
			},
		},
	},
}

// EstimateStepCount 估算合适的分镜步骤数。纯建议性操作：任何失败都
// 返回默认值6，绝不向调用方抛错。
func (c *Client) EstimateStepCount(ctx context.Context, text string) int {
	if c.Mock {
		return defaultStepCount
	}
	if !c.HasKey() {
		return defaultStepCount
	}

	prompt := fmt.Sprintf(`Analyze this surgical procedure text.
Return ONLY a single integer: the optimal number of storyboard steps (4-12).
Text: "%s"`, truncate(text, estimateInputLimit))

	resp, err := c.generateContent(ctx, flashModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		logrus.WithError(err).Warn("step estimation failed, using default")
		return defaultStepCount
	}

	num, err := strconv.Atoi(strings.TrimSpace(resp.text()))
	if err != nil || num < 1 {
		return defaultStepCount
	}
	return num
}

// AnalyzeManual 将手术手册文本转为分镜步骤列表。targetStepCount为0时由
// 模型自行决定步骤数（4-12之间的合理值）。
func (c *Client) AnalyzeManual(ctx context.Context, text string, targetStepCount int) (*model.AnalysisResponse, error) {
	if c.Mock {
		return mockAnalysis(targetStepCount), nil
	}
	if !c.HasKey() {
		return nil, ErrMissingAPIKey
	}

	stepInstruction := "logical count (4-12)"
	headline := "6"
	if targetStepCount > 0 {
		stepInstruction = strconv.Itoa(targetStepCount)
		headline = stepInstruction
	}

	prompt := fmt.Sprintf(`Task: Convert this surgical manual into a %s-step visual storyboard.

Constraints:
1. Steps: Exactly %s.
2. Description: MAX 2 sentences. concise.
3. Visual Prompt: MAX 40 words. Focus on camera angle, anatomy, and tools.
4. NO REPETITION. Do not repeat the same phrase.

Manual:
"%s"`, headline, stepInstruction, truncate(text, analyzeInputLimit))

	resp, err := c.generateContent(ctx, flashModel, generateRequest{
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		SystemInstruction: &content{Parts: []part{{Text: analyzeSystemInstruction}}},
		GenerationConfig: map[string]any{
			"responseMimeType": "application/json",
			"responseSchema":   analysisSchema,
			"maxOutputTokens":  2500, // 限制输出长度，避免复读循环撑爆响应
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "SAFETY") || strings.Contains(err.Error(), "blocked") {
			return nil, ErrSafetyBlocked
		}
		return nil, fmt.Errorf("analysis error: %w", err)
	}
	if resp.blocked() {
		return nil, ErrSafetyBlocked
	}

	raw := resp.text()
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	var result model.AnalysisResponse
	if err := json.Unmarshal([]byte(RepairJSON(raw)), &result); err != nil {
		logrus.WithError(err).Error("analysis output unparsable after repair")
		return nil, ErrMalformedOutput
	}
	return &result, nil
}

// ResearchProcedure 用联网检索模式起草手术步骤文本，返回正文与去重后的
// 引用来源（按首次出现顺序）。
func (c *Client) ResearchProcedure(ctx context.Context, query string) (string, []model.Source, error) {
	if c.Mock {
		return "Mock procedure draft for: " + query,
			[]model.Source{{Title: "mock source", URI: "https://example.com/mock"}}, nil
	}
	if !c.HasKey() {
		return "", nil, ErrMissingAPIKey
	}

	prompt := fmt.Sprintf(`Research the standard surgical technique for: "%s".
Write a concise numbered step-by-step procedure manual (6-10 steps) suitable for storyboard analysis.
Output plain text only.`, query)

	resp, err := c.generateContent(ctx, flashModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		Tools:    []map[string]any{{"google_search": map[string]any{}}},
	})
	if err != nil {
		return "", nil, fmt.Errorf("research error: %w", err)
	}

	text := resp.text()
	if text == "" {
		return "", nil, ErrEmptyResponse
	}

	var sources []model.Source
	seen := make(map[string]bool)
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			if chunk.Web.URI == "" || seen[chunk.Web.URI] {
				continue
			}
			seen[chunk.Web.URI] = true
			sources = append(sources, model.Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
	}
	return text, sources, nil
}

func mockAnalysis(n int) *model.AnalysisResponse {
	if n <= 0 {
		n = defaultStepCount
	}
	steps := make([]model.AnalysisStep, 0, n)
	for i := 1; i <= n; i++ {
		steps = append(steps, model.AnalysisStep{
			Title:        fmt.Sprintf("Step %d", i),
			Description:  fmt.Sprintf("Mock description for step %d.", i),
			VisualPrompt: fmt.Sprintf("mock visual prompt %d", i),
		})
	}
	return &model.AnalysisResponse{ProcedureName: "Mock Procedure", Steps: steps}
}
