package model

// SurgicalStep 分镜步骤结构，id为稳定的从0开始的序号
type SurgicalStep struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	VisualPrompt string `json:"visualPrompt"` // 用于生成图片/视频的提示词

	ImageURL string `json:"imageUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
	AudioURL string `json:"audioUrl,omitempty"`

	IsGeneratingImage bool `json:"isGeneratingImage"`
	IsGeneratingVideo bool `json:"isGeneratingVideo"`
	IsGeneratingAudio bool `json:"isGeneratingAudio"`

	ImageError string `json:"imageError,omitempty"`
	VideoError string `json:"videoError,omitempty"`
	AudioError string `json:"audioError,omitempty"`

	// 生成该视频时所用档位，"pro"或"standard"，后续切换模式不回溯
	VideoQuality string `json:"videoQuality,omitempty"`
}

// GenerationType 媒体生成类型
type GenerationType string

const (
	GenerationImage GenerationType = "IMAGE"
	GenerationVideo GenerationType = "VIDEO"
	GenerationAudio GenerationType = "AUDIO"
)

// AnalysisStep 分析接口返回的单个步骤
type AnalysisStep struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	VisualPrompt string `json:"visualPrompt"`
}

// AnalysisResponse 手册分析结果
type AnalysisResponse struct {
	ProcedureName string         `json:"procedureName"`
	Steps         []AnalysisStep `json:"steps"`
}

// Source 检索引用来源，按首次出现顺序去重
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}
