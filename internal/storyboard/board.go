package storyboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"surgimator/internal/model"
	"surgimator/internal/session"
)

var (
	ErrEmptyManual       = errors.New("empty manual text")
	ErrNoSuchStep        = errors.New("no such step")
	ErrImagesIncomplete  = errors.New("wait for all storyboard images to complete before generating videos")
	ErrBulkVideoRunning  = errors.New("bulk video generation already running")
	ErrUnknownGeneration = errors.New("unknown generation type")
)

// Generator 抽象生成客户端，便于测试时替换
type Generator interface {
	AnalyzeManual(ctx context.Context, text string, targetStepCount int) (*model.AnalysisResponse, error)
	GenerateStepImage(ctx context.Context, visualPrompt string, usePro bool) (string, error)
	GenerateStepVideo(ctx context.Context, visualPrompt, referenceImageURL string, usePro bool) (string, error)
	GenerateStepAudio(ctx context.Context, text string) (string, error)
}

// Board 一块分镜板：步骤集合加上驱动生成调用的编排逻辑。
// 同一轮遍历内调用严格串行；取消是协作式的，只在步骤间检查会话号，
// 已发出的调用总是执行到底。
type Board struct {
	gen  Generator
	gate *session.Gate

	// 遍历中相邻两步之间的间隔，避免压垮远端服务
	StepDelay time.Duration

	mu                  sync.RWMutex
	procedureName       string
	steps               []*model.SurgicalStep
	sessionID           int64
	proMode             bool
	generatingAllVideos bool
	sources             []model.Source
}

func NewBoard(gen Generator, gate *session.Gate) *Board {
	return &Board{
		gen:       gen,
		gate:      gate,
		StepDelay: time.Second,
	}
}

// mintSession 发放新的会话号并作废旧遍历。单调递增。
func (b *Board) mintSession() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := time.Now().UnixMilli()
	if id <= b.sessionID {
		id = b.sessionID + 1
	}
	b.sessionID = id
	return id
}

func (b *Board) SessionID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessionID
}

func (b *Board) ProcedureName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.procedureName
}

// Steps 返回步骤快照
func (b *Board) Steps() []model.SurgicalStep {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.SurgicalStep, 0, len(b.steps))
	for _, s := range b.steps {
		out = append(out, *s)
	}
	return out
}

func (b *Board) Sources() []model.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]model.Source(nil), b.sources...)
}

func (b *Board) SetSources(sources []model.Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append([]model.Source(nil), sources...)
}

func (b *Board) SetProMode(enable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.proMode = enable
}

func (b *Board) ProMode() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.proMode
}

// Reset 整板清空并作废进行中的遍历
func (b *Board) Reset() {
	b.mu.Lock()
	b.procedureName = ""
	b.steps = nil
	b.sources = nil
	b.generatingAllVideos = false
	b.mu.Unlock()
	b.mintSession()
}

// mutateStep 以"取旧值派生新值"的方式原地替换步骤，每次只动一种媒体的
// 字段子集，交错执行下互不覆盖
func (b *Board) mutateStep(id int, fn func(*model.SurgicalStep)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.steps {
		if s.ID == id {
			next := *s
			fn(&next)
			b.steps[i] = &next
			return true
		}
	}
	return false
}

func (b *Board) stepByID(id int) (model.SurgicalStep, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.steps {
		if s.ID == id {
			return *s, true
		}
	}
	return model.SurgicalStep{}, false
}

// Analyze 分析手册文本并批量创建步骤，然后在后台逐步生成插图。
// 整个动作只计一次费，随后的自动插图遍历不再计费。
func (b *Board) Analyze(ctx context.Context, text string, targetStepCount int) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyManual
	}
	if err := b.gate.Allow(); err != nil {
		return err
	}
	b.gate.Charge()

	sid := b.mintSession()

	b.mu.Lock()
	b.procedureName = ""
	b.steps = nil
	b.generatingAllVideos = false
	b.mu.Unlock()

	result, err := b.gen.AnalyzeManual(ctx, text, targetStepCount)
	if err != nil {
		return err
	}

	steps := make([]*model.SurgicalStep, 0, len(result.Steps))
	for i, s := range result.Steps {
		steps = append(steps, &model.SurgicalStep{
			ID:           i,
			Title:        s.Title,
			Description:  s.Description,
			VisualPrompt: s.VisualPrompt,
		})
	}

	b.mu.Lock()
	b.procedureName = result.ProcedureName
	b.steps = steps
	b.mu.Unlock()

	// 后台串行生成每一步插图；HTTP响应返回不中断它，
	// 作废只靠会话号
	go b.generateAllImages(context.Background(), sid)

	return nil
}

// generateAllImages 分析后的自动插图遍历。每步之前校验会话号，
// 不一致立即停，剩余步骤保持未生成状态而不是报错。
func (b *Board) generateAllImages(ctx context.Context, sid int64) {
	ids := b.stepIDs()
	for _, id := range ids {
		if b.SessionID() != sid {
			break
		}
		b.generateStep(ctx, id, model.GenerationImage, sid, true)
		time.Sleep(b.StepDelay)
	}
}

func (b *Board) stepIDs() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]int, 0, len(b.steps))
	for _, s := range b.steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// GenerateAllVideos 批量生成所有步骤的视频。插图是视频的硬前置：
// 任何一步缺图就整体拒绝。所有步骤都已有视频时是无副作用的空操作。
// 不论步骤多少，整个动作只计一次费。
func (b *Board) GenerateAllVideos(ctx context.Context) error {
	b.mu.Lock()
	if b.generatingAllVideos {
		b.mu.Unlock()
		return ErrBulkVideoRunning
	}
	missing := false
	allDone := len(b.steps) > 0
	for _, s := range b.steps {
		if s.ImageURL == "" {
			missing = true
		}
		if s.VideoURL == "" {
			allDone = false
		}
	}
	if missing {
		b.mu.Unlock()
		return ErrImagesIncomplete
	}
	if allDone || len(b.steps) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.gate.Allow(); err != nil {
		return err
	}
	b.gate.Charge()

	b.mu.Lock()
	b.generatingAllVideos = true
	sid := b.sessionID
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.generatingAllVideos = false
		b.mu.Unlock()
	}()

	for _, id := range b.stepIDs() {
		if b.SessionID() != sid {
			break
		}
		cur, ok := b.stepByID(id)
		if !ok || cur.VideoURL != "" || cur.IsGeneratingVideo {
			continue
		}
		b.generateStep(ctx, id, model.GenerationVideo, sid, true)
		time.Sleep(b.StepDelay)
	}
	return nil
}

func (b *Board) IsGeneratingAllVideos() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generatingAllVideos
}

// GenerateStep 用户显式触发的单步生成，计费
func (b *Board) GenerateStep(ctx context.Context, id int, kind model.GenerationType) error {
	return b.generateStep(ctx, id, kind, b.SessionID(), false)
}

// generateStep 单步生成的公共路径。skipCharge为true表示由遍历内部触发，
// 不重复计费。成功只更新该媒体类型的字段，失败只记录该类型的错误，
// 同一步骤其他类型已生成的结果不受影响。
func (b *Board) generateStep(ctx context.Context, id int, kind model.GenerationType, sid int64, skipCharge bool) error {
	if sid != 0 && sid < b.SessionID() {
		return nil // 过期会话的残留调用，直接丢弃
	}

	if !skipCharge {
		if err := b.gate.Allow(); err != nil {
			return err
		}
		b.gate.Charge()
	}

	step, ok := b.stepByID(id)
	if !ok {
		return ErrNoSuchStep
	}

	// 标记进行中并清掉该类型的陈旧错误
	b.mutateStep(id, func(s *model.SurgicalStep) {
		switch kind {
		case model.GenerationImage:
			s.IsGeneratingImage = true
			s.ImageError = ""
		case model.GenerationVideo:
			s.IsGeneratingVideo = true
			s.VideoError = ""
		case model.GenerationAudio:
			s.IsGeneratingAudio = true
			s.AudioError = ""
		}
	})

	pro := b.ProMode()
	var resultURL string
	var err error
	switch kind {
	case model.GenerationImage:
		resultURL, err = b.gen.GenerateStepImage(ctx, step.VisualPrompt, pro)
	case model.GenerationVideo:
		resultURL, err = b.gen.GenerateStepVideo(ctx, step.VisualPrompt, step.ImageURL, pro)
	case model.GenerationAudio:
		resultURL, err = b.gen.GenerateStepAudio(ctx, step.Description)
	default:
		err = ErrUnknownGeneration
	}

	if err != nil {
		b.mutateStep(id, func(s *model.SurgicalStep) {
			switch kind {
			case model.GenerationImage:
				s.IsGeneratingImage = false
				s.ImageError = err.Error()
			case model.GenerationVideo:
				s.IsGeneratingVideo = false
				s.VideoError = err.Error()
			case model.GenerationAudio:
				s.IsGeneratingAudio = false
				s.AudioError = err.Error()
			}
		})
		return err
	}

	b.mutateStep(id, func(s *model.SurgicalStep) {
		switch kind {
		case model.GenerationImage:
			s.IsGeneratingImage = false
			s.ImageURL = resultURL
		case model.GenerationVideo:
			s.IsGeneratingVideo = false
			s.VideoURL = resultURL
			if pro {
				s.VideoQuality = "pro"
			} else {
				s.VideoQuality = "standard"
			}
		case model.GenerationAudio:
			s.IsGeneratingAudio = false
			s.AudioURL = resultURL
		}
	})
	return nil
}
