package storyboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"surgimator/internal/model"
	"surgimator/internal/session"
)

// fakeGen 可编程的生成客户端替身，记录所有调用
type fakeGen struct {
	mu           sync.Mutex
	analysis     *model.AnalysisResponse
	analysisErr  error
	analyzeCalls int
	imageErr     map[string]error // 按visualPrompt注入失败
	videoErr     error
	audioErr     error
	imageCalls   []string
	videoCalls   []string
	videoPro     []bool
	audioCalls   []string
	imageGate    chan struct{} // 非nil时每次图片调用先登记再等放行
}

func (f *fakeGen) AnalyzeManual(ctx context.Context, text string, target int) (*model.AnalysisResponse, error) {
	f.mu.Lock()
	f.analyzeCalls++
	f.mu.Unlock()
	if f.analysisErr != nil {
		return nil, f.analysisErr
	}
	return f.analysis, nil
}

func (f *fakeGen) GenerateStepImage(ctx context.Context, prompt string, pro bool) (string, error) {
	f.mu.Lock()
	f.imageCalls = append(f.imageCalls, prompt)
	gate := f.imageGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	err := f.imageErr[prompt]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "img://" + prompt, nil
}

func (f *fakeGen) GenerateStepVideo(ctx context.Context, prompt, ref string, pro bool) (string, error) {
	f.mu.Lock()
	f.videoCalls = append(f.videoCalls, prompt)
	f.videoPro = append(f.videoPro, pro)
	err := f.videoErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "vid://" + prompt, nil
}

func (f *fakeGen) GenerateStepAudio(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.audioCalls = append(f.audioCalls, text)
	err := f.audioErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "aud://" + text, nil
}

func (f *fakeGen) imageCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.imageCalls)
}

func (f *fakeGen) videoCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.videoCalls)
}

func analysisOf(n int) *model.AnalysisResponse {
	resp := &model.AnalysisResponse{ProcedureName: "Test Procedure"}
	for i := 0; i < n; i++ {
		resp.Steps = append(resp.Steps, model.AnalysisStep{
			Title:        fmt.Sprintf("Step %d", i),
			Description:  fmt.Sprintf("d%d", i),
			VisualPrompt: fmt.Sprintf("p%d", i),
		})
	}
	return resp
}

func newTestBoard(f *fakeGen) (*Board, *session.Gate) {
	gate := session.NewGate(session.NewMemStore())
	b := NewBoard(f, gate)
	b.StepDelay = 0
	return b, gate
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// imagesSettled 自动插图遍历是否处理完所有步骤（成功或失败）
func imagesSettled(b *Board) bool {
	steps := b.Steps()
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if s.ImageURL == "" && s.ImageError == "" {
			return false
		}
		if s.IsGeneratingImage {
			return false
		}
	}
	return true
}

// TestAnalyzeCreatesStepsAndRunsImagePass 分析后按id升序逐个生成插图，
// 整个动作只计一次费
func TestAnalyzeCreatesStepsAndRunsImagePass(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(3)}
	b, gate := newTestBoard(f)

	if err := b.Analyze(context.Background(), "manual text", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	if b.ProcedureName() != "Test Procedure" {
		t.Fatalf("procedureName = %q", b.ProcedureName())
	}

	steps := b.Steps()
	if len(steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(steps))
	}
	for i, s := range steps {
		if s.ID != i {
			t.Fatalf("step %d has id %d", i, s.ID)
		}
		if s.VideoURL != "" || s.AudioURL != "" || s.ImageError != "" {
			t.Fatalf("fresh step %d should be media-empty: %+v", i, s)
		}
	}

	waitFor(t, "auto image pass", func() bool { return imagesSettled(b) })

	f.mu.Lock()
	gotOrder := append([]string(nil), f.imageCalls...)
	f.mu.Unlock()
	if len(gotOrder) != 3 || gotOrder[0] != "p0" || gotOrder[1] != "p1" || gotOrder[2] != "p2" {
		t.Fatalf("image pass order = %v, want [p0 p1 p2]", gotOrder)
	}
	for _, s := range b.Steps() {
		if s.ImageURL == "" {
			t.Fatalf("step %d missing image", s.ID)
		}
	}
	if gate.Count() != 1 {
		t.Fatalf("usage count = %d, want 1 (analysis only, auto pass is free)", gate.Count())
	}
}

// TestSecondAnalysisCancelsFirstPass 新分析作废旧遍历：旧遍历最多把
// 在途的那一次调用跑完，之后不再发起新调用
func TestSecondAnalysisCancelsFirstPass(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(3), imageGate: make(chan struct{}, 16)}
	b, gate := newTestBoard(f)

	if err := b.Analyze(context.Background(), "first manual", 0); err != nil {
		t.Fatalf("first Analyze error = %v", err)
	}
	// 等第一轮遍历发出第一笔调用并卡在放行闸上
	waitFor(t, "first image call issued", func() bool { return f.imageCallCount() == 1 })

	if err := b.Analyze(context.Background(), "second manual", 0); err != nil {
		t.Fatalf("second Analyze error = %v", err)
	}

	// 放行：旧遍历的在途调用跑完后应停在检查点，新遍历跑满3步
	for i := 0; i < 4; i++ {
		f.imageGate <- struct{}{}
	}

	waitFor(t, "second pass complete", func() bool { return imagesSettled(b) && f.imageCallCount() == 4 })
	time.Sleep(20 * time.Millisecond)
	if n := f.imageCallCount(); n != 4 {
		t.Fatalf("image calls = %d, want 4 (1 stale + 3 fresh)", n)
	}
	if gate.Count() != 2 {
		t.Fatalf("usage count = %d, want 2 (one per analysis)", gate.Count())
	}
}

// TestBulkVideoRefusedWhenImageMissing 任何一步缺图就整体拒绝且不计费
func TestBulkVideoRefusedWhenImageMissing(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(3), imageErr: map[string]error{"p1": errors.New("no image")}}
	b, gate := newTestBoard(f)

	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })

	err := b.GenerateAllVideos(context.Background())
	if !errors.Is(err, ErrImagesIncomplete) {
		t.Fatalf("GenerateAllVideos = %v, want ErrImagesIncomplete", err)
	}
	if f.videoCallCount() != 0 {
		t.Fatalf("video calls = %d, want 0", f.videoCallCount())
	}
	if gate.Count() != 1 {
		t.Fatalf("usage count = %d, refused bulk action must not charge", gate.Count())
	}
}

// TestBulkVideoChargesOnceAndSkipsDone 批量动作整体只计一次费，
// 已有视频的步骤被跳过；全部有视频时是不计费的空操作
func TestBulkVideoChargesOnceAndSkipsDone(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(3)}
	b, gate := newTestBoard(f)

	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })

	// 用户先手动给第1步生成视频，单独计一次费
	if err := b.GenerateStep(context.Background(), 1, model.GenerationVideo); err != nil {
		t.Fatalf("manual video error = %v", err)
	}
	if gate.Count() != 2 {
		t.Fatalf("usage count = %d, want 2", gate.Count())
	}

	if err := b.GenerateAllVideos(context.Background()); err != nil {
		t.Fatalf("GenerateAllVideos error = %v", err)
	}
	f.mu.Lock()
	calls := append([]string(nil), f.videoCalls...)
	f.mu.Unlock()
	if len(calls) != 3 || calls[1] != "p0" || calls[2] != "p2" {
		t.Fatalf("video calls = %v, want manual p1 then bulk [p0 p2]", calls)
	}
	if gate.Count() != 3 {
		t.Fatalf("usage count = %d, want 3 (bulk charged once)", gate.Count())
	}

	// 全部有视频：空操作，不出错不计费不发请求
	if err := b.GenerateAllVideos(context.Background()); err != nil {
		t.Fatalf("no-op bulk returned %v", err)
	}
	if f.videoCallCount() != 3 || gate.Count() != 3 {
		t.Fatalf("no-op bulk must not call or charge: calls=%d count=%d", f.videoCallCount(), gate.Count())
	}
}

// TestKindFailureKeepsOtherMedia 一种媒体失败不动同一步骤其他媒体的结果；
// 重试时先清掉陈旧错误
func TestKindFailureKeepsOtherMedia(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(1), videoErr: errors.New("video backend down")}
	b, _ := newTestBoard(f)

	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })

	if err := b.GenerateStep(context.Background(), 0, model.GenerationVideo); err == nil {
		t.Fatal("expected video failure")
	}
	s := b.Steps()[0]
	if s.ImageURL == "" {
		t.Fatal("image result must survive video failure")
	}
	if s.VideoError == "" || s.VideoURL != "" || s.IsGeneratingVideo {
		t.Fatalf("video state after failure = %+v", s)
	}

	// 后端恢复，重试应清掉错误并写入结果
	f.mu.Lock()
	f.videoErr = nil
	f.mu.Unlock()
	if err := b.GenerateStep(context.Background(), 0, model.GenerationVideo); err != nil {
		t.Fatalf("retry error = %v", err)
	}
	s = b.Steps()[0]
	if s.VideoError != "" || s.VideoURL == "" {
		t.Fatalf("video state after retry = %+v", s)
	}
}

// TestVideoQualityTag 视频记录生成时所用档位
func TestVideoQualityTag(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(1)}
	b, _ := newTestBoard(f)

	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })

	if err := b.GenerateStep(context.Background(), 0, model.GenerationVideo); err != nil {
		t.Fatalf("video error = %v", err)
	}
	if q := b.Steps()[0].VideoQuality; q != "standard" {
		t.Fatalf("quality = %q, want standard", q)
	}

	b.SetProMode(true)
	if err := b.GenerateStep(context.Background(), 0, model.GenerationVideo); err != nil {
		t.Fatalf("pro video error = %v", err)
	}
	if q := b.Steps()[0].VideoQuality; q != "pro" {
		t.Fatalf("quality = %q, want pro", q)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.videoPro[len(f.videoPro)-1] {
		t.Fatal("pro flag not passed to generator")
	}
}

// TestAudioUsesDescription 旁白用步骤描述全文，不是视觉提示词
func TestAudioUsesDescription(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(1)}
	b, _ := newTestBoard(f)

	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })

	if err := b.GenerateStep(context.Background(), 0, model.GenerationAudio); err != nil {
		t.Fatalf("audio error = %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.audioCalls) != 1 || f.audioCalls[0] != "d0" {
		t.Fatalf("audio calls = %v, want [d0]", f.audioCalls)
	}
}

// TestAnalyzeDeniedAtLimit 额度用尽时动作在任何网络调用前被拒绝
func TestAnalyzeDeniedAtLimit(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(2)}
	b, gate := newTestBoard(f)
	for i := 0; i < session.MaxFreeGenerations; i++ {
		gate.Charge()
	}

	err := b.Analyze(context.Background(), "manual", 0)
	if !errors.Is(err, session.ErrLimitReached) {
		t.Fatalf("Analyze = %v, want ErrLimitReached", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyzeCalls != 0 {
		t.Fatalf("analyze calls = %d, denied action must not reach the network", f.analyzeCalls)
	}
}

func TestGenerateStepUnknownID(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(1)}
	b, _ := newTestBoard(f)
	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })

	if err := b.GenerateStep(context.Background(), 99, model.GenerationImage); !errors.Is(err, ErrNoSuchStep) {
		t.Fatalf("error = %v, want ErrNoSuchStep", err)
	}
}

// TestResetClearsBoardAndInvalidates 整板重置清空步骤并作废会话
func TestResetClearsBoardAndInvalidates(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(2)}
	b, _ := newTestBoard(f)
	if err := b.Analyze(context.Background(), "manual", 0); err != nil {
		t.Fatalf("Analyze error = %v", err)
	}
	waitFor(t, "image pass settled", func() bool { return imagesSettled(b) })
	before := b.SessionID()

	b.Reset()
	if len(b.Steps()) != 0 || b.ProcedureName() != "" {
		t.Fatal("reset must clear the board")
	}
	if b.SessionID() <= before {
		t.Fatalf("session id %d not advanced past %d", b.SessionID(), before)
	}
}

func TestAnalyzeEmptyManual(t *testing.T) {
	f := &fakeGen{analysis: analysisOf(2)}
	b, gate := newTestBoard(f)
	if err := b.Analyze(context.Background(), "   ", 0); !errors.Is(err, ErrEmptyManual) {
		t.Fatalf("error = %v, want ErrEmptyManual", err)
	}
	if gate.Count() != 0 {
		t.Fatalf("empty manual must not charge, count = %d", gate.Count())
	}
}
