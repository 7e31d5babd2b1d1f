package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"surgimator/internal/config"
	"surgimator/internal/gemini"
	"surgimator/internal/model"
	"surgimator/internal/session"
	"surgimator/internal/storyboard"
	"surgimator/internal/tools"
)

// 编译期确认客户端满足编排器的Generator接口
var _ storyboard.Generator = (*gemini.Client)(nil)

func main() {
	// 初始化日志
	config.InitLogging()

	// 初始化生成客户端
	client := gemini.NewClientDefault()

	// 初始化用量闸门和凭证宿主
	gate := session.NewGate(session.NewFileStore(config.UsageStorePath()))
	keys := session.NewEnvKeyProvider(client.APIKey)
	if ok, _ := keys.HasSelectedKey(context.Background()); ok {
		gate.Unlock()
	}

	// 初始化工具
	imageTool := tools.NewImageTool(client)
	videoTool := tools.NewVideoTool(client)
	audioTool := tools.NewAudioTool(client)

	boards := newBoardRegistry(client, gate)

	// 初始化Gin路由
	router := gin.Default()

	router.GET("/storyboard", boards.handleGetBoard)
	router.POST("/storyboard/analyze", boards.handleAnalyze)
	router.POST("/storyboard/steps/:id/:kind", boards.handleGenerateStep)
	router.POST("/storyboard/videos", boards.handleGenerateAllVideos)
	router.DELETE("/storyboard", boards.handleReset)

	router.POST("/estimate-steps", boards.handleEstimateSteps(client))
	router.POST("/research", boards.handleResearch(client))
	router.GET("/usage", boards.handleUsage)
	router.POST("/promode", boards.handleProMode(keys))
	router.GET("/samples", handleSamples)

	router.POST("/tools/image-generate", handleToolRun(imageTool))
	router.POST("/tools/video-generate", handleToolRun(videoTool))
	router.POST("/tools/audio-generate", handleToolRun(audioTool))

	// 启动服务器
	srv := &http.Server{
		Addr:    config.ListenAddr(),
		Handler: router,
	}

	go func() {
		logrus.Infof("服务器启动在 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("关闭服务器...")

	if err := srv.Close(); err != nil {
		logrus.Fatalf("服务器关闭失败: %v", err)
	}
	logrus.Info("服务器已关闭")
}

// boardRegistry 按HTTP会话id管理各自的分镜板，用量闸门全局共享
type boardRegistry struct {
	mu     sync.Mutex
	boards map[string]*storyboard.Board
	client *gemini.Client
	gate   *session.Gate
}

func newBoardRegistry(client *gemini.Client, gate *session.Gate) *boardRegistry {
	return &boardRegistry{
		boards: make(map[string]*storyboard.Board),
		client: client,
		gate:   gate,
	}
}

// board 取出请求对应的分镜板，没有就新建；返回会话id供响应回传
func (r *boardRegistry) board(c *gin.Context) (*storyboard.Board, string) {
	id := c.GetHeader("X-Session-ID")
	if id == "" {
		id = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boards[id]
	if !ok {
		b = storyboard.NewBoard(r.client, r.gate)
		// 已接入自有key时默认开启pro档
		b.SetProMode(r.gate.HasOwnKey())
		r.boards[id] = b
	}
	c.Header("X-Session-ID", id)
	return b, id
}

func (r *boardRegistry) handleGetBoard(c *gin.Context) {
	b, id := r.board(c)
	c.JSON(http.StatusOK, gin.H{
		"session_id":            id,
		"procedureName":         b.ProcedureName(),
		"steps":                 b.Steps(),
		"sources":               b.Sources(),
		"proMode":               b.ProMode(),
		"isGeneratingAllVideos": b.IsGeneratingAllVideos(),
	})
}

func (r *boardRegistry) handleAnalyze(c *gin.Context) {
	var req struct {
		Text      string `json:"text"`
		StepCount int    `json:"stepCount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
		return
	}
	b, id := r.board(c)
	if err := b.Analyze(c.Request.Context(), req.Text, req.StepCount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":    id,
		"procedureName": b.ProcedureName(),
		"steps":         b.Steps(),
	})
}

func (r *boardRegistry) handleGenerateStep(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的步骤id"})
		return
	}
	var kind model.GenerationType
	switch c.Param("kind") {
	case "image":
		kind = model.GenerationImage
	case "video":
		kind = model.GenerationVideo
	case "audio":
		kind = model.GenerationAudio
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的生成类型"})
		return
	}
	b, sid := r.board(c)
	err = b.GenerateStep(c.Request.Context(), id, kind)
	if err != nil && (errors.Is(err, session.ErrLimitReached) || errors.Is(err, storyboard.ErrNoSuchStep)) {
		writeError(c, err)
		return
	}
	// 生成失败已折叠进步骤状态，直接回传整板
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "steps": b.Steps()})
}

func (r *boardRegistry) handleGenerateAllVideos(c *gin.Context) {
	b, sid := r.board(c)
	if err := b.GenerateAllVideos(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sid, "steps": b.Steps()})
}

func (r *boardRegistry) handleReset(c *gin.Context) {
	b, id := r.board(c)
	b.Reset()
	c.JSON(http.StatusOK, gin.H{"session_id": id})
}

func (r *boardRegistry) handleEstimateSteps(client *gemini.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stepCount": client.EstimateStepCount(c.Request.Context(), req.Text)})
	}
}

func (r *boardRegistry) handleResearch(client *gemini.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Query string `json:"query"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		b, id := r.board(c)
		text, sources, err := client.ResearchProcedure(c.Request.Context(), req.Query)
		if err != nil {
			writeError(c, err)
			return
		}
		b.SetSources(sources)
		c.JSON(http.StatusOK, gin.H{"session_id": id, "text": text, "sources": sources})
	}
}

func (r *boardRegistry) handleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"usageCount": r.gate.Count(),
		"maxFree":    session.MaxFreeGenerations,
		"remaining":  r.gate.Remaining(),
		"hasOwnKey":  r.gate.HasOwnKey(),
	})
}

func (r *boardRegistry) handleProMode(keys session.KeyProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Enable bool `json:"enable"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		b, id := r.board(c)
		if req.Enable && !r.gate.HasOwnKey() {
			// 开pro档必须先接入自有key
			if err := keys.OpenSelectKey(c.Request.Context()); err != nil {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				return
			}
			if ok, _ := keys.HasSelectedKey(c.Request.Context()); !ok {
				c.JSON(http.StatusForbidden, gin.H{"error": "no key selected"})
				return
			}
			r.gate.Unlock()
		}
		b.SetProMode(req.Enable)
		c.JSON(http.StatusOK, gin.H{"session_id": id, "proMode": b.ProMode()})
	}
}

func handleSamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"samples": model.SampleManuals})
}

// handleToolRun 把请求体原样作为JSON参数交给eino工具执行
func handleToolRun(t einotool.InvokableTool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		result, err := t.InvokableRun(c.Request.Context(), string(body))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(result))
	}
}

// writeError 按错误类别映射HTTP状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrLimitReached):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, gemini.ErrMissingAPIKey):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, storyboard.ErrEmptyManual),
		errors.Is(err, storyboard.ErrNoSuchStep),
		errors.Is(err, storyboard.ErrImagesIncomplete):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storyboard.ErrBulkVideoRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, gemini.ErrSafetyBlocked),
		errors.Is(err, gemini.ErrMalformedOutput),
		errors.Is(err, gemini.ErrEmptyResponse):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
