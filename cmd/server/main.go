package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/wfunc/ai-game-dev/internal/adapter"
	"github.com/wfunc/ai-game-dev/internal/api"
	"github.com/wfunc/ai-game-dev/internal/config"
	"github.com/wfunc/ai-game-dev/internal/database"
	"github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/game"
	"github.com/wfunc/ai-game-dev/internal/game/synth"
	"github.com/wfunc/ai-game-dev/internal/logger"
	"github.com/wfunc/ai-game-dev/internal/models"
	"github.com/wfunc/ai-game-dev/internal/service"
	"github.com/wfunc/ai-game-dev/internal/utils"
	"github.com/wfunc/ai-game-dev/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db         *gorm.DB
	process    *game.Process
	binding    *adapter.Binding
	services   *service.Services
	hub        *websocket.Hub
	httpServer *http.Server

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		adminToken  = flag.String("issue-admin-token", "", "为指定主体签发管理员令牌后退出")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	if *adminToken != "" {
		os.Exit(issueAdminToken(cfg, *adminToken))
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	setupSystem(&cfg.System)
	printStartInfo(cfg)

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动游戏生成服务...",
		zap.String("version", game.Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.String("backend", s.cfg.Generation.Backend),
	)

	if err := s.initComponents(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "初始化组件失败")
	}

	if err := s.startServices(); err != nil {
		return errors.Wrap(err, errors.ErrUnknown, "启动服务失败")
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.httpServer.Addr),
		zap.Bool("websocket", s.hub != nil),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if s.cfg.Database.Enabled {
		if err := s.initDatabase(); err != nil {
			return err
		}
	}

	if err := s.initProcess(); err != nil {
		return err
	}

	s.services = service.NewServices(s.db, s.cfg, s.logger)
	if s.services.History != nil {
		s.process.AddObserver(s.services.History)
	}

	if s.cfg.WebSocket.Enabled {
		s.hub = websocket.NewHub(logger.GetModuleLogger("websocket"))
		s.process.AddObserver(s.hub)
	}

	// 进程初始化失败不阻止服务启动，管理员可以通过接口重试
	if code := s.binding.Caller().Init(); code != adapter.InitOK {
		s.logger.Error("生成进程初始化失败", zap.Int("code", code))
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.db = database.GetDB()
	s.logger.Info("数据库初始化完成")
	return nil
}

// initProcess 创建生成进程和后端注册表
func (s *Server) initProcess() error {
	synths, err := newSynthRegistry(s.cfg, logger.GetModuleLogger("synth"))
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigValidate, "创建生成后端失败")
	}

	opts := game.OptionsFromConfig(s.cfg.Generation, synths, logger.GetModuleLogger("game"))
	opts.FS = afero.NewOsFs()
	s.process = game.NewProcess(opts)
	s.process.AddObserver(game.NewLogObserver(logger.GetModuleLogger("jobs")))
	s.binding = adapter.New(s.process, s.logger)

	s.logger.Info("生成后端", zap.Any("backends", synths.Backends()))
	return nil
}

// newSynthRegistry 内置模板兜底，openai 后端按配置覆盖引擎
func newSynthRegistry(cfg *config.Config, log *zap.Logger) (*synth.Registry, error) {
	tmpl, err := synth.NewTemplateSynthesizer()
	if err != nil {
		return nil, err
	}
	registry := synth.NewRegistry(tmpl)
	if cfg.Generation.Backend != "openai" {
		return registry, nil
	}

	remote, err := synth.NewOpenAISynthesizer(cfg.OpenAI, log)
	if err != nil {
		return nil, err
	}
	engines := cfg.OpenAI.Engines
	if len(engines) == 0 {
		engines = game.NewCatalog().SupportedEngines()
	}
	for _, name := range engines {
		registry.Register(models.Engine(name), remote)
	}
	return registry, nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	if s.cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if s.hub != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.hub.Run(s.ctx)
		}()
	}

	if s.services.History != nil && s.cfg.History.RetentionDays > 0 {
		s.wg.Add(1)
		go s.runHistoryCleanup()
	}

	router := api.NewRouter(api.Options{
		Process:    s.process,
		Binding:    s.binding,
		Services:   s.services,
		Hub:        s.hub,
		DB:         s.db,
		WebSocket:  s.cfg.WebSocket,
		BatchLimit: s.cfg.Generation.BatchLimit,
		Logger:     s.logger,
	})

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, errors.ErrUnknown, "监听 %s 失败", s.httpServer.Addr)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// runHistoryCleanup 每天清理一次过期历史
func (s *Server) runHistoryCleanup() {
	defer s.wg.Done()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if _, err := s.services.History.Cleanup(s.ctx, s.cfg.History.RetentionDays); err != nil && s.ctx.Err() == nil {
			s.logger.Error("清理生成历史失败", zap.Error(err))
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)

	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接收新请求
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 取消主上下文，触发所有goroutine退出
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return errors.New(errors.ErrTimeout, "关闭超时")
	}

	if err := s.closeComponents(); err != nil {
		s.logger.Error("关闭组件失败", zap.Error(err))
		return err
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// closeComponents 关闭组件，先停生成进程再写完历史
func (s *Server) closeComponents() error {
	s.logger.Info("关闭组件...")

	s.binding.Cleanup()
	s.services.Close()

	if s.db != nil {
		if err := database.Close(); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 重新加载配置，目前只应用日志级别
func (s *Server) reloadConfig(newCfg *config.Config) {
	s.cfg = newCfg
	logger.SetLevel(newCfg.Log.Level)
	s.logger.Info("配置重新加载完成", zap.String("log_level", logger.Level()))
}

// issueAdminToken 签发管理员令牌并打印
func issueAdminToken(cfg *config.Config, subject string) int {
	tokens := utils.NewJWTManager(
		cfg.Security.JWT.Secret,
		cfg.Security.JWT.Issuer,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour,
	)
	token, err := tokens.GenerateToken(subject, utils.RoleAdmin)
	if err != nil {
		fmt.Printf("签发令牌失败: %v\n", err)
		return 1
	}
	fmt.Println(token)
	return 0
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}

	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("AI游戏生成服务\n")
	fmt.Printf("版本: %s\n", game.Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("AI游戏生成服务")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  ai-game-dev-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  AI_GAME_DEV_OPENAI_API_KEY       模型后端密钥")
	fmt.Println("  AI_GAME_DEV_SECURITY_JWT_SECRET  管理员令牌签名密钥")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  ai-game-dev-server -config=/path/to/config.yaml")
	fmt.Println("  ai-game-dev-server -issue-admin-token=ops")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     AI 游戏生成服务")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("版本: %s | 模式: %s | 后端: %s | PID: %d\n",
		game.Version, cfg.Server.Mode, cfg.Generation.Backend, os.Getpid())
	fmt.Printf("配置文件: %s\n", config.ConfigFile())
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
