package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fieldbot/gofield/internal/alerts"
	"github.com/fieldbot/gofield/internal/controlplane/server"
	"github.com/fieldbot/gofield/internal/domain"
	"github.com/fieldbot/gofield/internal/events"
	"github.com/fieldbot/gofield/internal/exchange"
	"github.com/fieldbot/gofield/internal/exchange/candlecache"
	"github.com/fieldbot/gofield/internal/exchange/live"
	"github.com/fieldbot/gofield/internal/exchange/sim"
	"github.com/fieldbot/gofield/internal/fieldorder"
	"github.com/fieldbot/gofield/internal/scanner"
	"github.com/fieldbot/gofield/internal/services"
	"github.com/fieldbot/gofield/internal/storage"
	"github.com/fieldbot/gofield/pkg/config"
	"github.com/fieldbot/gofield/pkg/logger"
	"github.com/fieldbot/gofield/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.json），为空则使用默认配置")
	simulate := flag.Bool("simulate", false, "使用内置市场模拟器（不连接真实交易所）")
	seed := flag.Int64("seed", time.Now().UnixNano(), "模拟器随机种子")
	simVol := flag.Float64("sim-vol", 6.0, "模拟器每根K线的波动率（%）")
	dryRun := flag.Bool("dry-run", false, "纸交易模式：只扫描不挂单")
	flag.Parse()

	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
			os.Exit(1)
		}
	}
	if *dryRun {
		cfg.DryRun = true
	}
	applyEnv(cfg)
	config.Set(cfg)

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sd := shutdown.NewManager()

	// 选择网关：模拟器或真实连接器
	var gateway exchange.Gateway
	if *simulate {
		simulator := sim.New(*seed)
		gateway = simulator
		logger.Infof("模拟模式已启用: seed=%d vol=%.1f%%", *seed, *simVol)

		// 模拟行情按秒推进
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					simulator.Advance(*simVol)
				}
			}
		}()
	} else {
		var cache *candlecache.Cache
		if cfg.Storage.CandleCache != "" {
			var err error
			cache, err = candlecache.Open(cfg.Storage.CandleCache)
			if err != nil {
				logger.Errorf("打开K线缓存失败: %v", err)
				os.Exit(1)
			}
			sd.OnShutdown("candlecache", func(context.Context) { _ = cache.Close() })
		}

		client := live.NewClient(live.Options{
			RestURL:     cfg.Exchange.RestURL,
			APIKey:      cfg.Exchange.APIKey,
			APISecret:   cfg.Exchange.APISecret,
			Passphrase:  cfg.Exchange.APIPass,
			Sandbox:     cfg.Exchange.Sandbox,
			Timeout:     time.Duration(cfg.Exchange.TimeoutMs) * time.Millisecond,
			CandleCache: cache,
			CacheTTL:    time.Duration(cfg.Storage.CacheTTLSecs) * time.Second,
		})
		if cfg.Exchange.WsURL != "" && len(cfg.Scanner.Symbols) > 0 {
			stream := live.NewTickerStream(cfg.Exchange.WsURL, cfg.Scanner.Symbols)
			stream.Start(ctx)
			client.AttachStream(stream)
			sd.OnShutdown("stream", func(context.Context) { stream.Stop() })
		}
		gateway = client
	}

	// 持久化
	var store *storage.Store
	if cfg.Storage.DBPath != "" {
		var err error
		store, err = storage.Open(cfg.Storage.DBPath)
		if err != nil {
			logger.Errorf("打开数据库失败: %v", err)
			os.Exit(1)
		}
		sd.OnShutdown("storage", func(context.Context) { _ = store.Close() })
	}

	// 事件管线：告警 + 落库
	// storage sink 需要从订单表取完整订单，而订单表属于 manager；
	// 用闭包晚绑定打破构造顺序依赖
	var mgr *fieldorder.Manager
	alertMgr := alerts.NewManager()
	sinks := events.MultiSink{alertMgr}
	if store != nil {
		sinks = append(sinks, storage.NewSink(store, func(orderID string) (domain.Order, bool) {
			if mgr == nil {
				return domain.Order{}, false
			}
			return mgr.Table().Get(orderID)
		}))
	}

	var err error
	mgr, err = fieldorder.New(gateway, fieldorder.Config{
		DiscountPct: cfg.Order.DiscountPct,
		ProfitTiers: cfg.Order.ProfitTiers,
		TierWeights: cfg.Order.TierWeights,
	}, sinks)
	if err != nil {
		logger.Errorf("创建订单管理器失败: %v", err)
		os.Exit(1)
	}

	sc, err := scanner.New(gateway, scanner.Config{
		MinVolatilityPct: cfg.Scanner.MinVolatilityPct,
		WindowMinutes:    cfg.Scanner.WindowMinutes,
	})
	if err != nil {
		logger.Errorf("创建扫描器失败: %v", err)
		os.Exit(1)
	}

	runner := services.NewRunner(gateway, sc, mgr, store, cfg)
	runner.Start(ctx)
	sd.OnShutdown("runner", func(context.Context) { runner.Stop() })

	if cfg.Server.Enabled {
		srv := server.New(mgr, sc, store, alertMgr)
		if err := srv.Start(cfg.Server.Listen); err != nil {
			logger.Errorf("启动状态接口失败: %v", err)
			os.Exit(1)
		}
		sd.OnShutdown("server", func(ctx context.Context) { _ = srv.Shutdown(ctx) })
	}

	logger.Info("机器人已启动，Ctrl+C 退出")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("收到退出信号，开始优雅关闭")
	cancel()
	sdCtx, sdCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sdCancel()
	sd.Shutdown(sdCtx)
}

// applyEnv 环境变量覆盖凭证（避免写进配置文件）
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("EXCHANGE_API_PASSPHRASE"); v != "" {
		cfg.Exchange.APIPass = v
	}
}
