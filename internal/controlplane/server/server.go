package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fieldbot/gofield/internal/alerts"
	"github.com/fieldbot/gofield/internal/fieldorder"
	"github.com/fieldbot/gofield/internal/scanner"
	"github.com/fieldbot/gofield/internal/storage"
)

var log = logrus.WithField("component", "server")

// Server 状态读取 HTTP 接口
//
// 只读为主：暴露订单表、成交历史、波动率候选与事件历史，供外围
// 面板或 curl 查看。唯一的写操作是手工触发扫描与撤单。
type Server struct {
	manager *fieldorder.Manager
	scanner *scanner.Scanner
	store   *storage.Store  // 可为 nil
	alerts  *alerts.Manager // 可为 nil
	httpSrv *http.Server
}

// New 创建服务
func New(manager *fieldorder.Manager, sc *scanner.Scanner, store *storage.Store, alertMgr *alerts.Manager) *Server {
	return &Server{
		manager: manager,
		scanner: sc,
		store:   store,
		alerts:  alertMgr,
	}
}

// Start 启动 HTTP 服务（非阻塞）
func (s *Server) Start(listen string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api/v1")
	{
		api.GET("/orders", s.handleOrders)
		api.GET("/orders/:id", s.handleOrder)
		api.POST("/orders/:id/retract", s.handleRetract)
		api.GET("/trades", s.handleTrades)
		api.GET("/volatility/:symbol", s.handleVolatility)
		api.GET("/events", s.handleEvents)
		api.POST("/scan", s.handleScan)
	}

	s.httpSrv = &http.Server{
		Addr:         listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Infof("状态接口已启动: http://%s", listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("状态接口异常退出: %v", err)
		}
	}()
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

func (s *Server) handleOrders(c *gin.Context) {
	orders := s.manager.Table().Snapshot()
	if c.Query("armed") == "true" {
		orders = s.manager.Table().Armed()
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) handleOrder(c *gin.Context) {
	id := c.Param("id")
	order, ok := s.manager.Table().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	exits := s.manager.Table().ExitsOf(id)
	c.JSON(http.StatusOK, gin.H{"order": order, "exits": exits})
}

func (s *Server) handleRetract(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if ok := s.manager.Retract(ctx, id); !ok {
		c.JSON(http.StatusConflict, gin.H{"retracted": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retracted": true})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []any{}, "count": 0})
		return
	}
	limit := queryInt(c, "limit", 100)
	trades, err := s.store.ListTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) handleVolatility(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"history": []any{}})
		return
	}
	symbol := c.Param("symbol")
	limit := queryInt(c, "limit", 100)
	history, err := s.store.ListVolatility(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "history": history})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": s.alerts.History()})
}

// handleScan 手工触发一次扫描（同步返回结果，不挂单）
func (s *Server) handleScan(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	var req struct {
		Symbols []string `json:"symbols"`
	}
	_ = c.ShouldBindJSON(&req)

	candidates, err := s.scanner.Scan(ctx, req.Symbols)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates, "count": len(candidates)})
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
