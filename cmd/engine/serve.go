package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mallku/internal/bus"
	"mallku/internal/detectors"
	"mallku/internal/events"
	"mallku/internal/middleware"
	"mallku/internal/observability"
	"mallku/internal/scheduler"
	ws "mallku/internal/websocket"
)

// detectorNames is the fixed list of detector types one tick invokes,
// sampled once at startup for span recording since correlation.Engine does
// not expose its configured detector slice directly.
func detectorNames() []string {
	all := detectors.All()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = string(d.PatternType())
	}
	return names
}

// maintenanceInterval is how often each background job runs; the
// specification leaves the exact cadence to the implementation, so all
// three share one interval tunable by a single env var.
func maintenanceInterval() time.Duration {
	if raw := os.Getenv("MALLKU_MAINTENANCE_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return 5 * time.Minute
}

// tickInterval is how often the tick lane drains the ingest queue and runs
// one process() call, independent of how the maintenance lane is paced.
func tickInterval() time.Duration {
	if raw := os.Getenv("MALLKU_TICK_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return 10 * time.Second
}

// runServe implements `engine serve`: build the full engine graph, start
// the tick driver and maintenance lane, mount the optional HTTP/websocket
// surface, and block until SIGINT/SIGTERM, shutting every piece down in
// reverse order. Grounded on the teacher's cmd/ares/main.go (gin.New + cors
// + auth middleware, a goroutine-driven websocket hub, context-cancelled
// background schedulers, and an http.Server graceful shutdown sequence).
func runServe() error {
	st, err := buildStack()
	if err != nil {
		return err
	}

	otelShutdown, err := observability.SetupOTelSDK(context.Background())
	if err != nil {
		st.log.Warn("otel setup failed, continuing without tracing", "error", err.Error())
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		ctxOtel, cancelOtel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelOtel()
		_ = otelShutdown(ctxOtel)
	}()

	eventBus := bus.NewRedisBus(st.cfg.RedisAddr, st.log)
	defer eventBus.Close()

	hub := ws.NewHub()
	go hub.Run()
	st.emergence = newEmergenceRegistry(hub, eventBus)

	st.engine.Subscribe(func(c *detectors.Correlation, confidence float64, factors map[string]float64) {
		hub.BroadcastCorrelationAccepted(c.CorrelationID.String(), string(c.PatternType), confidence, c.OccurrenceFrequency)
		_ = eventBus.Publish(bus.TopicCorrelationAccepted, map[string]interface{}{
			"correlation_id": c.CorrelationID.String(),
			"pattern_type":   string(c.PatternType),
			"confidence":     confidence,
			"factors":        factors,
		})
	})

	queue := newIngestQueue()
	lane := scheduler.NewTickLane(func(ctx context.Context) ([]*detectors.Correlation, error) {
		return st.engine.Process(ctx, time.Now(), queue.drain())
	})

	ctx, cancel := context.WithCancel(context.Background())
	go runTickDriver(ctx, st, lane)

	jobs := []scheduler.MaintenanceJob{
		scheduler.EvolutionSweepJob(maintenanceInterval(), st.library, st.evolution),
		scheduler.WisdomPromotionJob(maintenanceInterval(), st.library, st.wisdom, 0.6),
		scheduler.FeedbackFlushJob(maintenanceInterval(), st.engine),
	}
	maintenance := scheduler.NewMaintenanceLane(jobs, 2, func(name string, err error) {
		st.log.Warn("maintenance job failed", "job", name, "error", err.Error())
	})
	maintenance.Start(ctx)

	router := newRouter(st, queue, hub)
	srv := &http.Server{
		Addr:           ":" + st.cfg.Port,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			st.log.Error("http server stopped unexpectedly", err)
		}
	}()
	st.log.Info("engine serving", "port", st.cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	st.log.Info("shutting down")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		st.log.Warn("http server forced shutdown", "error", err.Error())
	}

	maintenance.Stop()
	cancel()

	return st.saveThresholds()
}

// runTickDriver fires one tick every tickInterval, submitted non-blocking so
// a tick still running past its soft cap (spec §5, 2s) is simply skipped
// for that interval rather than piling up queued ticks.
func runTickDriver(ctx context.Context, st *stack, lane *scheduler.TickLane[[]*detectors.Correlation]) {
	ticker := time.NewTicker(tickInterval())
	defer ticker.Stop()
	names := detectorNames()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			accepted, err := lane.Submit(ctx, true)
			end := time.Now()
			if err != nil {
				if err != scheduler.ErrTickBusy {
					st.log.Warn("tick failed", "error", err.Error())
				}
				if st.obsSpans != nil && err != scheduler.ErrTickBusy {
					st.obsSpans.RecordTick(uuid.New().String(), start, end, names, 0, "error")
				}
				continue
			}
			if st.obsMetrics != nil {
				st.obsMetrics.RecordHistogram("tick_duration_ms", float64(end.Sub(start).Milliseconds()), nil)
				st.obsMetrics.RecordGauge("tick_correlations_accepted", float64(len(accepted)), nil)
			}
			if st.obsSpans != nil {
				st.obsSpans.RecordTick(uuid.New().String(), start, end, names, len(accepted), "ok")
			}
		case <-ctx.Done():
			return
		}
	}
}

// newRouter assembles the optional HTTP surface: a public health check, a
// JWT-guarded status/events/feedback/export-state group for dashboards, an
// API-key-guarded operational reset endpoint, and a websocket upgrade
// route backed by hub.
func newRouter(st *stack, queue *ingestQueue, hub *ws.Hub) *gin.Engine {
	gin.SetMode(st.cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stats": st.engine.Stats()})
	})

	r.GET("/ws", func(c *gin.Context) {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := ws.NewClient(hub, conn)
		hub.RegisterClient(client)
		go client.WritePump()
		go client.ReadPump()
	})

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware())
	{
		authed.GET("/status", func(c *gin.Context) {
			body := gin.H{
				"stats":                st.engine.Stats(),
				"confidence_threshold": st.engine.Thresholds().ConfidenceThreshold,
				"frequency_threshold":  st.engine.Thresholds().FrequencyThreshold,
				"scorer_weights":       st.engine.Scorer().Weights(),
			}
			if st.obsSpans != nil {
				if recent, err := st.obsSpans.RecentTicks(20); err == nil {
					body["recent_ticks"] = recent
				}
			}
			if st.obsMetrics != nil {
				if recent, err := st.obsMetrics.QueryRecent("tick_duration_ms", 20); err == nil {
					body["recent_tick_durations"] = recent
				}
			}
			c.JSON(http.StatusOK, body)
		})

		authed.POST("/events", func(c *gin.Context) {
			var batch []events.Event
			if err := c.ShouldBindJSON(&batch); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event batch"})
				return
			}
			ptrs := make([]*events.Event, len(batch))
			for i := range batch {
				ptrs[i] = &batch[i]
			}
			queue.push(ptrs)
			c.JSON(http.StatusAccepted, gin.H{"queued": len(ptrs)})
		})

		authed.POST("/feedback", func(c *gin.Context) {
			var rec feedbackRecord
			if err := c.ShouldBindJSON(&rec); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed feedback record"})
				return
			}
			f, err := rec.toFeedback()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := st.engine.AddFeedback(f); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		})

		authed.GET("/export-state", func(c *gin.Context) {
			th := st.engine.Thresholds()
			windows := make(map[string]string, len(th.TemporalWindows))
			for precision, d := range th.TemporalWindows {
				windows[string(precision)] = d.String()
			}
			c.JSON(http.StatusOK, stateExport{
				ExportedAt:          time.Now(),
				ConfidenceThreshold: th.ConfidenceThreshold,
				FrequencyThreshold:  th.FrequencyThreshold,
				TemporalWindows:     windows,
				LearningRate:        th.LearningRate,
				TargetPrecision:     th.TargetPrecision,
				TargetRecall:        th.TargetRecall,
				ScorerWeights:       st.engine.Scorer().Weights(),
				PerformanceSamples:  len(th.PerformanceHistory),
				FeedbackSamples:     len(th.FeedbackHistory),
			})
		})

		registerDialogueRoutes(authed, st)
	}

	admin := r.Group("/admin")
	admin.Use(middleware.EngineAPIKeyMiddleware())
	{
		admin.GET("/logs", func(c *gin.Context) {
			if st.obsLogs == nil {
				c.JSON(http.StatusOK, gin.H{"records": []interface{}{}})
				return
			}
			records, err := st.obsLogs.QueryLogs(c.Request.Context(), c.Query("service"), c.Query("level"), c.Query("event_type"), 100)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"records": records})
		})

		admin.POST("/reset-learning", func(c *gin.Context) {
			st.engine.Scorer().ResetToDefault()
			st.engine.Thresholds().Reset()
			if err := st.saveThresholds(); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "reset"})
		})
	}

	return r
}
