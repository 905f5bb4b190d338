package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/agentboard/api"
	"github.com/xiaot623/agentboard/clock"
	"github.com/xiaot623/agentboard/config"
	"github.com/xiaot623/agentboard/hub"
	"github.com/xiaot623/agentboard/parser"
	"github.com/xiaot623/agentboard/persist"
	"github.com/xiaot623/agentboard/scheduler"
	"github.com/xiaot623/agentboard/store"
	"github.com/xiaot623/agentboard/tracker"
	"github.com/xiaot623/agentboard/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting agentboard...")
	log.Printf("HTTP Port: %d", cfg.Port)
	log.Printf("Snapshot: %s", cfg.SnapshotPath)

	clk := clock.Real()

	// Initialize store and restore the previous snapshot. Records
	// left running by a dead process are relabeled during Load.
	recordStore := store.New(cfg.MessageLogCap, clk.Now)
	if err := persist.Load(cfg.SnapshotPath, recordStore); err != nil {
		log.Printf("WARN: snapshot load failed, starting empty: %v", err)
	}

	// Initialize broadcaster
	changeHub := hub.NewHub()
	go changeHub.Run()

	// Initialize snapshot writer
	writer := persist.NewWriter(func() error {
		return persist.Save(cfg.SnapshotPath, recordStore)
	}, time.Second)

	// Initialize tracker and scheduler; the two cross-reference via
	// hooks, so the scheduler is created first with a late-bound
	// reset.
	var trk *tracker.Tracker
	sched := scheduler.New(clk, recordStore, cfg, scheduler.Hooks{
		OnChange: func() {
			changeHub.Notify()
			writer.Request()
		},
		SaveNow: writer.SaveNow,
		Reset:   func() bool { return trk.ResetIfIdle() },
	})
	trk = tracker.New(recordStore, parser.V1{}, cfg, tracker.Hooks{
		Broadcast:     changeHub.Notify,
		RequestSave:   writer.Request,
		ScheduleReset: sched.ScheduleReset,
		CancelReset:   sched.CancelReset,
	})

	// The pending-reset decision is re-derived from loaded state, not
	// restored: downtime says nothing about the new process's
	// liveness window.
	if recordStore.Summary().Total > 0 && recordStore.RunningCount() == 0 {
		sched.ScheduleReset()
	}

	schedCtx, stopSched := context.WithCancel(context.Background())
	go sched.Run(schedCtx)

	// Initialize handlers
	pushServer := ws.NewServer(changeHub)
	h := api.NewHandler(recordStore, trk, changeHub, pushServer, cfg)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %d", cfg.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agentboard...")

	stopSched()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	// Final snapshot write
	writer.Close()

	log.Println("agentboard stopped")
}
