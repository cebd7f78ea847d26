package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chatcord/internal/api"
	"chatcord/internal/auth"
	"chatcord/internal/config"
	"chatcord/internal/directory"
	"chatcord/internal/session"
	"chatcord/internal/store"
	"chatcord/internal/transport"
	"chatcord/internal/ui"
	"chatcord/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Open the local state store
	st, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open state store: %v", err)
	}
	defer st.Close()

	// Initialize services
	authService := auth.NewService(st, nil)
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, authService.Token)
	authService.SetAPI(apiClient)

	dir := directory.New(apiClient)
	term := ui.NewTerminal(os.Stdin, os.Stdout, apiClient, authService, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authenticate before anything touches the network channel
	sess, err := term.RunLogin(ctx)
	if err != nil {
		logger.Fatal("Login aborted: %v", err)
	}

	// Initialize the real-time channel and coordinator
	socket := transport.NewClient(transport.Options{
		URL:          cfg.Socket.URL,
		WriteTimeout: cfg.Socket.WriteTimeout,
		PongTimeout:  cfg.Socket.PongTimeout,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		BaseDelay:    cfg.Reconnect.BaseDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
	})

	coord := session.NewCoordinator(socket, st, dir, term)
	term.Bind(coord)

	if err := coord.Start(sess.Token); err != nil {
		// Non-fatal: the UI works from cache and the user can
		// /reconnect once the server is reachable.
		logger.Error("Could not connect to chat server: %v", err)
	}
	defer coord.Stop()

	// Shut down cleanly on interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down...")
		coord.Stop()
		st.Close()
		os.Exit(0)
	}()

	term.Run(ctx)
}
