package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tacbridge.ai/internal/config"
	"tacbridge.ai/internal/director"
)

func main() {
	logger := log.New(os.Stdout, "[director] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.ParseDirector(flag.CommandLine, os.Args[1:])
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	book, err := director.LoadPlaybook(cfg.Playbook)
	if err != nil {
		logger.Fatalf("load playbook: %v", err)
	}
	if len(book.Rules) == 0 {
		logger.Printf("no playbook rules; every reply holds current state")
	}

	opts := director.Options{Validate: cfg.Validate, Debug: cfg.Debug}
	if cfg.LLM.Enabled() {
		llm, err := director.NewLLMClient(director.LLMConfig{
			BaseURL:     cfg.LLM.URL,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLM.Timeout,
			Temperature: cfg.LLM.Temperature,
			ContextSize: cfg.LLM.ContextSize,
		})
		if err != nil {
			logger.Fatalf("llm: %v", err)
		}
		if !llm.Ping(context.Background()) {
			logger.Printf("llm %s not reachable at %s; playbook answers until it is", cfg.LLM.Model, cfg.LLM.URL)
		}
		opts.Model = llm
	}
	svc := director.New(book, logger, opts)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (%d rules, validate=%v)", cfg.Addr, len(book.Rules), cfg.Validate)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("listen: %v", err)
	}
	st := svc.Stats()
	logger.Printf("shutdown: %d requests, %d errors, %d fallbacks, %d model errors", st.Requests, st.Errors, st.Fallbacks, st.ModelErrors)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
