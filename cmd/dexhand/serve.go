package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gwillem/dexhand/pkg/api"
)

type ServeCommand struct {
	Addr string `long:"addr" description:"Listen address (default from config)"`
	Dir  string `long:"dir" description:"Recordings directory (default from config)"`
}

func (c *ServeCommand) Execute(args []string) error {
	e, cfg, log, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	addr := c.Addr
	if addr == "" {
		addr = cfg.API.Addr
	}
	dir := c.Dir
	if dir == "" {
		dir = cfg.Recording.Dir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(e, dir, log).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
