package main

import (
	"context"
	"os"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Infof("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		logs.Errorf("spotledger: %+v", err)
		cancel()
		os.Exit(1)
	}
}
