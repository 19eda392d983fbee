package main

import (
	"go.uber.org/zap"

	"github.com/digital-carver/keepass2/cmd"
)

func main() {
	cmd.Execute()
	// flush any buffered logs from the root logger
	_ = zap.L().Sync()
}
