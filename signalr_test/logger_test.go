package signalr_test

import (
	"encoding/json"
	"io"
	"os"

	"github.com/go-kit/log"

	"github.com/wsrpc/signalr-client"
)

type loggerConfig struct {
	Enabled bool
	Debug   bool
}

var lConf loggerConfig

var tLog signalr.StructuredLogger

func testLoggerOption() signalr.Option {
	testLogger()
	return signalr.Logger(tLog, lConf.Debug)
}

func testLogger() signalr.StructuredLogger {
	if tLog == nil {
		lConf = loggerConfig{Enabled: false, Debug: false}
		b, err := os.ReadFile("../testLogConf.json")
		if err == nil {
			err = json.Unmarshal(b, &lConf)
			if err != nil {
				lConf = loggerConfig{Enabled: false, Debug: false}
			}
		}
		writer := io.Discard
		if lConf.Enabled {
			writer = os.Stderr
		}
		tLog = log.NewLogfmtLogger(log.NewSyncWriter(writer))
	}
	return tLog
}
