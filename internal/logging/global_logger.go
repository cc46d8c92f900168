package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/clipify/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// MainLogFile is the name of the active rotating log file.
const MainLogFile = "main.log"

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter defines a custom log format for logrus.
// Format: [2025-12-23 20:14:04] [a1b2c3d4] [debug] [session.go:524] refreshed token status=authenticated
type LogFormatter struct{}

// logFieldOrder defines the display order for the fields the formatter prints.
var logFieldOrder = []string{"component", "status", "store", "attempt", "kind", "url", "error"}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	} else if entry.Context != nil {
		if id := GetRequestID(entry.Context); id != "" {
			reqID = id
		}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] [%s:%d] %s%s\n", timestamp, reqID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] %s%s\n", timestamp, reqID, levelStr, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			format = strings.TrimRight(format, "\r\n")
			log.StandardLogger().Debugf(format, values...)
		}

		log.RegisterExitHandler(CloseLogOutputs)
	})
}

// SetLogLevel switches logrus between debug and info according to cfg.Debug.
func SetLogLevel(cfg *config.Config) {
	newLevel := log.InfoLevel
	if cfg != nil && cfg.Debug {
		newLevel = log.DebugLevel
	}
	if current := log.GetLevel(); current != newLevel {
		log.SetLevel(newLevel)
		log.Debugf("log level changed from %s to %s", current, newLevel)
	}
}

// ResolveLogDirectory returns the log directory for a data dir.
func ResolveLogDirectory(dataDir string) string {
	if strings.TrimSpace(dataDir) == "" {
		return "logs"
	}
	return filepath.Join(dataDir, "logs")
}

// ConfigureLogOutput switches the global log destination between a rotating file
// under dataDir/logs and stdout. When LogsMaxTotalSizeMB > 0, a background cleaner
// removes the oldest log files until the directory fits the limit.
func ConfigureLogOutput(cfg *config.Config, dataDir string) error {
	SetupBaseLogger()
	SetLogLevel(cfg)

	writerMu.Lock()
	defer writerMu.Unlock()

	logDir := ResolveLogDirectory(dataDir)

	activePath := ""
	if cfg.LoggingToFile {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		if logWriter != nil {
			_ = logWriter.Close()
		}
		activePath = filepath.Join(logDir, MainLogFile)
		logWriter = &lumberjack.Logger{
			Filename:   activePath,
			MaxSize:    10,
			MaxBackups: 3,
			Compress:   true,
		}
		log.SetOutput(logWriter)
	} else {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
		}
		log.SetOutput(os.Stdout)
	}

	restartCleanerLocked(logDir, cfg.LogsMaxTotalSizeMB, activePath)
	return nil
}

// CloseLogOutputs flushes and closes the file writer, Gin pipes and the cleaner.
func CloseLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	stopCleanerLocked()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
		log.SetOutput(os.Stdout)
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
