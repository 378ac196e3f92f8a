// =============================================================================
// ragcore 主入口
// =============================================================================
// 命令行入口：文档入库、问答、数据库迁移
//
// 使用方法:
//
//	ragcore ingest --config config.yaml docs/*.md   # 入库文档
//	ragcore query "what is a goroutine?"            # 问答
//	ragcore query --stream --session s1 "..."       # 流式问答，记录会话
//	ragcore migrate up                              # 运行数据库迁移
//	ragcore version                                 # 显示版本信息
// =============================================================================

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/ragcore/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ragcore %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ragcore - retrieval-augmented generation toolkit

Usage:
  ragcore <command> [options]

Commands:
  ingest    Chunk, embed and store documents
  query     Ask a question against the knowledge base
  migrate   Database migration commands
  version   Show version information
  help      Show this help message

Options for 'ingest':
  --config <path>   Path to configuration file (YAML)
  --id <id>         Document id (single file only; default: file path)
  --kind <kind>     Document kind: text, markdown, html, code (default: by extension)

Options for 'query':
  --config <path>   Path to configuration file (YAML)
  --session <id>    Conversation session id
  --strategy <s>    Retrieval strategy: semantic, keyword, hybrid
  --top-k <n>       Number of passages to retrieve
  --load <files>    Comma-separated files to ingest before querying
  --stream          Stream the answer as it is generated
  --json            Print the full result as JSON

Examples:
  ragcore ingest --config /etc/ragcore/config.yaml README.md docs/guide.md
  ragcore query --top-k 3 "how does hybrid retrieval work?"
  ragcore query --load notes.md --stream "summarize my notes"
  ragcore migrate up
  ragcore version`)
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: encoding == "console",
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
