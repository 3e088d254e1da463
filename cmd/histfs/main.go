package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/outofforest/histfs/config"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file. Defaults are used if not set.")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}

	if err := run(cfg, logger, os.Stdin, os.Stdout, flag.Args()); err != nil {
		logger.Debug("Command failed", "command", flag.Arg(0), "error", fmt.Sprintf("%+v", err))
		fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(path)
}

func newLogger(cfg config.Logging) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if cfg.Format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	}
	return slog.New(log.NewWithOptions(os.Stderr, log.Options{
		Level:           log.Level(level),
		ReportTimestamp: true,
		Prefix:          "histfs",
	})), nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: histfs [flags] <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("mkfs"), color.CyanString("[-overwrite]"))
	fmt.Fprintf(os.Stderr, "  %s\n", color.GreenString("create"))
	fmt.Fprintf(os.Stderr, "  %s %s %s %s\n", color.GreenString("write"), color.CyanString("<ino>"),
		color.CyanString("<offset>"), color.CyanString("<data|->"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("cat"), color.CyanString("<ino>"))
	fmt.Fprintf(os.Stderr, "  %s %s %s\n", color.GreenString("truncate"), color.CyanString("<ino>"),
		color.CyanString("<size>"))
	fmt.Fprintf(os.Stderr, "  %s %s %s\n", color.GreenString("select"), color.CyanString("<ino>"),
		color.CyanString("<version>"))
	fmt.Fprintf(os.Stderr, "  %s %s %s\n", color.GreenString("restore"), color.CyanString("<ino>"),
		color.CyanString("<version>"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("release"), color.CyanString("<ino>"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("stat"), color.CyanString("<ino>"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("rm"), color.CyanString("<ino>"))
	fmt.Fprintf(os.Stderr, "  %s %s\n", color.GreenString("report"), color.CyanString("[-details] [-digests]"))
}
