package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/vmhost/host"
	"github.com/inference-sim/vmhost/host/script"
	"github.com/inference-sim/vmhost/host/trace"
)

var (
	// CLI flags for the run command
	logLevel        string        // Log verbosity level
	configPath      string        // Optional YAML host configuration
	preemptInterval time.Duration // Preemption timer period
	spoolDir        string        // Directory watched for new images
	printMetrics    bool          // Print the metrics report at exit
	traceLevel      string        // Lifecycle trace verbosity
	evalSources     []string      // Inline YAML programs

	// CLI flags for the compile command
	compileOutput string // Output image path
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "vmhost",
	Short: "Host and schedule isolated VM instances in one process",
}

// runCmd boots the given images and runs until the last instance dies
var runCmd = &cobra.Command{
	Use:   "run [image-url...]",
	Short: "Boot VM instances and run them to completion",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		fileCfg := HostConfig{}
		if configPath != "" {
			fileCfg, err = loadHostConfig(configPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			if fileCfg.LogLevel != "" && !cmd.Flags().Changed("log") {
				level, err := logrus.ParseLevel(fileCfg.LogLevel)
				if err != nil {
					logrus.Fatalf("Invalid log level in %s: %s", configPath, fileCfg.LogLevel)
				}
				logrus.SetLevel(level)
			}
		}

		opts := resolveRunOptions(cmd, fileCfg, args)
		if err := opts.Config.Validate(); err != nil {
			logrus.Fatalf("%v", err)
		}
		if !trace.IsValidTraceLevel(string(opts.TraceLevel)) {
			logrus.Fatalf("Unknown trace level: %s", opts.TraceLevel)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logrus.Infof("Starting host with %d instance(s), preempt interval %v", len(opts.Instances), opts.Config.PreemptInterval)
		code, err := runHost(ctx, opts, script.Factory(), os.Stdout, os.Exit)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Info("Host stopped.")
		os.Exit(code)
	},
}

// resolveRunOptions merges the config file with flags; flags win when set.
func resolveRunOptions(cmd *cobra.Command, fileCfg HostConfig, args []string) runOptions {
	opts := runOptions{
		Config:     fileCfg.hostConfig(),
		Instances:  append([]InstanceSpec(nil), fileCfg.Instances...),
		Spool:      fileCfg.Spool,
		Metrics:    fileCfg.Metrics,
		TraceLevel: trace.TraceLevel(fileCfg.Trace),
		ExitOnLast: fileCfg.exitOnLast(),
	}
	flags := cmd.Flags()
	if flags.Changed("preempt-interval") {
		opts.Config.PreemptInterval = preemptInterval
	}
	if flags.Changed("spool") {
		opts.Spool = spoolDir
	}
	if flags.Changed("metrics") {
		opts.Metrics = printMetrics
	}
	if flags.Changed("trace") {
		opts.TraceLevel = trace.TraceLevel(traceLevel)
	}
	for _, url := range args {
		opts.Instances = append(opts.Instances, InstanceSpec{Program: url, URL: true})
	}
	for _, src := range evalSources {
		opts.Instances = append(opts.Instances, InstanceSpec{Program: src})
	}
	return opts
}

// compileCmd turns a YAML script into a bootable image
var compileCmd = &cobra.Command{
	Use:   "compile <script.yaml>",
	Short: "Compile a YAML script into a packed image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out := compileOutput
		if out == "" {
			out = imagePath(args[0])
		}
		n, err := compileImage(args[0], out)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		fmt.Printf("wrote %s (%d instructions)\n", out, n)
	},
}

// inspectCmd prints an image's header and program listing
var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Describe a packed image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := inspectImage(args[0], os.Stdout); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML host configuration")
	runCmd.Flags().DurationVar(&preemptInterval, "preempt-interval", host.DefaultPreemptInterval, "Preemption timer period")
	runCmd.Flags().StringVar(&spoolDir, "spool", "", "Boot every *.img file created in this directory")
	runCmd.Flags().BoolVar(&printMetrics, "metrics", false, "Print the host metrics report at exit")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Lifecycle trace level (none, lifecycle, messages)")
	runCmd.Flags().StringArrayVar(&evalSources, "eval", nil, "Inline YAML program to boot (repeatable)")

	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "", "Output image path (default: script name with .img)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(inspectCmd)
}
