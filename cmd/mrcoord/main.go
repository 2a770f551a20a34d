// Command mrcoord runs the MapReduce coordination core: a master that
// schedules map and reduce tasks across registered workers, or a
// worker that executes them, wired here with a word-count program as
// the teacher's example/ harness did.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	mapreduce "mrcoord"
)

var (
	configPath  string
	sharedDir   string
	port        int
	metricsPort int
	mapTasks    int
	reduceTasks int
)

func main() {
	root := &cobra.Command{
		Use:   "mrcoord",
		Short: "MapReduce coordination core: master and worker roles",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")

	master := masterCommand()
	slave := slaveCommand()
	serial := serialCommand()
	mockParallel := mockParallelCommand()

	root.AddCommand(master, slave, serial, mockParallel)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func masterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master [input files...]",
		Short: "Run the master, scheduling tasks over a word-count job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigWithFlags()
			nparts := cfg.ReduceTasks
			if nparts == 0 {
				nparts = len(args)
			}
			program := wordCountProgram(nparts, cfg.Shared)

			reg := prometheus.NewRegistry()
			m := mapreduce.NewMaster(program, cfg, reg)
			program.Driver(m.Job, args)

			addr := fmt.Sprintf(":%d", cfg.Port)
			server := mapreduce.NewRPCServer(addr)
			if err := server.Start(m); err != nil {
				return err
			}
			defer server.Stop()

			metricsAddr := fmt.Sprintf(":%d", cfg.MetricsPort)
			metricsSrv := mapreduce.ServeMetrics(cmd.Context(), metricsAddr, reg)
			defer metricsSrv.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if err := m.Run(ctx); err != nil {
				if err == context.Canceled {
					m.Quit()
				}
				return err
			}

			terminal := m.Job.Datasets()[len(m.Job.Datasets())-1]
			m.Merge(terminal, filepath.Join(cfg.Shared, "result", "mrt.result.txt"))
			m.Quit()
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "RPC listen port (overrides config)")
	cmd.Flags().StringVar(&sharedDir, "shared", "", "shared-storage directory for dataset outputs")
	cmd.Flags().IntVarP(&mapTasks, "map-tasks", "M", 0, "number of map tasks")
	cmd.Flags().IntVarP(&reduceTasks, "reduce-tasks", "R", 0, "number of reduce tasks")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Prometheus metrics port (overrides config)")
	return cmd
}

func slaveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slave <server>",
		Short: "Run a worker, signing in to the given master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigWithFlags()
			program := wordCountProgram(0, "")

			listenAddr := ":0"
			w := mapreduce.NewWorkerProcess(program, args[0], listenAddr, cfg)

			ctx, cancel := signalContext()
			defer cancel()
			return w.Run(ctx)
		},
	}
	return cmd
}

// serialCommand runs one map stage and one reduce stage synchronously
// in-process, without any RPC, for quick local verification — the
// degenerate single-machine mode the teacher's Sequential() provided.
func serialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial [input files...]",
		Short: "Run a word-count job synchronously in one process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigWithFlags()
			mapFn := wordCountMap
			reduceFn := wordCountReduce
			nparts := len(args)

			intermediate := make([][]string, nparts)
			for i, file := range args {
				urls, err := mapreduce.RunMap(mapFn, mapreduce.DefaultPartition, i, []string{file}, nparts, cfg.Shared, "serial")
				if err != nil {
					return err
				}
				intermediate[i] = urls
			}

			var reduceInputs []string
			for p := 0; p < nparts; p++ {
				for _, urls := range intermediate {
					if p < len(urls) {
						reduceInputs = append(reduceInputs, urls[p])
					}
				}
			}

			outURLs, err := mapreduce.RunReduce(reduceFn, 0, reduceInputs, cfg.Shared, "serial")
			if err != nil {
				return err
			}
			fmt.Println("serial run wrote:", strings.Join(outURLs, ", "))
			return nil
		},
	}
	return cmd
}

// mockParallelCommand runs a master and N in-process worker goroutines
// talking over real TCP loopback connections, for exercising the full
// RPC surface without spawning separate OS processes.
func mockParallelCommand() *cobra.Command {
	var numWorkers int
	var mockPort int
	cmd := &cobra.Command{
		Use:   "mockparallel [input files...]",
		Short: "Run a master and N in-process workers over loopback TCP",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigWithFlags()
			if mockPort != 0 {
				cfg.Port = mockPort
			}
			nparts := len(args)
			program := wordCountProgram(nparts, cfg.Shared)

			reg := prometheus.NewRegistry()
			m := mapreduce.NewMaster(program, cfg, reg)
			program.Driver(m.Job, args)

			addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
			server := mapreduce.NewRPCServer(addr)
			if err := server.Start(m); err != nil {
				return err
			}
			defer server.Stop()

			ctx, cancel := signalContext()
			defer cancel()

			for i := 0; i < numWorkers; i++ {
				w := mapreduce.NewWorkerProcess(program, addr, "127.0.0.1:0", cfg)
				go w.Run(ctx)
			}

			if err := m.Run(ctx); err != nil {
				if err == context.Canceled {
					m.Quit()
				}
				return err
			}
			terminal := m.Job.Datasets()[len(m.Job.Datasets())-1]
			m.Merge(terminal, filepath.Join(cfg.Shared, "result", "mrt.result.txt"))
			m.Quit()
			return nil
		},
	}
	cmd.Flags().IntVar(&numWorkers, "workers", 2, "number of in-process workers to start")
	cmd.Flags().IntVar(&mockPort, "port", 7707, "RPC listen port")
	cmd.Flags().StringVar(&sharedDir, "shared", "", "shared-storage directory for dataset outputs")
	return cmd
}

func loadConfigWithFlags() *mapreduce.Config {
	cfg, err := mapreduce.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed, using defaults:", err)
		cfg = mapreduce.DefaultConfig()
	}
	if port != 0 {
		cfg.Port = port
	}
	if metricsPort != 0 {
		cfg.MetricsPort = metricsPort
	}
	if sharedDir != "" {
		cfg.Shared = sharedDir
	}
	if mapTasks != 0 {
		cfg.MapTasks = mapTasks
	}
	if reduceTasks != 0 {
		cfg.ReduceTasks = reduceTasks
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}

// wordCountMap splits a line of text into lowercase words, each
// emitted with a count of one.
func wordCountMap(_ string, value string) []mapreduce.KeyValue {
	var out []mapreduce.KeyValue
	for _, word := range strings.Fields(value) {
		out = append(out, mapreduce.KeyValue{Key: strings.ToLower(word), Value: "1"})
	}
	return out
}

// wordCountReduce sums the per-word counts emitted by wordCountMap.
func wordCountReduce(_ string, values []string) string {
	return strconv.Itoa(len(values))
}

// wordCountProgram builds the Program a master and worker both need to
// agree on at Signin: a registry naming the map/reduce callables, and
// a driver that declares a one map stage, one reduce stage graph
// fanning out to nparts reduce tasks under shared. nparts and shared
// are irrelevant to a worker (only the registry fingerprint matters
// for Signin), so a worker may pass zero values.
func wordCountProgram(nparts int, shared string) *mapreduce.Program {
	registry := mapreduce.NewRegistry()
	registry.Add("wordcount.map", mapreduce.MapFunc(wordCountMap), "wordcount.map.v1")
	registry.Add("wordcount.reduce", mapreduce.ReduceFunc(wordCountReduce), "wordcount.reduce.v1")

	return &mapreduce.Program{
		Registry:   registry,
		SourceHash: mapreduce.HashSource("wordcount.map.v1;wordcount.reduce.v1"),
		Driver: func(job *mapreduce.Job, input []string) {
			mapData := job.MapData(mapreduce.FileInput(input), "wordcount.map", "default", len(input), nparts, shared, "wc")
			job.ReduceData(mapreduce.FromDataset(mapData), "wordcount.reduce", "default", nparts, 1, shared, "wc")
		},
	}
}
