// Package main is the entry point for the entlink CLI.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/TFMV/entlink/api"
	"github.com/TFMV/entlink/config"
	"github.com/TFMV/entlink/internal/run"
	"github.com/TFMV/entlink/logger"
	"github.com/TFMV/entlink/pkg/cluster"
	"github.com/TFMV/entlink/pkg/linkage"
	"github.com/TFMV/entlink/pkg/rel"
	"github.com/TFMV/entlink/pkg/writers"
	"github.com/TFMV/entlink/version"
)

func main() {
	logger.InitLogger()
	defer logger.Sync()
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "entlink",
		Short:         "Record linkage and deduplication over parquet, csv, and arrow files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLinkCmd(),
		newDedupeCmd(),
		newKeyCountsCmd(),
		newPairCountsCmd(),
		newComponentsCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

// runFlags are the config fields every run-shaped command shares.
type runFlags struct {
	configPath string
	left       string
	right      string
	keys       []string
	maxPairs   int64
	outDir     string
	reportPath string
	clusterRun bool
	maxIter    int
}

func (f *runFlags) register(cmd *cobra.Command, withRight bool) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML run config; flags override nothing when set")
	cmd.Flags().StringVar(&f.left, "left", "", "left input file")
	if withRight {
		cmd.Flags().StringVar(&f.right, "right", "", "right input file")
	}
	cmd.Flags().StringSliceVarP(&f.keys, "keys", "k", nil, "blocking key columns")
	cmd.Flags().Int64Var(&f.maxPairs, "max-pairs", 0, "suppress keys generating more pairs than this (0 = off)")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "output directory for linkage parquet files")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "path for the JSON run report")
	cmd.Flags().BoolVar(&f.clusterRun, "cluster", false, "also partition records into entities")
	cmd.Flags().IntVar(&f.maxIter, "max-iter", 0, "bound clustering rounds (0 = to convergence)")
}

func (f *runFlags) load(task string) (*config.Config, error) {
	if f.configPath != "" {
		return config.LoadConfig(f.configPath)
	}
	return &config.Config{
		Task:  task,
		Left:  config.InputConfig{Path: f.left},
		Right: config.InputConfig{Path: f.right},
		Linker: config.LinkerConfig{
			Keys:     f.keys,
			MaxPairs: f.maxPairs,
		},
		Cluster: config.ClusterConfig{Enabled: f.clusterRun, MaxIter: f.maxIter},
		Output:  config.OutputConfig{Dir: f.outDir, ReportPath: f.reportPath},
	}, nil
}

func newLinkCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link two record files on blocking keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load("link")
			if err != nil {
				return err
			}
			return execRun(cmd.Context(), cfg)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newDedupeCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Deduplicate one record file on blocking keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load("dedupe")
			if err != nil {
				return err
			}
			return execRun(cmd.Context(), cfg)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func execRun(ctx context.Context, cfg *config.Config) error {
	rep, err := run.Run(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("linked %d pairs (%d left, %d right records)\n",
		rep.Counts.Links, rep.Counts.LeftRecords, rep.Counts.RightRecords)
	if rep.Cluster != nil {
		fmt.Printf("found %d entities, largest has %d records\n",
			rep.Cluster.NComponents, rep.Cluster.LargestSize)
	}
	return nil
}

func newKeyCountsCmd() *cobra.Command {
	var input string
	var keys []string
	cmd := &cobra.Command{
		Use:   "key-counts",
		Short: "Show how many records share each blocking key value",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := run.LoadInput(cmd.Context(), config.InputConfig{Path: input})
			if err != nil {
				return err
			}
			kl := run.NewKeyLinker(&config.Config{Linker: config.LinkerConfig{Keys: keys}})
			counts, err := kl.KeyCountsLeft(t)
			if err != nil {
				return err
			}
			return printTable(cmd.Context(), counts.Table())
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "record file")
	cmd.Flags().StringSliceVarP(&keys, "keys", "k", nil, "blocking key columns")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}

func newPairCountsCmd() *cobra.Command {
	var left, right string
	var keys []string
	cmd := &cobra.Command{
		Use:   "pair-counts",
		Short: "Estimate how many pairs each blocking key value generates",
		RunE: func(cmd *cobra.Command, args []string) error {
			lt, err := run.LoadInput(cmd.Context(), config.InputConfig{Path: left})
			if err != nil {
				return err
			}
			rt := lt
			if right != "" {
				if rt, err = run.LoadInput(cmd.Context(), config.InputConfig{Path: right}); err != nil {
					return err
				}
			}
			kl := run.NewKeyLinker(&config.Config{Linker: config.LinkerConfig{Keys: keys}})
			counts, err := kl.PairCounts(lt, rt)
			if err != nil {
				return err
			}
			if err := printTable(cmd.Context(), counts.Table()); err != nil {
				return err
			}
			total, err := counts.NTotal(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("total\t%d\n", total)
			return nil
		},
	}
	cmd.Flags().StringVar(&left, "left", "", "left record file")
	cmd.Flags().StringVar(&right, "right", "", "right record file (omit to estimate a dedupe)")
	cmd.Flags().StringSliceVarP(&keys, "keys", "k", nil, "blocking key columns")
	_ = cmd.MarkFlagRequired("left")
	_ = cmd.MarkFlagRequired("keys")
	return cmd
}

func newComponentsCmd() *cobra.Command {
	var dir, outDir string
	var maxIter int
	var dedupe bool
	cmd := &cobra.Command{
		Use:   "components",
		Short: "Partition a saved linkage into connected-component entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			lk, err := linkage.FromParquets(cmd.Context(), dir)
			if err != nil {
				return err
			}

			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = " computing connected components..."
			s.Start()
			p := &cluster.Partitioner{MaxIter: maxIter, Dedupe: dedupe}
			leftOut, rightOut, err := p.Partition(cmd.Context(), lk)
			s.Stop()
			if err != nil {
				return err
			}

			if outDir == "" {
				outDir = dir
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}
			if err := writers.WriteTable(cmd.Context(), filepath.Join(outDir, "left_components.parquet"), leftOut); err != nil {
				return err
			}
			if err := writers.WriteTable(cmd.Context(), filepath.Join(outDir, "right_components.parquet"), rightOut); err != nil {
				return err
			}
			fmt.Printf("components written to %s\n", outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "linkage", "l", "", "directory holding left/right/links parquet files")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (defaults to the linkage directory)")
	cmd.Flags().IntVar(&maxIter, "max-iter", 0, "bound propagation rounds (0 = to convergence)")
	cmd.Flags().BoolVar(&dedupe, "dedupe", false, "both sides are the same records; equal ids are one node")
	_ = cmd.MarkFlagRequired("linkage")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port string
	var prefork bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve linkage runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := api.NewServer(api.ServerOptions{Port: port, Prefork: prefork})

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			errc := make(chan error, 1)
			go func() { errc <- server.Start() }()

			select {
			case err := <-errc:
				return err
			case <-quit:
			}
			log.Println("Received shutdown signal, stopping server...")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.ShutdownWithContext(ctx); err != nil {
				return err
			}
			log.Println("Server shutdown successfully")
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "3000", "listen port")
	cmd.Flags().BoolVar(&prefork, "prefork", false, "run one process per CPU")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("entlink %s (built %s)\n", version.GetVersion(), version.GetBuildDate())
		},
	}
}

// printTable writes a relation to stdout as tab-separated rows.
func printTable(ctx context.Context, t rel.Table) error {
	schema := t.Schema()
	names := make([]string, schema.NumFields())
	for i := range names {
		names[i] = schema.Field(i).Name
	}
	fmt.Println(strings.Join(names, "\t"))
	rows, err := rel.Rows(ctx, t)
	if err != nil {
		return err
	}
	for _, r := range rows {
		cells := make([]string, len(r))
		for i, v := range r {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	return nil
}
