// Gridscale walks through scaling array analysis from one machine to a
// cluster: random chunked arrays, a multi-file sea surface temperature
// dataset, area-weighted means, climatologies, resampling and rolling
// windows. Computations run on bigslice; pass --system to choose where.
package main

import (
	"context"
	"flag"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/bigslice/slicecmd"
	"github.com/grailbio/bigslice/sliceflags"
	"github.com/spf13/cobra"
)

var (
	sliceFlags sliceflags.Flags
	configPath string
	cfg        *Config
)

var rootCmd = &cobra.Command{
	Use:   "gridscale",
	Short: "Scale chunked array analysis with bigslice",
	Long: `gridscale - lazily evaluated chunked arrays on bigslice.

Every command builds a lazy computation over chunked arrays and runs it in a
bigslice session. The session runs in process by default; --system=local
starts separate worker processes and --system=ec2 runs on an EC2 cluster.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (GRIDSCALE_* prefix)
3. The TOML file named by --config
4. Default values

Examples:
  gridscale random --shape 10000,10000 --chunk-shape 1000,1000
  gridscale describe --data '../data/sst/*.nc'
  gridscale timeseries --window 12 --resample YS
  gridscale climatology --out plots
  gridscale persist --out sst.zarr --reopen`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath, cmd.Flags())
		return err
	},
	// Bigmachine workers re-execute this binary without a subcommand; they
	// must reach exec.Start, which does not return for them.
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session()
		if err != nil {
			return err
		}
		defer sess.Shutdown()
		return cmd.Help()
	},
}

func init() {
	sliceflags.RegisterFlags(flag.CommandLine, &sliceFlags, "")
	log.AddFlags()
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().String("data", defaultData, "glob of the NetCDF files to open")
	rootCmd.PersistentFlags().String("var", defaultVar, "variable to analyze")
	rootCmd.PersistentFlags().String("out", defaultOut, "output directory")
	rootCmd.PersistentFlags().StringToInt("chunks", nil, "chunk length per dimension, e.g. lat=90,lon=180")

	rootCmd.AddCommand(randomCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(timeseriesCmd)
	rootCmd.AddCommand(climatologyCmd)
	rootCmd.AddCommand(persistCmd)
}

// session starts a bigslice session as configured by the bigslice flags.
func session() (*exec.Session, error) {
	return slicecmd.Init(sliceFlags)
}

// run starts a session and invokes fn with it.
func run(fn func(ctx context.Context, sess *exec.Session) error) error {
	sess, err := session()
	if err != nil {
		return err
	}
	defer sess.Shutdown()
	return fn(context.Background(), sess)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
