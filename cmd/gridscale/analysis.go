package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigslice/exec"
	"github.com/qri-io/gridscale"
	"github.com/qri-io/gridscale/dataset"
	"github.com/qri-io/gridscale/plotting"
	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Open the NetCDF files as one dataset and describe it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := openDataset(context.Background(), cfg)
		if err != nil {
			return err
		}
		return ds.Describe(os.Stdout)
	},
}

var timeseriesCmd = &cobra.Command{
	Use:   "timeseries",
	Short: "Plot the area-weighted global mean with its resampled and rolling means",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, sess *exec.Session) error {
			return timeseries(ctx, sess, cfg)
		})
	},
}

var climatologyCmd = &cobra.Command{
	Use:   "climatology",
	Short: "Map the monthly climatology and plot the global mean anomaly",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(func(ctx context.Context, sess *exec.Session) error {
			return climatology(ctx, sess, cfg)
		})
	},
}

func init() {
	timeseriesCmd.Flags().Int("window", 12, "rolling window length in time steps")
	timeseriesCmd.Flags().String("resample", "YS", "resample frequency: YS, QS or MS")
}

func openDataset(ctx context.Context, c *Config) (*dataset.Dataset, error) {
	return dataset.OpenMF(ctx, c.Data, dataset.Options{Chunks: c.Chunks})
}

func openVar(ctx context.Context, c *Config) (*dataset.Variable, error) {
	ds, err := openDataset(ctx, c)
	if err != nil {
		return nil, err
	}
	return ds.Var(c.Var)
}

func outPath(c *Config, name string) (string, error) {
	if err := os.MkdirAll(c.Out, 0777); err != nil {
		return "", errors.E(fmt.Sprintf("gridscale: create %s", c.Out), err)
	}
	return filepath.Join(c.Out, name), nil
}

func series(ctx context.Context, sess *exec.Session, v *dataset.Variable, name string) (plotting.Series, error) {
	r, err := dataset.Compute(ctx, sess, v)
	if err != nil {
		return plotting.Series{}, err
	}
	s, err := r.Series()
	s.Name = name
	return s, err
}

func timeseries(ctx context.Context, sess *exec.Session, c *Config) error {
	v, err := openVar(ctx, c)
	if err != nil {
		return err
	}
	global, err := dataset.GlobalMean(v)
	if err != nil {
		return err
	}
	kind := gridscale.Mean
	resampled, err := dataset.Resample(global, c.Resample, kind)
	if err != nil {
		return err
	}
	timeDim := global.Dims[0]
	rolling, err := dataset.Rolling(global, timeDim, c.Window, true, 1, kind)
	if err != nil {
		return err
	}
	var all []plotting.Series
	for _, x := range []struct {
		name string
		v    *dataset.Variable
	}{
		{"global mean", global},
		{fmt.Sprintf("%s mean", c.Resample), resampled},
		{fmt.Sprintf("%d-step rolling mean", c.Window), rolling},
	} {
		s, err := series(ctx, sess, x.v, x.name)
		if err != nil {
			return err
		}
		all = append(all, s)
	}
	path, err := outPath(c, "timeseries.png")
	if err != nil {
		return err
	}
	units, _ := v.Attrs.String("units")
	return plotting.Lines(ctx, path, fmt.Sprintf("Area-weighted global mean %s", v.Name), units, all...)
}

func climatology(ctx context.Context, sess *exec.Session, c *Config) error {
	v, err := openVar(ctx, c)
	if err != nil {
		return err
	}
	clim, err := dataset.Climatology(v, gridscale.Mean)
	if err != nil {
		return err
	}
	for _, month := range []time.Month{time.January, time.July} {
		m, err := clim.ISel(map[string]gridscale.Range{"month": gridscale.At(int(month) - 1)})
		if err != nil {
			return err
		}
		r, err := dataset.Compute(ctx, sess, m.Squeeze())
		if err != nil {
			return err
		}
		f, err := r.Field()
		if err != nil {
			return err
		}
		path, err := outPath(c, fmt.Sprintf("climatology-%02d.png", int(month)))
		if err != nil {
			return err
		}
		if err := plotting.HeatMap(ctx, path, fmt.Sprintf("%s climatology, %s", v.Name, month), f); err != nil {
			return err
		}
	}
	anom, err := dataset.Anomaly(ctx, sess, v)
	if err != nil {
		return err
	}
	global, err := dataset.GlobalMean(anom)
	if err != nil {
		return err
	}
	s, err := series(ctx, sess, global, "global mean anomaly")
	if err != nil {
		return err
	}
	path, err := outPath(c, "anomaly.png")
	if err != nil {
		return err
	}
	units, _ := v.Attrs.String("units")
	return plotting.Lines(ctx, path, fmt.Sprintf("Global mean %s anomaly", v.Name), units, s)
}
