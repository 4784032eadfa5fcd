package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alexhholmes/hfsbtree"
	"github.com/alexhholmes/hfsbtree/internal/config"
	"github.com/alexhholmes/hfsbtree/logger"
)

// app carries the global flags and the loaded configuration of one
// invocation.
type app struct {
	configPath string
	comparator string
	hex        bool
	verbose    bool

	cfg   *config.Config
	cmp   hfsbtree.KeyComparator
	log   *logger.Zap
	close func()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hfsbtree",
		Short: "Inspect and edit HFS+-style B*Tree files",
		Long: `hfsbtree formats, edits and verifies B*Tree files laid out like the
HFS+ catalog and extents overflow trees.

Commands:
  format    Create an empty tree file
  put       Insert a record
  get       Print the value stored under a key
  del       Remove a record
  scan      Print records in key order
  stat      Print the header record and cache statistics
  check     Verify the tree structure and allocation map`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.close != nil {
				a.close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default hfsbtree.yaml)")
	root.PersistentFlags().StringVar(&a.comparator, "comparator", "", "key order: binary, catalog or extent (overrides config)")
	root.PersistentFlags().BoolVar(&a.hex, "hex", false, "keys and values are hex encoded")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log engine events to stderr")

	root.AddCommand(
		a.formatCmd(),
		a.putCmd(),
		a.getCmd(),
		a.delCmd(),
		a.scanCmd(),
		a.statCmd(),
		a.checkCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.comparator != "" {
		cfg.Comparator = a.comparator
	}
	if a.cmp, err = hfsbtree.ComparatorByName(cfg.Comparator); err != nil {
		return err
	}
	a.cfg = cfg

	if cfg.Log.Path != "" {
		r, err := logger.NewRotating(logger.RotatingConfig{
			Path:       cfg.Log.Path,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
			Level:      cfg.Log.Level,
		})
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		a.log = r.Zap
		a.close = func() { _ = r.Close() }
		return nil
	}

	level := zapcore.WarnLevel
	if a.verbose {
		level = zapcore.InfoLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zl, err := zc.Build()
	if err != nil {
		return err
	}
	a.log = logger.NewZap(zl)
	a.close = func() { _ = a.log.Sync() }
	return nil
}

// open opens the tree at path; create allows formatting an empty file.
func (a *app) open(path string, create bool) (*hfsbtree.BTree, error) {
	if !create {
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrap(err, "open tree")
		}
		if info.Size() == 0 {
			return nil, errors.Wrapf(hfsbtree.ErrNotFormatted, "%s is empty", path)
		}
	}
	opts := append(a.cfg.TreeOptions(), hfsbtree.WithLogger(a.log.With("file", path)))
	return hfsbtree.OpenFile(path, a.cmp, opts...)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
