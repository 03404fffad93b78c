package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mudu-db/mudu/kernel/config"
	"github.com/mudu-db/mudu/kernel/server"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/mudu-db/mudu/kernel/wal"
	"github.com/mudu-db/mudu/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	scriptPath string
)

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	log.SetLevelByString(conf.LogLevel)
	if conf.LogFile != "" {
		log.SetOutputFile(conf.LogFile, 64, 8)
	}
	return conf, nil
}

func openKernel(ctx context.Context) (*server.Kernel, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return server.Open(ctx, conf)
}

// renderTable writes one table. Rows must match the header width.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	table := tablewriter.NewWriter(w)
	table.Header(cells...)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func printResults(w io.Writer, results []*server.StmtResult) error {
	for _, r := range results {
		if !r.Query {
			fmt.Fprintf(w, "%d rows affected\n", r.Affected)
			continue
		}
		if err := renderTable(w, r.Columns, r.Rows); err != nil {
			return err
		}
		fmt.Fprintf(w, "(%d rows)\n", len(r.Rows))
	}
	return nil
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Recover the database and keep it open until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			k, err := openKernel(ctx)
			if err != nil {
				return err
			}
			conf := k.Config()
			log.Infof("conf %+v", conf)
			for _, d := range k.Procedures().Procedures() {
				log.Infof("procedure %s (module %s)", d.Proc, d.Module)
			}
			log.Infof("kernel ready on %s, %d session threads", conf.ListenAddr(), conf.SessionThreads)

			sc := make(chan os.Signal, 1)
			signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			sig := <-sc
			log.Infof("Got signal [%s] to exit.", sig)
			return k.Close()
		},
	}
}

func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [sql]",
		Short: "Run a script of statements, each in its own transaction",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var script string
			switch {
			case scriptPath != "":
				b, err := ioutil.ReadFile(scriptPath)
				if err != nil {
					return err
				}
				script = string(b)
			case len(args) == 1:
				script = args[0]
			default:
				return fmt.Errorf("exec needs a statement or --file")
			}
			ctx := context.Background()
			k, err := openKernel(ctx)
			if err != nil {
				return err
			}
			defer k.Close()
			results, err := k.Exec(ctx, script)
			if perr := printResults(cmd.OutOrStdout(), results); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&scriptPath, "file", "f", "", "script file")
	return cmd
}

// parseArgs turns command line arguments into printable datums. "null" is
// NULL.
func parseArgs(args []string) []types.Datum {
	out := make([]types.Datum, len(args))
	for i, a := range args {
		if strings.EqualFold(a, "null") {
			out[i] = types.Null()
		} else {
			out[i] = types.Printable(a)
		}
	}
	return out
}

func runCall(ctx context.Context, w io.Writer, k *server.Kernel, proc string, args []string) error {
	rec, err := k.Call(ctx, proc, parseArgs(args))
	if err != nil {
		return err
	}
	desc := rec.Desc()
	if desc.Len() == 0 {
		fmt.Fprintln(w, "OK")
		return nil
	}
	header := make([]string, desc.Len())
	values := make([]string, desc.Len())
	for i, c := range desc.Columns() {
		header[i] = c.Name
		d, err := rec.Get(c.Name)
		if err != nil {
			return err
		}
		if d.IsNull() {
			values[i] = "NULL"
		} else if values[i], err = d.Printable(c.ID, c.Param); err != nil {
			return err
		}
	}
	return renderTable(w, header, [][]string{values})
}

func newCallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "call <procedure> [args...]",
		Short: "Call a stored procedure in a transaction of its own",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			k, err := openKernel(ctx)
			if err != nil {
				return err
			}
			defer k.Close()
			return runCall(ctx, cmd.OutOrStdout(), k, args[0], args[1:])
		},
	}
}

func newWALCommand() *cobra.Command {
	walCmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect the write-ahead log",
	}
	walCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the recoverable batches without modifying the log",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			rec, err := wal.Dump(wal.OptionsFromConfig(conf, afero.NewOsFs()))
			if err != nil {
				return err
			}
			var rows [][]string
			for _, b := range rec.Batches {
				for _, r := range b.Records {
					for _, op := range r.Ops {
						n := len(op.Value)
						for _, d := range op.Deltas {
							n += len(d.Data)
						}
						rows = append(rows, []string{
							strconv.FormatUint(b.LSN, 10),
							strconv.FormatUint(r.Xid, 10),
							op.Kind.String(),
							strconv.FormatUint(op.Table, 10),
							strconv.FormatUint(op.TupleID, 10),
							strconv.Itoa(n),
						})
					}
				}
			}
			out := cmd.OutOrStdout()
			if err := renderTable(out, []string{"LSN", "XID", "OP", "TABLE", "TUPLE", "BYTES"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d batches, last lsn %d\n", len(rec.Batches), rec.LastLSN)
			return nil
		},
	})
	return walCmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "mudu",
		Short:        "mudu kernel",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "override db_path")
	rootCmd.AddCommand(
		newStartCommand(),
		newExecCommand(),
		newShellCommand(),
		newCallCommand(),
		newWALCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
