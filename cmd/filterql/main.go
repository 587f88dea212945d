package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bi0dread/filterql"
)

const (
	storePredicate     = "predicate"
	storeRaw           = "raw"
	storeGorm          = "gorm"
	storePostgres      = "postgres"
	storeMongo         = "mongo"
	storeElasticsearch = "elasticsearch"
)

type app struct {
	configPath string
	logLevel   string

	cfg      *FileConfig
	log      *zap.Logger
	registry *filterql.RegistryCache
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{registry: filterql.NewRegistryCache()}
	root := &cobra.Command{
		Use:           "filterql",
		Short:         "Compile filter expressions into store queries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "filterql.yaml", "resource configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(a.tokensCmd(), a.formatCmd(), a.compileCmd(), a.runCmd())
	return root
}

// setup loads the configuration and logger; commands that only lex or parse
// do not need it.
func (a *app) setup() error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	log, err := newLogger(level)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	return config.Build()
}

func (a *app) tokensCmd() *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "tokens <filter>",
		Short: "Print the token stream of a filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := filterql.ParseDialect(dialect)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range filterql.Tokenize(args[0], d) {
				fmt.Fprintf(out, "%4d  %-10s %q\n", t.Pos, t.Kind, t.Text)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dialect, "dialect", "d", "fiql", "fiql or keyword")
	return cmd
}

func (a *app) formatCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "format <filter>",
		Short: "Parse a filter and print it in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := filterql.ParseDialect(from)
			if err != nil {
				return err
			}
			dst := src
			if to != "" {
				if dst, err = filterql.ParseDialect(to); err != nil {
					return err
				}
			}
			node, err := filterql.ParseString(args[0], src)
			if err != nil {
				return renderError(cmd.ErrOrStderr(), args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), filterql.Format(node, dst))
			return nil
		},
	}
	cmd.Flags().StringVarP(&from, "dialect", "d", "fiql", "dialect of the input")
	cmd.Flags().StringVar(&to, "to", "", "dialect of the output (defaults to the input dialect)")
	return cmd
}

type queryFlags struct {
	sort  string
	after string
	limit int
}

func (f *queryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sort, "sort", "", "sort key, '-' prefix for descending")
	cmd.Flags().StringVar(&f.after, "after", "", "cursor of the previous page")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "page size")
}

func (f *queryFlags) request(filter string) filterql.Request {
	req := filterql.Request{Filter: filter, Sort: f.sort, After: f.after}
	if f.limit != 0 {
		limit := f.limit
		req.Limit = &limit
	}
	return req
}

// assemble compiles a request for the named resource.
func (a *app) assemble(resource string, req filterql.Request) (*filterql.CompiledQuery, ResourceConfig, error) {
	rc, err := a.cfg.resource(resource)
	if err != nil {
		return nil, rc, err
	}
	reg, err := a.registry.Get(resource, rc.registry)
	if err != nil {
		return nil, rc, fmt.Errorf("resource %q: %w", resource, err)
	}
	qc, err := rc.queryConfig(a.cfg.CursorSecret)
	if err != nil {
		return nil, rc, fmt.Errorf("resource %q: %w", resource, err)
	}
	q, err := filterql.Assemble(req, reg, qc)
	if err != nil {
		return nil, rc, err
	}
	a.log.Debug("compiled", zap.String("resource", resource), zap.Stringer("query", q))
	return q, rc, nil
}

func (a *app) compileCmd() *cobra.Command {
	var (
		qf      queryFlags
		store   string
		lookups bool
	)
	cmd := &cobra.Command{
		Use:   "compile <resource> [filter]",
		Short: "Compile a filter and print the query for a store",
		Long: "Compile a filter against a configured resource and print the query a store executor would run.\n" +
			"Stores: predicate, raw, gorm, postgres, mongo, elasticsearch.",
		Args: cobra.RangeArgs(1, 2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.log.Sync() //nolint:errcheck
			filter := ""
			if len(args) == 2 {
				filter = args[1]
			}
			q, rc, err := a.assemble(args[0], qf.request(filter))
			if err != nil {
				return renderError(cmd.ErrOrStderr(), filter, err)
			}
			return renderQuery(cmd.OutOrStdout(), store, rc.Table, q, lookups)
		},
	}
	qf.bind(cmd)
	cmd.Flags().StringVarP(&store, "store", "s", storePredicate, "target store")
	cmd.Flags().BoolVar(&lookups, "mongo-lookups", false, "render the mongo aggregation pipeline with $lookup joins")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		qf queryFlags
		db string
	)
	cmd := &cobra.Command{
		Use:   "run <resource> [filter]",
		Short: "Run a filter against a SQLite database and print one page as JSON",
		Args:  cobra.RangeArgs(1, 2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.log.Sync() //nolint:errcheck
			filter := ""
			if len(args) == 2 {
				filter = args[1]
			}
			q, rc, err := a.assemble(args[0], qf.request(filter))
			if err != nil {
				return renderError(cmd.ErrOrStderr(), filter, err)
			}
			path := db
			if path == "" {
				path = a.cfg.Database
			}
			if path == "" {
				return fmt.Errorf("no database given; use --db or set database in %s", a.configPath)
			}
			conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			page, err := filterql.NewGormExecutor(conn, rc.Table, a.log).Execute(cmd.Context(), q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"rows": page.Rows, "next": page.NextCursor})
		},
	}
	qf.bind(cmd)
	cmd.Flags().StringVar(&db, "db", "", "SQLite database file (see the seeder command)")
	return cmd
}

func renderQuery(out io.Writer, store, table string, q *filterql.CompiledQuery, lookups bool) error {
	switch strings.ToLower(store) {
	case storePredicate:
		fmt.Fprintln(out, q)
	case storeRaw:
		sql, args := filterql.BuildRawSelect(q, table)
		fmt.Fprintln(out, filterql.ExplainRawSQL(sql, args))
	case storeGorm:
		db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{DryRun: true, Logger: logger.Discard})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, filterql.ExplainGorm(db, table, q))
	case storePostgres:
		sql, args, err := filterql.BuildSquirrelSelect(q, table).ToSql()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sql)
		for i, arg := range args {
			fmt.Fprintf(out, "  $%d = %#v\n", i+1, arg)
		}
	case storeMongo:
		var doc bson.M
		if lookups {
			doc = bson.M{"pipeline": filterql.BuildMongoPipeline(q)}
		} else {
			opts := filterql.BuildMongoFindOptions(q)
			doc = bson.M{"filter": filterql.BuildMongoFilter(filterql.PagePredicate(q)), "sort": opts.Sort, "limit": opts.Limit}
		}
		b, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
	case storeElasticsearch:
		body, err := filterql.BuildElasticsearchQuery(q).JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, body)
	default:
		return fmt.Errorf("unknown store %q", store)
	}
	return nil
}

// renderError prints a caret under the failing position of a filter error
// and returns the error for the exit status.
func renderError(out io.Writer, filter string, err error) error {
	var fe *filterql.Error
	if errors.As(err, &fe) && fe.Position >= 0 && fe.Position <= len(filter) && !strings.HasPrefix(strings.TrimSpace(filter), "{") {
		fmt.Fprintln(out, filter)
		fmt.Fprintln(out, strings.Repeat(" ", fe.Position)+"^")
	}
	return err
}
