package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/cqldef/cqldef"
	"github.com/cqldef/cqldef/query"
	"github.com/cqldef/cqldef/schema"
	"github.com/cqldef/cqldef/util"
	"github.com/k0kubun/pp/v3"
	"github.com/urfave/cli"
)

// version and revision are set via -ldflags
var version = "dev"
var revision = "HEAD"

type Options struct {
	schemaFile string
	table      string
	operation  string
	query      string
	values     string
	find       query.FindOptions
	ttl        int
	ifExists   bool
	debug      bool
}

// Return parsed options
func parseOptions(args []string) *Options {
	app := cli.NewApp()
	app.HelpName = "cqlcompile"
	app.Usage = "Compile a query object into CQL for one table of a schema file"
	app.Version = fmt.Sprintf("%s (%s)", version, revision)

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "f, file",
			Value: "schema.yml",
			Usage: "Schema file declaring the table",
		},
		cli.StringFlag{
			Name:  "t, table",
			Usage: "Table to compile against",
		},
		cli.StringFlag{
			Name:  "o, operation",
			Value: "find",
			Usage: "One of find, findone, update, delete, insert",
		},
		cli.StringFlag{
			Name:  "q, query",
			Value: "{}",
			Usage: "Query object as YAML or JSON, or @path to read it from a file",
		},
		cli.StringFlag{
			Name:  "values",
			Value: "{}",
			Usage: "Values for update and insert, as YAML or JSON, or @path",
		},
		cli.StringSliceFlag{
			Name:  "select",
			Usage: "Projection entry (can be specified multiple times)",
		},
		cli.BoolFlag{
			Name:  "distinct",
			Usage: "SELECT DISTINCT",
		},
		cli.BoolFlag{
			Name:  "allow-filtering",
			Usage: "Append ALLOW FILTERING",
		},
		cli.StringFlag{
			Name:  "view",
			Usage: "Read from this materialized view",
		},
		cli.IntFlag{
			Name:  "ttl",
			Usage: "USING TTL for update and insert",
		},
		cli.BoolFlag{
			Name:  "if-exists",
			Usage: "IF EXISTS for update, IF NOT EXISTS for insert",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Dump the compiled statement",
		},
	}

	cli.AppHelpTemplate = `USAGE:
   {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[OPTIONS]{{end}}{{end}}{{if .VisibleFlags}}

OPTIONS:
   {{range $index, $option := .VisibleFlags}}{{if $index}}
   {{end}}{{$option}}{{end}}{{end}}

`

	actionRun := false
	options := Options{}

	app.Action = func(c *cli.Context) error {
		actionRun = true
		options.schemaFile = c.String("file")
		options.table = c.String("table")
		options.operation = strings.ToLower(c.String("operation"))
		options.query = c.String("query")
		options.values = c.String("values")
		options.find = query.FindOptions{
			Select:           c.StringSlice("select"),
			Distinct:         c.Bool("distinct"),
			AllowFiltering:   c.Bool("allow-filtering"),
			MaterializedView: c.String("view"),
		}
		options.ttl = c.Int("ttl")
		options.ifExists = c.Bool("if-exists")
		options.debug = c.Bool("debug")

		if len(c.Args()) > 0 {
			fmt.Printf("Unexpected arguments are given: %v\n\n", c.Args())
			cli.ShowAppHelp(c)
			os.Exit(1)
		}
		return nil
	}
	if err := app.Run(args); err != nil {
		log.Fatal(err)
	}

	if !actionRun {
		// --help or --version
		os.Exit(0)
	}
	return &options
}

func readObject(arg string) (query.Object, error) {
	buf := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		buf, err = cqldef.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s': %w", path, err)
		}
	}
	return query.ParseObject(buf)
}

func compile(options *Options) (*query.Statement, error) {
	ks, err := schema.ParseFile(options.schemaFile)
	if err != nil {
		return nil, err
	}
	table := options.table
	if table == "" && len(ks.Tables) == 1 {
		table = ks.Tables[0].TableName
	}
	s := ks.Table(table)
	if s == nil {
		return nil, fmt.Errorf("table %q is not declared in %s", table, options.schemaFile)
	}
	if _, err := schema.Normalize(s); err != nil {
		return nil, err
	}
	compiler := query.NewCompiler(s)

	q, err := readObject(options.query)
	if err != nil {
		return nil, err
	}
	switch options.operation {
	case "find":
		return compiler.Find(q, options.find)
	case "findone":
		return compiler.FindOne(q, options.find)
	case "delete":
		return compiler.Delete(q)
	}

	values, err := readObject(options.values)
	if err != nil {
		return nil, err
	}
	switch options.operation {
	case "update":
		return compiler.Update(q, values, query.UpdateOptions{TTL: options.ttl, IfExists: options.ifExists})
	case "insert":
		record, err := query.NewRecord(s, values.Map())
		if err != nil {
			return nil, err
		}
		return compiler.Insert(record, query.SaveOptions{TTL: options.ttl, IfNotExists: options.ifExists})
	}
	return nil, fmt.Errorf("unknown operation %q", options.operation)
}

func main() {
	util.InitSlog()
	options := parseOptions(os.Args)

	stmt, err := compile(options)
	if err != nil {
		log.Fatal(err)
	}
	if options.debug {
		pp.Println(stmt)
	}
	fmt.Println(stmt.Query)
	for i, param := range stmt.Params {
		fmt.Printf("-- $%d = %#v\n", i+1, param)
	}
}
