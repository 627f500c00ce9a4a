package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/cqldef/cqldef"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/database/cassandra"
	"github.com/cqldef/cqldef/database/file"
	"github.com/cqldef/cqldef/util"
	"github.com/jessevdk/go-flags"
	"github.com/k0kubun/pp/v3"
	"golang.org/x/term"
)

// version and revision are set via -ldflags
var version = "dev"
var revision = "HEAD"

// Return parsed options and the session config
func parseOptions(args []string) (database.Config, *cqldef.Options) {
	// Track parsed configs in order
	var configs []database.GeneratorConfig

	var opts struct {
		User        string   `short:"u" long:"user" description:"Cassandra user name" value-name:"user_name"`
		Password    string   `short:"p" long:"password" description:"Cassandra user password, overridden by $CASSANDRA_PASSWORD" value-name:"password"`
		Hosts       []string `short:"h" long:"host" description:"Contact point of the cluster (can be specified multiple times)" value-name:"host_name" default:"127.0.0.1"`
		Port        uint     `short:"P" long:"port" description:"Native protocol port" value-name:"port_num" default:"9042"`
		LocalDC     string   `long:"local-dc" description:"Prefer hosts of this datacenter" value-name:"dc"`
		Consistency string   `long:"consistency" description:"Default consistency level" value-name:"level" default:"LOCAL_QUORUM"`
		Prompt      bool     `long:"password-prompt" description:"Force Cassandra user password prompt"`
		File        []string `long:"file" description:"Read desired schema from the file, rather than stdin (a second --file is the desired one, the first the current one)" value-name:"schema_file" default:"-"`
		DryRun      bool     `long:"dry-run" description:"Don't run statements but just show them"`
		Export      bool     `long:"export" description:"Just dump the current schema to stdout"`
		Snapshot    bool     `long:"snapshot" description:"With --export, dump catalog rows instead of a schema file"`
		SkipDrop    bool     `long:"skip-drop" description:"Skip destructive changes such as DROP and TRUNCATE"`
		Debug       bool     `long:"debug" description:"Dump the parsed options and config"`
		Help        bool     `long:"help" description:"Show this help"`
		Version     bool     `long:"version" description:"Show this version"`

		// Custom handlers for config flags to preserve order
		Config       func(string) `long:"config" description:"YAML file to specify: migration, environment, alterable_types, target_tables, skip_tables, concurrency (can be specified multiple times)"`
		ConfigInline func(string) `long:"config-inline" description:"YAML object to specify: migration, environment, alterable_types, target_tables, skip_tables, concurrency (can be specified multiple times)"`
	}

	opts.Config = func(path string) {
		config, err := database.ParseGeneratorConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		configs = append(configs, config)
	}
	opts.ConfigInline = func(yaml string) {
		config, err := database.ParseGeneratorConfigString(yaml)
		if err != nil {
			log.Fatal(err)
		}
		configs = append(configs, config)
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[OPTIONS] [keyspace|current.yml] < desired.yml"
	args, err := parser.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if opts.Version {
		fmt.Printf("%s (%s)\n", version, revision)
		os.Exit(0)
	}

	if len(args) > 1 {
		fmt.Printf("Multiple keyspaces are given: %v\n\n", args)
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	desiredFile, currentFile, err := cqldef.ParseFiles(opts.File)
	if err != nil {
		log.Fatal(err)
	}

	// merge --config and --config-inline in order
	var config database.GeneratorConfig
	for _, c := range configs {
		config = database.MergeGeneratorConfigs(config, c)
	}

	options := cqldef.Options{
		DesiredFile: desiredFile,
		CurrentFile: currentFile,
		DryRun:      opts.DryRun,
		Export:      opts.Export,
		Snapshot:    opts.Snapshot,
		SkipDrop:    opts.SkipDrop,
		Config:      config,
	}

	if len(args) == 1 {
		if strings.HasSuffix(args[0], ".yml") || strings.HasSuffix(args[0], ".yaml") {
			options.CurrentFile = args[0]
		} else {
			options.Keyspace = args[0]
		}
	}
	if options.CurrentFile == "" && options.Keyspace == "" {
		fmt.Print("No keyspace is specified!\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	password, ok := os.LookupEnv("CASSANDRA_PASSWORD")
	if !ok {
		password = opts.Password
	}

	if opts.Prompt {
		fmt.Printf("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			log.Fatal(err)
		}
		password = string(pass)
	}

	dbConfig := database.Config{
		Hosts:       opts.Hosts,
		Port:        int(opts.Port),
		Keyspace:    options.Keyspace,
		User:        opts.User,
		Password:    password,
		Consistency: opts.Consistency,
		LocalDC:     opts.LocalDC,
	}
	if opts.Debug {
		pp.Println(options)
	}
	return dbConfig, &options
}

func main() {
	util.InitSlog()
	config, options := parseOptions(os.Args[1:])

	var session database.Session
	var catalog database.Catalog
	if options.CurrentFile != "" {
		current := file.NewCatalog(options.CurrentFile)
		if options.Keyspace == "" {
			keyspace, err := current.Keyspace()
			if err != nil {
				log.Fatal(err)
			}
			options.Keyspace = keyspace
		}
		catalog = current
	} else {
		s, err := cassandra.NewSession(config)
		if err != nil {
			log.Fatal(err)
		}
		defer s.Close()
		session, catalog = s, s
	}

	if err := cqldef.Run(context.Background(), session, catalog, options, database.StdoutLogger()); err != nil {
		log.Fatal(err)
	}
}
