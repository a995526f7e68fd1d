package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Cloud-Foundations/Dominator/lib/flags/commands"
	"github.com/Cloud-Foundations/Dominator/lib/flags/loadflags"
	"github.com/Cloud-Foundations/Dominator/lib/log/cmdlogger"
)

var (
	configFile = flag.String("configFile", "/etc/agwcert/config.yml",
		"Name of file containing configuration")
	configTemplate = flag.Bool("configTemplate", false,
		"If true, init writes a configuration template to stdout and exits")
	days = flag.Uint("days", 30,
		"Renewal threshold in days")
	deleteAll = flag.Bool("all", false,
		"If true, cleanup deletes challenge rules without prompting")
	domainFilter = flag.String("domain", "",
		"If specified, only process this domain")
	dryRun = flag.Bool("dryRun", false,
		"If true, show what would be done without doing it")
	force = flag.Bool("force", false,
		"If true, renew certificates regardless of remaining lifetime")
	gatewayFilter = flag.String("gateway", "",
		"If specified, only process domains on this gateway")
	outputFormat = flag.String("format", "table",
		"Output format for status: table, json or yaml")
)

func printUsage() {
	w := flag.CommandLine.Output()
	fmt.Fprintln(w, "Usage: agwcert [flags...] command [args...]")
	fmt.Fprintln(w, "Common flags:")
	flag.PrintDefaults()
	fmt.Fprintln(w, "Commands:")
	commands.PrintCommands(w, subcommands)
}

var subcommands = []commands.Command{
	{Command: "cleanup", Args: "", MinArgs: 0, MaxArgs: 0, CmdFunc: cleanupSubcommand},
	{Command: "init", Args: "", MinArgs: 0, MaxArgs: 0, CmdFunc: initSubcommand},
	{Command: "issue", Args: "", MinArgs: 0, MaxArgs: 0, CmdFunc: issueSubcommand},
	{Command: "renew", Args: "", MinArgs: 0, MaxArgs: 0, CmdFunc: renewSubcommand},
	{Command: "status", Args: "", MinArgs: 0, MaxArgs: 0, CmdFunc: statusSubcommand},
}

func doMain() int {
	if err := loadflags.LoadForCli("agwcert"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() < 1 {
		printUsage()
		return 3
	}
	logger := cmdlogger.New()
	return commands.RunCommands(subcommands, printUsage, logger)
}

func main() {
	os.Exit(doMain())
}
