package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/Cloud-Foundations/Dominator/lib/flags/loadflags"
	"github.com/Cloud-Foundations/Dominator/lib/log/serverlogger"
	"github.com/Cloud-Foundations/tricorder/go/tricorder"
)

var (
	portNum = flag.Uint("portNum", 8080,
		"Port number to listen on for challenge and control requests")
)

func printUsage() {
	fmt.Fprintln(os.Stderr,
		"Usage: acme-responder [flags...]")
	fmt.Fprintln(os.Stderr, "Common flags:")
	flag.PrintDefaults()
}

func doMain() error {
	if err := loadflags.LoadForDaemon("acme-responder"); err != nil {
		return err
	}
	flag.Usage = printUsage
	flag.Parse()
	tricorder.RegisterFlags()
	responder := newResponder(serverlogger.New(""))
	return http.ListenAndServe(
		":"+strconv.FormatUint(uint64(*portNum), 10), responder)
}

func main() {
	if err := doMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}
