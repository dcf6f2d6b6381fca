// Command corescope loads a Linux/Android core dump and prints a
// one-shot post-mortem summary: architecture, threads, load blocks,
// and the dynamic linker's view of loaded objects. It is not the
// interactive command dispatcher a live "print"/"logcat" session would
// need — that collaborator is out of scope here.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/xyproto/corescope/internal/config"
	"github.com/xyproto/corescope/internal/corefile"
	"github.com/xyproto/corescope/internal/corelog"
)

func main() {
	var (
		corePath   = flag.String("core", "", "path to the ELF core file (required)")
		configPath = flag.String("config", "", "path to a TOML config file")
		oatVersion = flag.Int("oat-version", 225, "ART OAT version to gate the Layout Registry on")
		sysroot    = flag.String("sysroot", "", "colon-separated list of object:path pairs for sysroot substitution")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *corePath == "" {
		fmt.Fprintln(os.Stderr, "usage: corescope -core <path> [-oat-version N] [-sysroot obj:path[:obj:path...]] [-v]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corescope: config: %v\n", err)
		os.Exit(1)
	}
	cfg.Verbose = cfg.Verbose || *verbose
	log := corelog.New(os.Stderr, cfg.Verbose)

	core, err := corefile.Load(*corePath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corescope: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	if _, err := core.InitLayout(*oatVersion); err != nil {
		log.Warnf("layout registry init failed: %v", err)
	}

	if len(cfg.SysrootPaths) > 0 {
		core.ApplySysrootSearch(cfg.SysrootPaths)
	}
	if *sysroot != "" {
		applySysrootFlag(core, *sysroot, log)
	}

	printSummary(core)
}

func applySysrootFlag(core *corefile.Core, spec string, log *corelog.Logger) {
	parts := strings.Split(spec, ":")
	for i := 0; i+1 < len(parts); i += 2 {
		obj, path := parts[i], parts[i+1]
		if err := core.ApplySysroot(obj, path); err != nil {
			log.Warnf("sysroot substitution for %s failed: %v", obj, err)
		}
	}
}

func printSummary(core *corefile.Core) {
	s := core.Summarize()
	fmt.Printf("machine:     %s\n", s.Machine)
	fmt.Printf("threads:     %d\n", s.ThreadCount)
	fmt.Printf("load blocks: %d\n", s.LoadBlocks)
	fmt.Printf("objects:     %d\n", s.Objects)
	if s.MainObject != "" {
		fmt.Printf("main object: %s\n", s.MainObject)
	}
}
