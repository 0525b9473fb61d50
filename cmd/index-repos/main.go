// Command index-repos promotes consistent staged package updates into
// a repository's public index.
package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/xbps-tools/index-repos/internal/diskrepo"
	"github.com/xbps-tools/index-repos/internal/log"
	"github.com/xbps-tools/index-repos/internal/repoindex"
)

func main() {
	verbose := flag.Bool("v", false, "enable trace logging")
	dryRun := flag.Bool("dry-run", false, "compute the promotion decision without writing any index")
	compression := flag.String("compression", "", "compression to use for the written index.toml (\"\" or \"gzip\")")
	discover := flag.Bool("discover", false, "treat arguments as roots to scan for repositories, instead of repository paths directly")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	repoPaths := args
	if *discover {
		var found []string
		for _, root := range args {
			repos, err := diskrepo.DiscoverRepos(root)
			if err != nil {
				fmt.Fprintf(os.Stderr, "index-repos: %s\n", err)
				os.Exit(1)
			}
			found = append(found, repos...)
		}
		repoPaths = found
	}
	if len(repoPaths) == 0 {
		fmt.Fprintln(os.Stderr, "index-repos: no repositories found")
		os.Exit(1)
	}

	logger := log.New(os.Stderr)
	logger.SetTrace(*verbose)

	orderer := diskrepo.SemverOrderer{}
	matcher := diskrepo.NewPatternMatcher(orderer)

	opts := repoindex.Options{
		Matcher:     matcher,
		Orderer:     orderer,
		Locker:      diskrepo.FileLocker{},
		Open:        diskrepo.Open,
		Writer:      diskrepo.FileRepoWriter{},
		Compression: *compression,
		DryRun:      *dryRun,
		Log:         logger,
	}

	result, err := repoindex.Run(repoPaths, opts)
	if err != nil {
		if result != nil && result.Inconsistent {
			reportInconsistency(logger, result)
		}
		fmt.Fprintf(os.Stderr, "index-repos: %s\n", err)
		os.Exit(exitCodeFor(err))
	}

	reportSummary(result, repoPaths)
}

// exitCodeFor maps an engine error to an errno-shaped exit code:
// EPROTO for a SAT formula inconsistent even before considering
// promotion, ENOMEM for resource exhaustion, and for operational
// failures the originating errno recovered from the cause chain (lock
// contention surfaces as EWOULDBLOCK). A plain 1 covers failures with
// no errno at their root.
func exitCodeFor(err error) int {
	switch repoindex.ClassOf(err) {
	case repoindex.ClassInconsistent:
		return int(syscall.EPROTO)
	case repoindex.ClassResourceExhaustion:
		return int(syscall.ENOMEM)
	}
	if no, ok := errno(err); ok {
		return int(no)
	}
	return 1
}

// errno digs the originating syscall.Errno out of err's cause chain.
func errno(err error) (syscall.Errno, bool) {
	cause := errors.Cause(err)
	if no, ok := cause.(syscall.Errno); ok {
		return no, true
	}
	if pe, ok := cause.(*os.PathError); ok {
		if no, ok := pe.Err.(syscall.Errno); ok {
			return no, true
		}
	}
	return 0, false
}

func reportSummary(r *repoindex.Result, repoPaths []string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "repositories\t%d\n", len(repoPaths))
	fmt.Fprintf(w, "packages\t%d\n", r.NodeCount)
	fmt.Fprintf(w, "promoted\t%d\n", r.Promoted)
	if r.SoftErrors {
		fmt.Fprintf(w, "warnings\tyes, see log\n")
	}
	w.Flush()
}

func reportInconsistency(logger *log.Logger, r *repoindex.Result) {
	logger.Warnf("repository is inconsistent even without staging; minimal culprit clauses:")
	for _, clause := range r.Explanation {
		logger.Logf("  %s", clause)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: index-repos [flags] <repo-path>...")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Flags:")
	w := tabwriter.NewWriter(os.Stderr, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "\t-v\tenable trace logging\n")
	fmt.Fprintf(w, "\t-dry-run\tcompute the decision without writing any index\n")
	fmt.Fprintf(w, "\t-compression\tcompression for the written index (\"\" or \"gzip\")\n")
	fmt.Fprintf(w, "\t-discover\ttreat arguments as roots to scan for repositories\n")
	w.Flush()
}
