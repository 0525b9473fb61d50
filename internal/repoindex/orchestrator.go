package repoindex

import (
	"io/ioutil"

	"github.com/xbps-tools/index-repos/internal/log"
)

// Options configures one invocation of Run.
type Options struct {
	Matcher     PatternMatcher
	Orderer     VersionOrderer
	Locker      Locker
	Open        Opener
	Writer      RepoWriter
	Compression string
	DryRun      bool
	Log         *log.Logger
}

// Result summarizes one completed invocation, for the CLI to report.
type Result struct {
	NodeCount    int
	ReposCount   int
	Promoted     int
	Inconsistent bool
	Explanation  []string
	SoftErrors   bool
}

// Run performs the full lock → open → build → solve → write → unlock
// sequence.
func Run(repoPaths []string, opts Options) (*Result, error) {
	if opts.Log == nil {
		// Callers of the exported engine API (as opposed to the CLI,
		// which always constructs one over os.Stderr) may reasonably
		// leave Log unset; every diagnostic path below assumes a
		// non-nil logger, so default to one that discards its output.
		opts.Log = log.New(ioutil.Discard)
	}

	g := NewGraph()
	builder := NewBuilder(g, opts.Orderer, opts.Log)

	type locked struct {
		path   string
		repo   *Repository
		unlock func() error
	}
	var opened []locked

	defer func() {
		for i := len(opened) - 1; i >= 0; i-- {
			if opened[i].unlock != nil {
				if err := opened[i].unlock(); err != nil {
					opts.Log.Warnf("unlocking %s: %s", opened[i].path, err)
				}
			}
		}
	}()

	for _, path := range repoPaths {
		unlock, err := opts.Locker.Lock(path)
		if err != nil {
			return nil, opFailure(err, "locking %s", path)
		}
		opened = append(opened, locked{path: path, unlock: unlock})

		repo, err := opts.Open(path)
		if err != nil {
			return nil, opFailure(err, "opening %s", path)
		}
		opened[len(opened)-1].repo = repo

		repoIndex := len(opened) - 1
		builder.SetRepoPath(repoIndex, path)
		if err := builder.LoadRepo(repo.Public, OverlayPublic, repoIndex); err != nil {
			return nil, err
		}
		if err := builder.LoadRepo(repo.Stage, OverlayStage, repoIndex); err != nil {
			return nil, err
		}

		g.ReposCount++
	}

	builder.BuildProviderIndexes(opts.Matcher)

	gen := NewConstraintGenerator(g, opts.Log)
	formula := gen.Generate(opts.Matcher)

	decision, err := Solve(formula)
	if err != nil {
		if ClassOf(err) == ClassInconsistent {
			return &Result{
				NodeCount:    g.NodeCount(),
				ReposCount:   g.ReposCount,
				Inconsistent: true,
				Explanation:  decision.Explanation,
				SoftErrors:   builder.SoftErr || gen.SoftErr,
			}, err
		}
		return nil, err
	}

	writer := NewWriter(g)
	entries := writer.Apply(decision)

	if !opts.DryRun {
		// Flush every opened repository, not only the ones with a
		// non-empty selection: a repository whose entire node set was
		// dropped (or that started out empty) still gets its public
		// index rewritten to match.
		for repoIndex := range opened {
			dict := entries[repoIndex]
			if dict == nil {
				dict = map[string]*PackageDict{}
			}
			path := opened[repoIndex].path
			meta := opened[repoIndex].repo.MetaBlob
			if err := opts.Writer.Flush(path, dict, meta, opts.Compression); err != nil {
				return nil, opFailure(err, "flushing %s", path)
			}
		}
	}

	return &Result{
		NodeCount:  g.NodeCount(),
		ReposCount: g.ReposCount,
		Promoted:   len(decision.Promoted),
		SoftErrors: builder.SoftErr || gen.SoftErr,
	}, nil
}
