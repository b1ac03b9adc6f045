package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Macmod/adcslint/config"
	"github.com/Macmod/adcslint/core"
	"github.com/Macmod/adcslint/issues"
	"github.com/Macmod/adcslint/perms"
	"github.com/Macmod/adcslint/principal"
	"github.com/Macmod/adcslint/report"
	"github.com/Macmod/adcslint/rules"
)

var (
	version = "0.1.0"
)

// Application entry point
func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		if err.Error() == "VERSION_REQUESTED" {
			printVersion()
			os.Exit(0)
		}
		log.Fatal(err)
	}

	logger, err := core.SetupLogger(cfg.VerbosityLevel, cfg.LogFile)
	if err != nil {
		log.Fatal(err)
	}

	started := time.Now()
	logger.Info().Str("version", version).Msg("adcslint starting")
	logger.Info().Str("config", cfg.ConfigPath).Msg("Config file")

	if cfg.CustomDns != "" {
		proto := "UDP"
		if cfg.DnsTcp {
			proto = "TCP"
		}
		logger.Info().Str("server", cfg.CustomDns).Str("protocol", proto).Msg("Custom DNS resolver")
	}

	permCatalog, err := perms.LoadCatalog(cfg.PermCatalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load permission catalog")
	}

	defs, err := rules.LoadTechniques(cfg.TechniqueCatalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load technique catalog")
	}

	techCatalog, techErrs := rules.NewCatalog(defs)
	for _, terr := range techErrs {
		logger.Error().Err(terr).Msg("Technique dropped from catalog")
	}
	if len(techCatalog.Techniques()) == 0 {
		logger.Fatal().Msg("No valid techniques in catalog, nothing to evaluate")
	}
	logger.Info().Strs("techniques", techCatalog.Techniques()).Msg("Technique catalog loaded")

	ctx := context.Background()

	var audit *auditRun
	if cfg.SnapshotIn != "" {
		logger.Info().Str("snapshot", cfg.SnapshotIn).Msg("Offline mode, loading snapshot")
		audit, err = loadSnapshot(ctx, cfg, logger)
	} else {
		audit, err = collectLive(ctx, cfg, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Collection failed")
	}
	defer audit.close()

	logger.Info().Int("objects", len(audit.objects)).Msg("Collection complete")

	// Classification pass: owners, enrollment rights, dangerous ACL
	// holders per object.
	lowPriv := cfg.RuntimeOptions.GetLowPrivPatterns()
	standardOwners := cfg.RuntimeOptions.GetStandardOwners()
	resolveName := func(name string) (string, error) {
		return audit.resolver.ToSid(ctx, name)
	}
	for _, obj := range audit.objects {
		perms.Annotate(obj, permCatalog, lowPriv, standardOwners, resolveName)
	}

	store := issues.NewStore()
	engine := rules.NewEngine(techCatalog, permCatalog, store, audit.resolver, logger)
	added := engine.Evaluate(ctx, audit.objects)
	logger.Info().Int("findings", added).Msg("Rule evaluation complete")

	if cfg.RuntimeOptions.GetExpandGroups() {
		expander := principal.NewExpander(audit.resolver, logger)
		lister := &groupLister{resolver: audit.resolver, expander: expander}
		store.ExpandGroupFindings(ctx, lister, cfg.RuntimeOptions.GetIncludeGroupFindings())
	}

	report.Summary(os.Stdout, store.Records())
	if !cfg.SummaryOnly {
		fmt.Println()
		report.Detailed(os.Stdout, store.Findings())
		report.CountByTechnique(os.Stdout, store.Findings())
	}

	logger.Info().Int("findings", store.Len()).
		Str("elapsed", core.FormatDuration(time.Since(started))).
		Msg("Audit complete")
}

// groupLister adapts the resolver cache and membership expander to the
// issue store's expansion interface.
type groupLister struct {
	resolver *principal.Resolver
	expander *principal.Expander
}

func (g *groupLister) IsGroup(sid string) bool {
	p, ok := g.resolver.Cached(sid)
	return ok && p.Class == principal.ClassGroup
}

func (g *groupLister) DirectMembers(ctx context.Context, groupSID string) []issues.Member {
	var out []issues.Member
	for _, m := range g.expander.DirectMembers(ctx, groupSID) {
		out = append(out, issues.Member{SID: m.SID, Name: m.Name, Resolved: m.Resolved})
	}
	return out
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("adcslint %s\n", version)
}
