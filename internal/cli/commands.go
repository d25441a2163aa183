package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/bnoracle/internal/backend"
	"github.com/Harshitk-cp/bnoracle/internal/bayes"
	"github.com/Harshitk-cp/bnoracle/internal/config"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/Harshitk-cp/bnoracle/internal/service"
	"github.com/spf13/cobra"
)

// session is one opened backend with the services commands need.
type session struct {
	net     *bayes.Network
	seed    map[string][][]float64
	actors  *service.ActorService
	cpts    *service.CPTService
	audit   *service.AuditService
	release func()
}

func (a *App) session(ctx context.Context) (*session, error) {
	net, seed, err := backend.Network()
	if err != nil {
		return nil, err
	}
	db, err := a.open(ctx, false)
	if err != nil {
		return nil, err
	}
	set := db.Set
	return &session{
		net:     net,
		seed:    seed,
		actors:  service.NewActorService(set.Actors, a.logger),
		cpts:    service.NewCPTService(set.CPTs, net, config.CPTTolerance(), a.logger),
		audit:   service.NewAuditService(set.Claims, set.Evidence, set.CPTs, set.Events, net, a.logger),
		release: db.Close,
	}, nil
}

func (a *App) newActorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actor",
		Short: "Manage actors and API keys",
	}

	var name string
	var roles []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an actor and print its API key",
		Long: `Create an actor with one or more roles and print its API key once.

Roles: reporter, governance, controller, auditor.

Examples:
  oraclectl actor create --name gov --roles governance
  oraclectl actor create --name field-1 --roles reporter`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.release()

			rs := make([]domain.Role, len(roles))
			for i, r := range roles {
				rs[i] = domain.Role(strings.TrimSpace(r))
			}
			actor, key, err := s.actors.Bootstrap(cmd.Context(), name, rs)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"actor": actor, "api_key": key})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Unique actor name")
	create.Flags().StringSliceVar(&roles, "roles", nil, "Comma-separated roles")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("roles")

	cmd.AddCommand(create)
	return cmd
}

func (a *App) newCPTCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cpt",
		Short: "Seed and inspect conditional probability tables",
	}

	var overwrite, uniform bool
	seed := &cobra.Command{
		Use:   "seed [network.yaml]",
		Short: "Write seed tables as new revisions",
		Long: `Write the cpts section of a network file as whole-table revisions.

Without an argument the tables in NETWORK_PATH are used. Nodes that already
have a revision are skipped unless --overwrite is given. --uniform seeds
every node with a uniform table instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.release()

			tables := s.seed
			switch {
			case uniform:
				tables = s.net.UniformTables()
			case len(args) == 1:
				spec, err := bayes.LoadSpec(args[0])
				if err != nil {
					return err
				}
				if spec.Name != s.net.Name() {
					return fmt.Errorf("%s describes network %q, deployment runs %q", args[0], spec.Name, s.net.Name())
				}
				tables = spec.CPTs
			}
			if len(tables) == 0 {
				return fmt.Errorf("no tables to seed; pass a network file with cpts or --uniform")
			}

			revs, err := s.cpts.Seed(cmd.Context(), operator(domain.RoleGovernance), tables, overwrite)
			if err != nil {
				return err
			}
			return a.printJSON(revs)
		},
	}
	seed.Flags().BoolVar(&overwrite, "overwrite", false, "Replace nodes that already have tables")
	seed.Flags().BoolVar(&uniform, "uniform", false, "Seed uniform tables for every node")

	var nodes []string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the latest revision of each table",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.release()

			snap, err := s.cpts.Snapshot(cmd.Context(), nodes)
			if err != nil {
				return err
			}
			return a.printJSON(snap)
		},
	}
	show.Flags().StringSliceVar(&nodes, "nodes", nil, "Restrict to these nodes")

	cmd.AddCommand(seed, show)
	return cmd
}

type inferOptions struct {
	evidence map[string]int
	indexed  []string
	fromDB   bool
}

func (a *App) newInferCmd() *cobra.Command {
	opts := &inferOptions{}

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run inference offline on ad-hoc evidence",
		Long: `Compute target posteriors for the given observations without touching
any claim. Nodes left out are treated as unobserved.

Tables come from the network file's cpts section, or from the store's latest
revisions with --db.

Examples:
  oraclectl infer --evidence GPS=1,PC=1,PR=1
  oraclectl infer --at 0=1 --at 3=0 --db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.infer(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringToIntVar(&opts.evidence, "evidence", nil, "Observed states by node name (NODE=STATE,...)")
	cmd.Flags().StringArrayVar(&opts.indexed, "at", nil, "Observed state by evidence index (INDEX=STATE), repeatable")
	cmd.Flags().BoolVar(&opts.fromDB, "db", false, "Read tables from the store instead of the network file")
	return cmd
}

func (a *App) infer(ctx context.Context, opts *inferOptions) error {
	net, tables, err := backend.Network()
	if err != nil {
		return err
	}
	revisions := map[string]int64{}
	if opts.fromDB {
		db, err := a.open(ctx, false)
		if err != nil {
			return err
		}
		defer db.Close()
		snap, err := db.Set.CPTs.Snapshot(ctx, net.NodeNames())
		if err != nil {
			return err
		}
		tables, revisions = snap.Tables(), snap.Revisions()
	}
	if len(tables) == 0 {
		return fmt.Errorf("no tables: set NETWORK_PATH to a file with cpts or use --db")
	}

	evidence := make(map[string]int, len(opts.evidence)+len(opts.indexed))
	for node, state := range opts.evidence {
		evidence[node] = state
	}
	for _, pair := range opts.indexed {
		idx, state, err := parsePair(pair)
		if err != nil {
			return fmt.Errorf("--at %q: %w", pair, err)
		}
		node, ok := net.ObservationByIndex(idx)
		if !ok {
			return fmt.Errorf("--at %q: no observation at index %d", pair, idx)
		}
		evidence[node.Name] = state
	}

	ctx, cancel := context.WithTimeout(ctx, config.InferenceTimeout())
	defer cancel()
	res, err := net.Infer(ctx, tables, evidence)
	if err != nil {
		return err
	}

	type posterior struct {
		Node         string    `json:"node"`
		Distribution []float64 `json:"distribution"`
		PPM          []int64   `json:"ppm"`
	}
	out := struct {
		Evidence   map[string]int   `json:"evidence"`
		Missing    []string         `json:"missing_required"`
		Likelihood float64          `json:"likelihood"`
		Posteriors []posterior      `json:"posteriors"`
		Revisions  map[string]int64 `json:"cpt_revisions,omitempty"`
	}{
		Evidence:   evidence,
		Missing:    net.Missing(evidence),
		Likelihood: res.Likelihood,
		Revisions:  revisions,
	}
	for _, m := range res.Marginals {
		out.Posteriors = append(out.Posteriors, posterior{Node: m.Node, Distribution: m.Distribution, PPM: bayes.ToPPM(m.Distribution)})
	}
	return a.printJSON(out)
}

func parsePair(s string) (int, int, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, fmt.Errorf("want INDEX=STATE")
	}
	idx, err := strconv.Atoi(strings.TrimSpace(k))
	if err != nil {
		return 0, 0, err
	}
	state, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, 0, err
	}
	return idx, state, nil
}

func (a *App) newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit a resolved claim or the event chain",
	}

	claim := &cobra.Command{
		Use:   "claim <id>",
		Short: "Recompute a resolved belief from its recorded inputs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("claim id: %w", err)
			}
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.release()

			audit, err := s.audit.VerifyClaim(cmd.Context(), operator(domain.RoleAuditor), id)
			if err != nil {
				return err
			}
			if err := a.printJSON(audit); err != nil {
				return err
			}
			if !audit.Match {
				return fmt.Errorf("claim %d: recomputed digest does not match", id)
			}
			return nil
		},
	}

	chain := &cobra.Command{
		Use:   "chain",
		Short: "Walk the event log and check every hash link",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.release()

			audit, err := s.audit.VerifyChain(cmd.Context(), operator(domain.RoleAuditor))
			if err != nil {
				return err
			}
			return a.printJSON(audit)
		},
	}

	cmd.AddCommand(claim, chain)
	return cmd
}

func (a *App) newEventsCmd() *cobra.Command {
	var after int64
	var limit int
	var types []string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print ledger events after a sequence number",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer db.Close()

			events, err := db.Set.Events.LoadAfter(cmd.Context(), after, limit)
			if err != nil {
				return err
			}
			if len(types) > 0 {
				want := make(map[string]bool, len(types))
				for _, t := range types {
					want[t] = true
				}
				kept := events[:0]
				for _, ev := range events {
					if want[string(ev.Type)] {
						kept = append(kept, ev)
					}
				}
				events = kept
			}
			return a.printJSON(events)
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "Only events with a greater sequence number")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to read")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Keep only these event types")
	return cmd
}
