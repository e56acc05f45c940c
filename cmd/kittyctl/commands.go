package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kittycore/internal/core"
	"kittycore/internal/ledger"
)

type rootOptions struct {
	configPath string
	caller     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kittyctl",
		Short:         "Create, breed and trade kitties in a kittycore registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file (KITTYCORE_* variables override it)")
	root.PersistentFlags().StringVar(&opts.caller, "caller", "", "signed account executing the call")

	root.AddCommand(
		newFundCommand(opts),
		newCreateCommand(opts),
		newTransferCommand(opts),
		newBreedCommand(opts),
		newShowCommand(opts),
		newLineageCommand(opts),
		newOwnedCommand(opts),
		newEventsCommand(opts),
		newAdvanceCommand(opts),
		newExportCommand(opts),
		newAuditCommand(opts),
	)
	return root
}

// run opens the app around fn. Mutating commands save state even when fn
// fails, since a rejected call still consumed its call index.
func (o *rootOptions) run(cmd *cobra.Command, mutates bool, fn func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	a, err := openApp(ctx, o.configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if mutates {
		a.dirty = true
	}
	defer func() {
		if closeErr := a.close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	return fn(ctx, a)
}

func (o *rootOptions) signed() (core.AccountID, error) {
	if o.caller == "" {
		return "", errors.New("--caller is required")
	}
	return core.AccountID(o.caller), nil
}

func newFundCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund <account> <amount>",
		Short: "Set the free balance of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse amount %q: %w", args[1], err)
			}
			return opts.run(cmd, true, func(_ context.Context, a *app) error {
				who := core.AccountID(args[0])
				a.book.SetFree(who, core.Balance(amount))
				return printJSON(cmd.OutOrStdout(), accountView{Account: who, Balances: a.book.Account(who)})
			})
		},
	}
}

func newCreateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Mint a kitty for the caller, reserving the deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caller, err := opts.signed()
			if err != nil {
				return err
			}
			return opts.run(cmd, true, func(ctx context.Context, a *app) error {
				var kitty core.Kitty
				err := a.chain.Dispatch(ctx, caller, func(ctx context.Context, origin core.Origin) error {
					var err error
					kitty, _, err = a.svc.Create(ctx, origin)
					return err
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), newKittyView(kitty, caller))
			})
		},
	}
}

func newTransferCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <to> <kitty-id>",
		Short: "Hand one of the caller's kitties to another account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := opts.signed()
			if err != nil {
				return err
			}
			id, err := parseKittyID(args[1])
			if err != nil {
				return err
			}
			return opts.run(cmd, true, func(ctx context.Context, a *app) error {
				var entry core.Ownership
				err := a.chain.Dispatch(ctx, caller, func(ctx context.Context, origin core.Origin) error {
					var err error
					entry, _, err = a.svc.Transfer(ctx, origin, core.AccountID(args[0]), id)
					return err
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}
}

func newBreedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "breed <kitty-a> <kitty-b>",
		Short: "Breed two of the caller's kitties into a new one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := opts.signed()
			if err != nil {
				return err
			}
			first, err := parseKittyID(args[0])
			if err != nil {
				return err
			}
			second, err := parseKittyID(args[1])
			if err != nil {
				return err
			}
			return opts.run(cmd, true, func(ctx context.Context, a *app) error {
				var child core.Kitty
				err := a.chain.Dispatch(ctx, caller, func(ctx context.Context, origin core.Origin) error {
					var err error
					child, _, err = a.svc.Breed(ctx, origin, first, second)
					return err
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), newKittyView(child, caller))
			})
		},
	}
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <kitty-id>",
		Short: "Print a kitty and its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKittyID(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, false, func(_ context.Context, a *app) error {
				kitty, ok := a.svc.Kitty(id)
				if !ok {
					return fmt.Errorf("kitty %d: %w", id, core.ErrInvalidID)
				}
				owner, _ := a.svc.OwnerOf(id)
				return printJSON(cmd.OutOrStdout(), newKittyView(kitty, owner))
			})
		},
	}
}

type lineageView struct {
	KittyID  core.KittyID     `json:"kitty_id"`
	Parents  *[2]core.KittyID `json:"parents"`
	Children []core.KittyID   `json:"children"`
	Partners []core.KittyID   `json:"partners"`
}

func newLineageCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <kitty-id>",
		Short: "Print the parents, children and breeding partners of a kitty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseKittyID(args[0])
			if err != nil {
				return err
			}
			return opts.run(cmd, false, func(ctx context.Context, a *app) error {
				view := lineageView{KittyID: id}
				var err error
				if view.Parents, err = a.svc.Parents(ctx, id); err != nil {
					return err
				}
				if view.Children, err = a.svc.Children(ctx, id); err != nil {
					return err
				}
				if view.Partners, err = a.svc.Partners(ctx, id); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
}

type accountView struct {
	Account  core.AccountID `json:"account"`
	Balances ledger.Account `json:"balances"`
	Kitties  []core.KittyID `json:"kitties,omitempty"`
}

func newOwnedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "owned <account>",
		Short: "List the kitties and balances of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, false, func(ctx context.Context, a *app) error {
				who := core.AccountID(args[0])
				ids, err := a.svc.KittiesOf(ctx, who)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), accountView{Account: who, Balances: a.book.Account(who), Kitties: ids})
			})
		},
	}
}

func newEventsCommand(opts *rootOptions) *cobra.Command {
	var after uint64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print journaled registry events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, false, func(_ context.Context, a *app) error {
				events := a.svc.Events(after, limit)
				if events == nil {
					events = []core.Event{}
				}
				return printJSON(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "only events with a greater sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (0 for all)")
	return cmd
}

func newAdvanceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "advance <block>",
		Short: "Run the chain forward to a block, refreshing entropy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse block %q: %w", args[0], err)
			}
			return opts.run(cmd, true, func(_ context.Context, a *app) error {
				block := a.chain.RunToBlock(target)
				return printJSON(cmd.OutOrStdout(), map[string]uint64{"block": block})
			})
		},
	}
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Archive pending events and write a registry snapshot to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, false, func(ctx context.Context, a *app) error {
				batches, err := a.archiver.Flush(ctx)
				if err != nil {
					return err
				}
				state, err := a.svc.ExportState()
				if err != nil {
					return err
				}
				key, err := a.archiver.WriteSnapshot(ctx, state)
				if err != nil {
					return err
				}
				out := map[string]any{"snapshot": key, "event_batches": batches}
				switch next, err := a.svc.NextKittyID(ctx); {
				case err == nil:
					out["next_kitty_id"] = next
				case !errors.Is(err, core.ErrOverflow):
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check reserved balances against kitty deposits; exits 2 on mismatch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, false, func(ctx context.Context, a *app) error {
				mismatches, err := a.svc.AuditCollateral(ctx)
				if err != nil {
					return err
				}
				if mismatches == nil {
					mismatches = []core.CollateralMismatch{}
				}
				if err := printJSON(cmd.OutOrStdout(), mismatches); err != nil {
					return err
				}
				if len(mismatches) > 0 {
					return exitError{code: 2, err: fmt.Errorf("%d accounts with mismatched collateral", len(mismatches))}
				}
				return nil
			})
		},
	}
}

type kittyView struct {
	ID        core.KittyID   `json:"id"`
	DNA       string         `json:"dna"`
	Deposit   core.Balance   `json:"deposit"`
	Owner     core.AccountID `json:"owner"`
	CreatedAt time.Time      `json:"created_at"`
}

func newKittyView(k core.Kitty, owner core.AccountID) kittyView {
	return kittyView{ID: k.ID, DNA: k.DNA.String(), Deposit: k.Deposit, Owner: owner, CreatedAt: k.CreatedAt}
}

func parseKittyID(raw string) (core.KittyID, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse kitty id %q: %w", raw, err)
	}
	return core.KittyID(id), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
