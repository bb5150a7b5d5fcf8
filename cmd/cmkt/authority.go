package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/computemarket/cmkt/internal/controlplane"
	"github.com/computemarket/cmkt/internal/market"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/spf13/cobra"
)

// --- Authority ---

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Show or transfer the market authority",
	RunE:  runAuthorityShow,
}

var authorityTransferCmd = &cobra.Command{
	Use:   "transfer [new-authority]",
	Short: "Hand the authority role to another principal (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthorityTransfer,
}

// --- Escrow ---

var escrowCmd = &cobra.Command{
	Use:   "escrow",
	Short: "Inspect escrow custody",
}

var escrowBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the funds held in escrow",
	RunE:  runEscrowBalance,
}

var escrowCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the escrow balance equals the amounts of created and running tasks",
	RunE:  runEscrowCheck,
}

// --- Accounts ---

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Inspect principal accounts",
}

var accountBalanceCmd = &cobra.Command{
	Use:   "balance [principal]",
	Short: "Print a principal's net balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountBalance,
}

var accountEntriesCmd = &cobra.Command{
	Use:   "entries [principal]",
	Short: "List a principal's ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountEntries,
}

var accountFreezeCmd = &cobra.Command{
	Use:   "freeze [principal]",
	Short: "Stop a principal from receiving funds (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAccountFreeze(args[0], true)
	},
}

var accountUnfreezeCmd = &cobra.Command{
	Use:   "unfreeze [principal]",
	Short: "Allow a frozen principal to receive funds again (authority only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAccountFreeze(args[0], false)
	},
}

var entriesLimit int

func init() {
	authorityCmd.AddCommand(authorityTransferCmd)
	escrowCmd.AddCommand(escrowBalanceCmd, escrowCheckCmd)
	accountCmd.AddCommand(accountBalanceCmd, accountEntriesCmd, accountFreezeCmd, accountUnfreezeCmd)

	accountEntriesCmd.Flags().IntVar(&entriesLimit, "limit", 20, "Maximum number of entries")
}

func runAuthorityShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/authority")
	if err != nil {
		return err
	}
	var out controlplane.AuthorityResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return err
	}
	fmt.Println(out.Authority)
	return nil
}

func runAuthorityTransfer(cmd *cobra.Command, args []string) error {
	resp, err := apiPost("/authority/transfer", map[string]string{"new_authority": args[0]})
	if err != nil {
		return err
	}
	var out controlplane.AuthorityResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return err
	}
	fmt.Printf("Authority is now %s\n", out.Authority)
	return nil
}

func runEscrowBalance(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/escrow/balance")
	if err != nil {
		return err
	}
	var out controlplane.BalanceResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return err
	}
	fmt.Println(out.Balance)
	return nil
}

func runEscrowCheck(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/escrow/invariant")
	if err != nil {
		return err
	}
	var report market.InvariantReport
	if err := json.Unmarshal(resp, &report); err != nil {
		return err
	}
	fmt.Println(report.String())
	if !report.Holds {
		return errors.New("escrow balance does not match held tasks")
	}
	return nil
}

func runAccountBalance(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(accountPath(args[0], "/balance"))
	if err != nil {
		return err
	}
	var out controlplane.BalanceResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return err
	}
	fmt.Printf("%s\t%s\n", out.Account, out.Balance)
	return nil
}

func runAccountEntries(cmd *cobra.Command, args []string) error {
	resp, err := apiGet(accountPath(args[0], "/entries") + "?limit=" + strconv.Itoa(entriesLimit))
	if err != nil {
		return err
	}
	var entries []models.LedgerEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No entries found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tAMOUNT\tBALANCE\tTASK\tDESCRIPTION")
	for _, e := range entries {
		task := ""
		if e.TaskID != 0 {
			task = strconv.FormatUint(e.TaskID, 10)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(timeLayout), e.EntryType, e.Amount, e.Balance, task, truncate(e.Description, 40))
	}
	return w.Flush()
}

func runAccountFreeze(principal string, frozen bool) error {
	if _, err := apiPost(accountPath(principal, "/freeze"), map[string]bool{"frozen": frozen}); err != nil {
		return err
	}
	if frozen {
		fmt.Printf("Froze %s\n", principal)
	} else {
		fmt.Printf("Unfroze %s\n", principal)
	}
	return nil
}

func accountPath(principal, action string) string {
	return "/accounts/" + url.PathEscape(principal) + action
}
