package cli

import (
	"encoding/base64"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/spf13/cobra"

	"github.com/mrz1836/tessera/internal/cache"
	"github.com/mrz1836/tessera/internal/chain"
	"github.com/mrz1836/tessera/internal/chain/rpc"
	"github.com/mrz1836/tessera/internal/output"
	"github.com/mrz1836/tessera/internal/txwallet"
	tserr "github.com/mrz1836/tessera/pkg/errors"
)

// txTimeout bounds signing and sending. External wallets wait on the user.
const txTimeout = 5 * time.Minute

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var (
	// txConfirm waits for confirmation after sending.
	txConfirm bool
	// txCommitment is the commitment to wait for.
	txCommitment string
	// txTo is the transfer recipient.
	txTo string
	// txAmount is the transfer amount in SOL.
	txAmount string
	// txYes skips the transfer confirmation prompt.
	txYes bool
	// balanceCached serves a recent cached balance without a network call.
	balanceCached bool
)

// txCmd is the parent command for transaction operations.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Sign and send transactions",
	Long:  `Sign transactions with the active wallet and broadcast them to the cluster.`,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txSendCmd = &cobra.Command{
	Use:   "send <base64-transaction|->",
	Short: "Sign and send a serialized transaction",
	Long: `Sign a base64 serialized transaction with the active wallet and send it.
Pass - to read the transaction from stdin.

The transaction is checked before signing: it must be well formed and its
fee payer must be the active wallet.`,
	Example: `  tessera tx send AQAAAAAAAA...
  build-tx | tessera tx send - --confirm --commitment finalized`,
	Args: cobra.ExactArgs(1),
	RunE: runTxSend,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txTransferCmd = &cobra.Command{
	Use:     "transfer",
	Short:   "Send SOL from the active wallet",
	Long:    `Build, sign and send a SOL transfer from the active wallet.`,
	Example: `  tessera tx transfer --to 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --amount 0.05`,
	Args:    cobra.NoArgs,
	RunE:    runTxTransfer,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var txConfirmCmd = &cobra.Command{
	Use:   "confirm <signature>",
	Short: "Wait for a transaction to confirm",
	Long: `Poll the cluster until a transaction reaches the requested commitment or
broadcast.confirm_timeout_seconds passes.`,
	Example: `  tessera tx confirm 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW
  tessera tx confirm <signature> --commitment finalized`,
	Args: cobra.ExactArgs(1),
	RunE: runTxConfirm,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var balanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Show the SOL balance of the active wallet",
	Long: `Show the SOL balance of an address. Without an address the active signing
wallet is used.

Every fetched balance is remembered. When the RPC endpoint cannot be reached
the last known balance is shown with its age. With --cached a balance fetched
in the last five minutes is shown without contacting the network.`,
	Example: `  tessera balance
  tessera balance 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
  tessera balance --cached -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(txCmd, balanceCmd)
	txCmd.AddCommand(txSendCmd, txTransferCmd, txConfirmCmd)

	for _, c := range []*cobra.Command{txSendCmd, txTransferCmd, txConfirmCmd} {
		c.Flags().StringVar(&txCommitment, "commitment", "", "commitment to wait for: processed, confirmed, finalized")
		_ = c.RegisterFlagCompletionFunc("commitment", cobra.FixedCompletions(
			[]string{"processed", "confirmed", "finalized"}, cobra.ShellCompDirectiveNoFileComp))
	}
	for _, c := range []*cobra.Command{txSendCmd, txTransferCmd} {
		c.Flags().BoolVar(&txConfirm, "confirm", false, "wait for confirmation")
	}

	txTransferCmd.Flags().StringVar(&txTo, "to", "", "recipient address (required)")
	txTransferCmd.Flags().StringVar(&txAmount, "amount", "", "amount in SOL (required)")
	txTransferCmd.Flags().BoolVarP(&txYes, "yes", "y", false, "skip the confirmation prompt")
	balanceCmd.Flags().BoolVar(&balanceCached, "cached", false, "use a recent cached balance when available")
	_ = txTransferCmd.MarkFlagRequired("to")
	_ = txTransferCmd.MarkFlagRequired("amount")

	txCmd.GroupID = groupWallet
	balanceCmd.GroupID = groupWallet
}

// openSigning opens every service a signing command needs.
func openSigning(cmd *cobra.Command) error {
	ctx, cancel := contextWithTimeout(cmd, cfg.AuthInitTimeout()+5*time.Second)
	defer cancel()

	if err := cmdCtx.openAuth(ctx); err != nil {
		return err
	}
	if err := cmdCtx.openWallets(); err != nil {
		return err
	}
	cmdCtx.openTx()
	return nil
}

func commitment() chain.Commitment {
	if txCommitment != "" {
		return chain.ParseCommitment(txCommitment)
	}
	return chain.ParseCommitment(cfg.Broadcast.Commitment)
}

func runTxSend(cmd *cobra.Command, args []string) error {
	unsigned, err := readTransactionArg(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	if err := openSigning(cmd); err != nil {
		return err
	}
	return sendAndReport(cmd, unsigned)
}

func runTxTransfer(cmd *cobra.Command, _ []string) error {
	to, err := solana.PublicKeyFromBase58(strings.TrimSpace(txTo))
	if err != nil {
		return tserr.WithDetails(tserr.ErrInvalidInput, map[string]string{"to": txTo})
	}
	invalidAmount := tserr.WithDetails(tserr.ErrInvalidInput, map[string]string{"amount": txAmount})
	lamports, err := chain.ParseSOL(txAmount, invalidAmount)
	if err != nil {
		return err
	}
	if lamports == 0 {
		return invalidAmount
	}
	if err := openSigning(cmd); err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	from, _, err := cmdCtx.Tx.ActiveWallet(ctx)
	if err != nil {
		return err
	}
	payer, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return tserr.WithCause(tserr.ErrInvalidInput, err)
	}
	latest, err := cmdCtx.RPC.GetLatestBlockhash(ctx, chain.CommitmentFinalized)
	if err != nil {
		return err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(lamports, payer, to).Build()},
		latest.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return tserr.WithCause(tserr.ErrInvalidTransaction, err)
	}

	if !txYes && !formatterFor(cmd).IsJSON() {
		question := "Send " + chain.FormatLamports(lamports) + " SOL from " + from + " to " + to.String() + "?"
		if !promptConfirmFn(cmd.InOrStdin(), question) {
			return tserr.ErrUserCancelled
		}
	}
	return sendAndReport(cmd, base64.StdEncoding.EncodeToString(raw))
}

// warnWalletSelection tells the user the OS picker is about to choose the
// wallet app and how to remember one instead.
func warnWalletSelection(cmd *cobra.Command) bool {
	if !cmdCtx.Tx.NeedsWalletSelection() {
		return false
	}
	output.Warn(cmd.ErrOrStderr(),
		"no wallet app is remembered for the active wallet, so the system picker will open; run 'tessera wallet use <address> --app <wallet>' to choose one")
	return true
}

func sendAndReport(cmd *cobra.Command, unsigned string) error {
	warnWalletSelection(cmd)

	ctx, cancel := contextWithTimeout(cmd, txTimeout)
	defer cancel()

	var (
		res *txwallet.Result
		err error
	)
	if txConfirm {
		res, err = cmdCtx.Tx.SignSendAndConfirm(ctx, unsigned, commitment(), 0)
	} else {
		res, err = cmdCtx.Tx.SignAndSendTransaction(ctx, unsigned)
	}
	if err != nil {
		if res != nil {
			// Sent but not confirmed. The signature is still worth showing.
			return tserr.WithDetails(err, map[string]string{"signature": res.Signature})
		}
		return err
	}

	return formatterFor(cmd).Emit(res, func(w io.Writer) error {
		out(w, "Sent %s\n", res.Signature)
		out(w, "  signed by: %s (%s)\n", res.Wallet, res.Type)
		if res.Status != nil {
			out(w, "  status:    %s at slot %d\n", res.Status.ConfirmationStatus, res.Status.Slot)
		}
		return nil
	})
}

// readTransactionArg returns the transaction argument, reading stdin for "-".
func readTransactionArg(stdin io.Reader, arg string) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", tserr.WithCause(tserr.ErrInvalidInput, err)
	}
	tx := strings.TrimSpace(string(data))
	if tx == "" {
		return "", tserr.WithSuggestion(tserr.ErrInvalidInput, "no transaction on stdin")
	}
	return tx, nil
}

type confirmReport struct {
	Signature string               `json:"signature"`
	Status    *rpc.SignatureStatus `json:"status"`
}

func runTxConfirm(cmd *cobra.Command, args []string) error {
	cmdCtx.openChain()

	ctx, cancel := contextWithTimeout(cmd, cfg.ConfirmTimeout()+5*time.Second)
	defer cancel()

	status, err := cmdCtx.Broadcaster.ConfirmTransaction(ctx, args[0], commitment(), 0)
	if err != nil {
		return err
	}
	report := confirmReport{Signature: args[0], Status: status}
	return formatterFor(cmd).Emit(report, func(w io.Writer) error {
		out(w, "%s is %s at slot %d\n", args[0], status.ConfirmationStatus, status.Slot)
		return nil
	})
}

type balanceReport struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
	Cluster  string `json:"cluster"`
	Cached   bool   `json:"cached,omitempty"`
	Age      string `json:"age,omitempty"`
}

func runBalance(cmd *cobra.Command, args []string) error {
	var address string
	if len(args) == 1 {
		address = args[0]
		cmdCtx.openChain()
	} else {
		if err := openSigning(cmd); err != nil {
			return err
		}
		ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
		defer cancel()
		var err error
		if address, _, err = cmdCtx.Tx.ActiveWallet(ctx); err != nil {
			return err
		}
	}

	cluster := cmdCtx.cluster().String()
	storage := cache.NewFileStorage(filepath.Join(cmdCtx.home(), cache.FileName))
	balances, err := storage.Load()
	if err != nil {
		// A corrupt file has been moved aside and balances is empty.
		cmdCtx.Logger.Warn("balance cache: %v", err)
		if balances == nil {
			balances = cache.NewBalanceCache()
		}
	}

	if balanceCached {
		if entry, ok, age := balances.Get(cluster, address); ok && age <= cache.DefaultStaleness {
			return writeBalance(cmd, cachedReport(entry, age))
		}
	}

	ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
	defer cancel()

	lamports, err := cmdCtx.RPC.GetBalance(ctx, address, commitment())
	if err != nil {
		if !tserr.Is(err, tserr.ErrNetworkError) && !tserr.Is(err, tserr.ErrTimeout) {
			return err
		}
		entry, ok, age := balances.Get(cluster, address)
		if !ok {
			return err
		}
		cmdCtx.Logger.Warn("balance: serving cached value for %s: %v", address, err)
		output.Warn(cmd.ErrOrStderr(), "RPC unreachable, showing the last known balance")
		return writeBalance(cmd, cachedReport(entry, age))
	}

	balances.Set(cluster, address, lamports)
	if n := balances.Prune(cache.DefaultRetention); n > 0 {
		cmdCtx.Logger.Debug("balance cache: pruned %d old entries", n)
	}
	if err := storage.Save(balances); err != nil {
		cmdCtx.Logger.Warn("balance cache: %v", err)
	}
	return writeBalance(cmd, balanceReport{
		Address:  address,
		Lamports: lamports,
		SOL:      chain.FormatLamports(lamports),
		Cluster:  cluster,
	})
}

func cachedReport(entry cache.Entry, age time.Duration) balanceReport {
	return balanceReport{
		Address:  entry.Address,
		Lamports: entry.Lamports,
		SOL:      chain.FormatLamports(entry.Lamports),
		Cluster:  entry.Cluster,
		Cached:   true,
		Age:      age.Truncate(time.Second).String(),
	}
}

func writeBalance(cmd *cobra.Command, report balanceReport) error {
	return formatterFor(cmd).Emit(report, func(w io.Writer) error {
		out(w, "%s SOL  %s (%s)", report.SOL, report.Address, report.Cluster)
		if report.Cached {
			out(w, "  cached %s ago", report.Age)
		}
		outln(w)
		return nil
	})
}
