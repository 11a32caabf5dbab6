package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swarmgate/gateway/internal/challengestore"
)

var (
	challengesDB      string
	challengesOutcome string
	challengesLimit   int
)

func init() {
	challengesCmd.Flags().StringVarP(&challengesDB, "db", "", "challenges.db", "path to the challenge ledger")
	challengesCmd.Flags().StringVarP(&challengesOutcome, "outcome", "", "", "filter by outcome: issued, accepted, rejected or unknown")
	challengesCmd.Flags().IntVarP(&challengesLimit, "limit", "n", 50, "max rows to print")

	rootCmd.AddCommand(challengesCmd)
}

var challengesCmd = &cobra.Command{
	Use:   "challenges",
	Short: "list issued payment challenges from the ledger",
	RunE:  doChallenges,
}

func doChallenges(cmd *cobra.Command, args []string) error {
	store, err := challengestore.New(challengesDB)
	if err != nil {
		return err
	}
	defer store.Close()

	challenges, err := store.List(context.Background(), challengesOutcome, challengesLimit)
	if err != nil {
		return fmt.Errorf("list challenges: %w", err)
	}

	fmt.Printf("ID\tClient\tAmount\tOutcome\tTxHash\tCreated\n")
	for _, c := range challenges {
		txHash := ""
		if c.TxHash != nil {
			txHash = *c.TxHash
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.ClientIP, c.Amount, c.Outcome, txHash, c.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}
